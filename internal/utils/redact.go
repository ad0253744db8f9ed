package utils

import "strings"

const redactedMask = "****"

type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }

// Redact masks every non-empty secret in err's message. The original error
// remains reachable through errors.Is and errors.As.
func Redact(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	changed := false
	for _, s := range secrets {
		if s == "" || !strings.Contains(msg, s) {
			continue
		}
		msg = strings.ReplaceAll(msg, s, redactedMask)
		changed = true
	}
	if !changed {
		return err
	}
	return &redactedError{msg: msg, cause: err}
}
