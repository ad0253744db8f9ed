package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"vitess.io/vitess/go/vt/sqlparser"

	"querybridge/internal/model"
	"querybridge/internal/utils"
)

// Validation errors; compare with errors.Is.
var (
	ErrEmptySQL            = utils.ErrEmptySQL
	ErrDangerousOperation  = utils.ErrDangerousOperation
	ErrDisallowedStatement = utils.ErrDisallowedStatement
	ErrMalformedCTE        = utils.ErrMalformedCTE
)

type dangerousOperation struct {
	name    string
	pattern *regexp.Regexp
}

// Matched as whole words, case-insensitively, anywhere in the text.
// String literals and comments are not excluded.
var dangerousOperations = []dangerousOperation{
	{"DROP", regexp.MustCompile(`(?i)\bDROP\b`)},
	{"TRUNCATE", regexp.MustCompile(`(?i)\bTRUNCATE\b`)},
	{"DELETE FROM", regexp.MustCompile(`(?i)\bDELETE\s+FROM\b`)},
	{"UPDATE", regexp.MustCompile(`(?i)\bUPDATE\b`)},
	{"INSERT INTO", regexp.MustCompile(`(?i)\bINSERT\s+INTO\b`)},
	{"ALTER", regexp.MustCompile(`(?i)\bALTER\b`)},
	{"CREATE", regexp.MustCompile(`(?i)\bCREATE\b`)},
	{"GRANT", regexp.MustCompile(`(?i)\bGRANT\b`)},
	{"REVOKE", regexp.MustCompile(`(?i)\bREVOKE\b`)},
	{"EXEC(", regexp.MustCompile(`(?i)\bEXEC\s*\(`)},
	{"EXECUTE(", regexp.MustCompile(`(?i)\bEXECUTE\s*\(`)},
}

var (
	fencePattern  = regexp.MustCompile("(?i)```(?:sql)?")
	selectPattern = regexp.MustCompile(`(?i)\bSELECT\b`)

	allowedPrefixes = []string{"SELECT", "WITH", "EXPLAIN", "DESCRIBE", "SHOW", "("}
)

// SQLValidator enforces the read-only contract on SQL text before it reaches
// a live connection.
type SQLValidator struct {
	strict bool
	parser *sqlparser.Parser
}

type ValidatorOption func(*SQLValidator)

// WithStrictParsing additionally parses each statement and rejects any that
// parses as something other than a read-only query. Statements the parser
// cannot handle are left to the keyword checks.
func WithStrictParsing(enabled bool) ValidatorOption {
	return func(sv *SQLValidator) {
		sv.strict = enabled
	}
}

// NewSQLValidator creates a new SQLValidator instance
func NewSQLValidator(opts ...ValidatorOption) *SQLValidator {
	sv := &SQLValidator{}
	for _, opt := range opts {
		opt(sv)
	}
	if sv.strict {
		sv.parser = sqlparser.NewTestParser()
	}
	return sv
}

var defaultValidator = NewSQLValidator()

// ValidateAndCleanSQL applies the default validator.
func ValidateAndCleanSQL(sql string) (string, error) {
	return defaultValidator.ValidateAndClean(sql)
}

// ValidateAndClean strips formatting artifacts and returns the cleaned text,
// or a typed error if the statement is not a read-only query.
func (sv *SQLValidator) ValidateAndClean(sql string) (string, error) {
	cleaned := CleanSQL(sql)

	if cleaned == "" {
		return "", utils.NewErrorBuilder(utils.ErrCodeEmptySQL).Build()
	}

	for _, op := range dangerousOperations {
		if op.pattern.MatchString(cleaned) {
			return "", utils.NewErrorBuilder(utils.ErrCodeDangerousOperation).
				WithMessage("Dangerous SQL operation detected: " + op.name).
				Build()
		}
	}

	upper := strings.ToUpper(cleaned)
	if !hasAllowedPrefix(upper) {
		return "", utils.NewErrorBuilder(utils.ErrCodeDisallowedStatement).
			WithMessage(fmt.Sprintf("Only SELECT, WITH, EXPLAIN, DESCRIBE, SHOW queries are allowed. Got: %s",
				model.Truncate(cleaned, 50))).
			Build()
	}

	if strings.HasPrefix(upper, "WITH") && !selectPattern.MatchString(cleaned) {
		return "", utils.NewErrorBuilder(utils.ErrCodeMalformedCTE).Build()
	}

	if sv.strict {
		if err := sv.checkParsedStatements(cleaned); err != nil {
			return "", err
		}
	}

	return cleaned, nil
}

// CleanSQL removes markdown code fences and strips whitespace and backticks
// from both edges until nothing changes, so cleaning twice equals cleaning once.
func CleanSQL(sql string) string {
	cleaned := sql
	for {
		next := fencePattern.ReplaceAllString(cleaned, "")
		next = strings.TrimFunc(next, isEdgeNoise)
		if next == cleaned {
			return cleaned
		}
		cleaned = next
	}
}

func isEdgeNoise(r rune) bool {
	return r == '`' || unicode.IsSpace(r)
}

func hasAllowedPrefix(upper string) bool {
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

func (sv *SQLValidator) checkParsedStatements(sql string) error {
	pieces, err := sv.parser.SplitStatementToPieces(sql)
	if err != nil {
		return nil
	}

	for _, piece := range pieces {
		stmt, err := sv.parser.Parse(piece)
		if err != nil {
			continue
		}
		if !isReadOnlyStatement(stmt) {
			return utils.NewErrorBuilder(utils.ErrCodeDisallowedStatement).
				WithMessage(fmt.Sprintf("Only read-only statements are allowed. Got: %s", model.Truncate(strings.TrimSpace(piece), 50))).
				WithDetail("statement", fmt.Sprintf("%T", stmt)).
				Build()
		}
	}
	return nil
}

func isReadOnlyStatement(stmt sqlparser.Statement) bool {
	switch stmt.(type) {
	case *sqlparser.Select, *sqlparser.Union:
		return true
	case *sqlparser.Show, *sqlparser.ExplainStmt, *sqlparser.ExplainTab:
		return true
	default:
		return false
	}
}
