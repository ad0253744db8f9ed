package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// ErrMasterKeyNotFound is returned when no key source holds a master key.
var ErrMasterKeyNotFound = errors.New("master key not found")

// KeySource supplies the vault master key.
type KeySource interface {
	MasterKey() ([]byte, error)
}

// EnvKeySource reads a base64 or hex encoded key from an environment variable.
type EnvKeySource struct {
	Name   string
	lookup func(string) (string, bool)
}

func NewEnvKeySource(name string) *EnvKeySource {
	return &EnvKeySource{Name: name, lookup: os.LookupEnv}
}

func (s *EnvKeySource) MasterKey() ([]byte, error) {
	v, ok := s.lookup(s.Name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil, fmt.Errorf("%w: environment variable %s is not set", ErrMasterKeyNotFound, s.Name)
	}
	return DecodeMasterKey(v)
}

// KeyringKeySource reads the key from the OS credential store.
type KeyringKeySource struct {
	Service string
	User    string
}

func NewKeyringKeySource(service, user string) *KeyringKeySource {
	return &KeyringKeySource{Service: service, User: user}
}

func (s *KeyringKeySource) MasterKey() ([]byte, error) {
	v, err := keyring.Get(s.Service, s.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: no keyring entry for %s/%s", ErrMasterKeyNotFound, s.Service, s.User)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	return DecodeMasterKey(v)
}

// Store writes key to the OS credential store as base64.
func (s *KeyringKeySource) Store(key []byte) error {
	if len(key) != 32 {
		return ErrInvalidKeyLength
	}
	return keyring.Set(s.Service, s.User, base64.StdEncoding.EncodeToString(key))
}

// ChainKeySource returns the first key any source yields. Sources that report
// ErrMasterKeyNotFound are skipped; any other failure stops the chain.
type ChainKeySource []KeySource

func (c ChainKeySource) MasterKey() ([]byte, error) {
	for _, src := range c {
		key, err := src.MasterKey()
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrMasterKeyNotFound) {
			return nil, err
		}
	}
	return nil, ErrMasterKeyNotFound
}

// DecodeMasterKey accepts a 32-byte key encoded as standard base64 or hex.
func DecodeMasterKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if key, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(key) == 32 {
		return key, nil
	}
	if key, err := hex.DecodeString(encoded); err == nil && len(key) == 32 {
		return key, nil
	}
	return nil, ErrInvalidKeyLength
}

// GenerateMasterKey returns a fresh random 32-byte key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// NewVaultFromSource builds a vault from the key held by src.
func NewVaultFromSource(src KeySource) (*CredentialVault, error) {
	key, err := src.MasterKey()
	if err != nil {
		return nil, err
	}
	return NewCredentialVault(key)
}
