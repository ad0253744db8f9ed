package security

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"querybridge/internal/utils"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestCredentialVault_RoundTrip(t *testing.T) {
	vault, err := NewCredentialVault(testKey(7))
	require.NoError(t, err)

	for _, secret := range []string{"s3cret", "", "postgres://u:p@h:5432/db?sslmode=require", "ünïcødé"} {
		ct, err := vault.Encrypt(secret)
		require.NoError(t, err)
		assert.NotContains(t, ct, secret+"x")

		pt, err := vault.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, secret, pt)
	}
}

func TestCredentialVault_NonceIsRandom(t *testing.T) {
	vault, err := NewCredentialVault(testKey(1))
	require.NoError(t, err)

	a, err := vault.Encrypt("same")
	require.NoError(t, err)
	b, err := vault.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCredentialVault_DecryptFailures(t *testing.T) {
	vault, err := NewCredentialVault(testKey(1))
	require.NoError(t, err)
	other, err := NewCredentialVault(testKey(2))
	require.NoError(t, err)

	ct, err := vault.Encrypt("s3cret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	corrupted := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name   string
		vault  *CredentialVault
		cipher string
	}{
		{"wrong key", other, ct},
		{"not base64", vault, "%%%"},
		{"too short", vault, base64.StdEncoding.EncodeToString([]byte("abc"))},
		{"corrupted", vault, corrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.vault.Decrypt(tt.cipher)
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrDecryption))
			assert.NotContains(t, err.Error(), "s3cret")
		})
	}
}

func TestNewCredentialVault_KeyLength(t *testing.T) {
	_, err := NewCredentialVault([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestDecodeMasterKey(t *testing.T) {
	key := testKey(9)

	got, err := DecodeMasterKey(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	got, err = DecodeMasterKey(hex.EncodeToString(key) + "\n")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = DecodeMasterKey("dG9vIHNob3J0")
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestEnvKeySource(t *testing.T) {
	key := testKey(3)
	env := map[string]string{"QB_KEY": base64.StdEncoding.EncodeToString(key)}
	src := &EnvKeySource{Name: "QB_KEY", lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	got, err := src.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)

	missing := &EnvKeySource{Name: "QB_MISSING", lookup: src.lookup}
	_, err = missing.MasterKey()
	assert.ErrorIs(t, err, ErrMasterKeyNotFound)
}

func TestKeyringKeySource(t *testing.T) {
	keyring.MockInit()

	src := NewKeyringKeySource("querybridge-test", "master")
	_, err := src.MasterKey()
	assert.ErrorIs(t, err, ErrMasterKeyNotFound)

	key := testKey(4)
	require.NoError(t, src.Store(key))

	got, err := src.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)

	assert.ErrorIs(t, src.Store([]byte("short")), ErrInvalidKeyLength)
}

func TestChainKeySource(t *testing.T) {
	keyring.MockInit()

	key := testKey(5)
	kr := NewKeyringKeySource("querybridge-chain", "master")
	require.NoError(t, kr.Store(key))

	empty := &EnvKeySource{Name: "UNSET", lookup: func(string) (string, bool) { return "", false }}
	vault, err := NewVaultFromSource(ChainKeySource{empty, kr})
	require.NoError(t, err)

	ct, err := vault.Encrypt("pw")
	require.NoError(t, err)
	pt, err := vault.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "pw", pt)

	_, err = ChainKeySource{empty}.MasterKey()
	assert.ErrorIs(t, err, ErrMasterKeyNotFound)

	bad := &EnvKeySource{Name: "BAD", lookup: func(string) (string, bool) { return "nope", true }}
	_, err = ChainKeySource{bad, kr}.MasterKey()
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}
