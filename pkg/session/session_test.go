package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"guardian_voting/pkg/config"
)

func TestManager(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := &config.SessionConfig{
		TokenSecret: "test-secret",
		TokenExpiry: time.Hour,
	}

	manager, err := NewManager(cfg, logger)
	require.NoError(t, err)

	t.Run("IssueAndParse", func(t *testing.T) {
		token, err := manager.IssueToken("voter@example.com", "Ana Cruz", []string{RoleVoter})
		require.NoError(t, err)

		identity, err := manager.ParseToken(token)
		require.NoError(t, err)

		assert.Equal(t, "voter@example.com", identity.Email)
		assert.Equal(t, "Ana Cruz", identity.Name)
		assert.True(t, identity.IsVoter())
		assert.False(t, identity.IsGuardian())
		assert.False(t, identity.ExpiresAt.IsZero())
	})

	t.Run("RoleHelpers", func(t *testing.T) {
		identity := &Identity{Roles: []string{"Guardian", "admin"}}

		assert.True(t, identity.IsGuardian())
		assert.True(t, identity.IsAdmin())
		assert.False(t, identity.IsVoter())
		assert.True(t, identity.HasRole("GUARDIAN"))
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other, err := NewManager(&config.SessionConfig{
			TokenSecret: "different-secret",
			TokenExpiry: time.Hour,
		}, logger)
		require.NoError(t, err)

		token, err := other.IssueToken("voter@example.com", "", []string{RoleVoter})
		require.NoError(t, err)

		_, err = manager.ParseToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		expired, err := NewManager(&config.SessionConfig{
			TokenSecret: "test-secret",
			TokenExpiry: -time.Hour,
		}, logger)
		require.NoError(t, err)

		token, err := expired.IssueToken("voter@example.com", "", []string{RoleVoter})
		require.NoError(t, err)

		_, err = manager.ParseToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := manager.ParseToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("EmptySecret", func(t *testing.T) {
		_, err := NewManager(&config.SessionConfig{TokenExpiry: time.Hour}, logger)
		assert.Error(t, err)
	})
}

func TestCredential(t *testing.T) {
	t.Run("ParseValid", func(t *testing.T) {
		raw := []byte(`{
			"election_id": "el-1",
			"guardian_email": "guardian-a@example.com",
			"sequence": 2,
			"key_material": "b64-guardian-key-material-0001"
		}`)

		credential, err := ParseCredential(raw)
		require.NoError(t, err)
		assert.Equal(t, "el-1", credential.ElectionID)
		assert.Equal(t, 2, credential.Sequence)
	})

	t.Run("MissingEmail", func(t *testing.T) {
		raw := []byte(`{"election_id": "el-1", "key_material": "b64-guardian-key-material-0001"}`)
		_, err := ParseCredential(raw)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("MalformedEmail", func(t *testing.T) {
		raw := []byte(`{"election_id": "el-1", "guardian_email": "not-an-address", "key_material": "b64-guardian-key-material-0001"}`)
		_, err := ParseCredential(raw)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("ShortKeyMaterial", func(t *testing.T) {
		raw := []byte(`{"election_id": "el-1", "guardian_email": "g@example.com", "key_material": "short"}`)
		_, err := ParseCredential(raw)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("NotJSON", func(t *testing.T) {
		_, err := ParseCredential([]byte("-----BEGIN KEY-----"))
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("Fingerprint", func(t *testing.T) {
		a := &Credential{ElectionID: "el-1", GuardianEmail: "g@example.com", KeyMaterial: "b64-guardian-key-material-0001"}
		b := &Credential{ElectionID: "el-1", GuardianEmail: "g@example.com", KeyMaterial: "b64-guardian-key-material-0002"}

		assert.Len(t, a.Fingerprint(), 64)
		assert.Equal(t, a.Fingerprint(), a.Fingerprint())
		assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	})
}

func TestVault(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := &config.SessionConfig{
		CredentialDir: t.TempDir(),
		VaultKeyIters: 10000,
	}

	vault, err := NewVault(cfg, "vault-passphrase", logger)
	require.NoError(t, err)

	credential := &Credential{
		ElectionID:    "el-1",
		GuardianEmail: "guardian-a@example.com",
		Sequence:      1,
		KeyMaterial:   "b64-guardian-key-material-0001",
	}

	t.Run("StoreAndLoad", func(t *testing.T) {
		require.NoError(t, vault.Store(credential))

		loaded, err := vault.Load("el-1", "guardian-a@example.com")
		require.NoError(t, err)
		assert.Equal(t, credential.KeyMaterial, loaded.KeyMaterial)
		assert.Equal(t, credential.Sequence, loaded.Sequence)
	})

	t.Run("WrongPassphrase", func(t *testing.T) {
		other, err := NewVault(cfg, "wrong-passphrase", logger)
		require.NoError(t, err)

		_, err = other.Load("el-1", "guardian-a@example.com")
		assert.Error(t, err)
	})

	t.Run("MissingCredential", func(t *testing.T) {
		_, err := vault.Load("el-1", "nobody@example.com")
		assert.ErrorIs(t, err, ErrCredentialNotFound)
	})

	t.Run("TamperedFile", func(t *testing.T) {
		tampered := &Credential{
			ElectionID:    "el-2",
			GuardianEmail: "guardian-b@example.com",
			KeyMaterial:   "b64-guardian-key-material-0002",
		}
		require.NoError(t, vault.Store(tampered))

		// Flip one ciphertext byte on disk
		entries, err := os.ReadDir(cfg.CredentialDir)
		require.NoError(t, err)
		for _, entry := range entries {
			path := filepath.Join(cfg.CredentialDir, entry.Name())
			payload, err := os.ReadFile(path)
			require.NoError(t, err)
			payload[len(payload)-1] ^= 0xff
			require.NoError(t, os.WriteFile(path, payload, 0o600))
		}

		_, err = vault.Load("el-2", "guardian-b@example.com")
		assert.Error(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, vault.Store(credential))
		require.NoError(t, vault.Delete("el-1", "guardian-a@example.com"))

		_, err := vault.Load("el-1", "guardian-a@example.com")
		assert.ErrorIs(t, err, ErrCredentialNotFound)

		assert.ErrorIs(t, vault.Delete("el-1", "guardian-a@example.com"), ErrCredentialNotFound)
	})
}
