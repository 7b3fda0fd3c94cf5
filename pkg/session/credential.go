// pkg/session/credential.go
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"guardian_voting/pkg/config"
	"guardian_voting/pkg/utils"
)

const (
	// Key derivation parameters
	saltLength = 32
	keyLength  = 32

	minKeyMaterialLength = 16
)

// Error variables for consistent error handling
var (
	ErrInvalidCredential  = errors.New("invalid guardian credential")
	ErrCredentialNotFound = errors.New("credential not found in vault")
)

var validation utils.ValidationHelper

// Credential is one guardian's opaque decryption key material for one
// election. The client never interprets it, only stores and forwards it.
type Credential struct {
	ElectionID    string `json:"election_id"`
	GuardianEmail string `json:"guardian_email"`
	Sequence      int    `json:"sequence,omitempty"`
	KeyMaterial   string `json:"key_material"`
}

// ParseCredential decodes and validates a credential file's contents
func ParseCredential(raw []byte) (*Credential, error) {
	var credential Credential
	if err := json.Unmarshal(raw, &credential); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if err := credential.Validate(); err != nil {
		return nil, err
	}
	return &credential, nil
}

// Validate checks the credential's shape without interpreting the key material
func (c *Credential) Validate() error {
	if c.ElectionID == "" {
		return fmt.Errorf("%w: missing election ID", ErrInvalidCredential)
	}
	if !validation.ValidateEmail(c.GuardianEmail) {
		return fmt.Errorf("%w: malformed guardian email", ErrInvalidCredential)
	}
	if len(c.KeyMaterial) < minKeyMaterialLength {
		return fmt.Errorf("%w: key material too short", ErrInvalidCredential)
	}
	return nil
}

// Fingerprint returns a SHA-256 digest of the key material, safe to log and
// audit in place of the material itself
func (c *Credential) Fingerprint() string {
	hash := sha256.Sum256([]byte(c.KeyMaterial))
	return hex.EncodeToString(hash[:])
}

// Vault keeps guardian credentials encrypted at rest between sessions
type Vault struct {
	dir        string
	passphrase []byte
	iterations int
	files      utils.FileHelper
	logger     *zap.Logger
}

// NewVault creates a credential vault rooted at the configured directory
func NewVault(cfg *config.SessionConfig, passphrase string, logger *zap.Logger) (*Vault, error) {
	if cfg.CredentialDir == "" {
		return nil, fmt.Errorf("credential directory cannot be empty")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("vault passphrase cannot be empty")
	}

	v := &Vault{
		dir:        cfg.CredentialDir,
		passphrase: []byte(passphrase),
		iterations: cfg.VaultKeyIters,
		logger:     logger,
	}
	if err := v.files.EnsureDirectory(v.dir, 0o700); err != nil {
		return nil, fmt.Errorf("preparing credential directory: %w", err)
	}
	return v, nil
}

// Store encrypts a credential and writes it to the vault
func (v *Vault) Store(credential *Credential) error {
	if err := credential.Validate(); err != nil {
		return err
	}

	plaintext, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}

	salt, err := generateSalt()
	if err != nil {
		return err
	}

	sealed, err := seal(deriveKey(v.passphrase, salt, v.iterations), plaintext)
	if err != nil {
		return fmt.Errorf("encrypting credential: %w", err)
	}

	// File layout: salt then nonce-prefixed ciphertext
	payload := append(salt, sealed...)
	path := v.credentialPath(credential.ElectionID, credential.GuardianEmail)
	if err := v.files.WriteFileSafely(path, payload, 0o600); err != nil {
		return fmt.Errorf("writing credential file: %w", err)
	}

	v.logger.Info("Credential stored",
		zap.String("electionId", credential.ElectionID),
		zap.String("fingerprint", credential.Fingerprint()[:12]))
	return nil
}

// Load decrypts a credential from the vault
func (v *Vault) Load(electionID, guardianEmail string) (*Credential, error) {
	path := v.credentialPath(electionID, guardianEmail)
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("reading credential file: %w", err)
	}
	if len(payload) <= saltLength {
		return nil, fmt.Errorf("%w: vault file truncated", ErrInvalidCredential)
	}

	salt, sealed := payload[:saltLength], payload[saltLength:]
	plaintext, err := open(deriveKey(v.passphrase, salt, v.iterations), sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypting credential: %w", err)
	}

	return ParseCredential(plaintext)
}

// Delete removes a credential from the vault
func (v *Vault) Delete(electionID, guardianEmail string) error {
	path := v.credentialPath(electionID, guardianEmail)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("removing credential file: %w", err)
	}
	return nil
}

// Helper functions

func (v *Vault) credentialPath(electionID, guardianEmail string) string {
	// Filenames derive from a digest so emails never appear on disk
	sum := sha256.Sum256([]byte(electionID + "|" + guardianEmail))
	return filepath.Join(v.dir, hex.EncodeToString(sum[:8])+".cred")
}

func deriveKey(passphrase, salt []byte, iterations int) []byte {
	return pbkdf2.Key(passphrase, salt, iterations, keyLength, sha256.New)
}

func generateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

func seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting data: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
