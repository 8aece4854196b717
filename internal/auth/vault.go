package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
)

const (
	devKeyBits            = 2048
	defaultPublicKeyTTL   = time.Hour
	pemTypePublicKey      = "PUBLIC KEY"
	pemTypePrivateKey     = "PRIVATE KEY"
	pemTypeRSAPrivateKey  = "RSA PRIVATE KEY"
	escapedNewline        = `\n`
	errMsgNoRSAKeyInBlock = "no PEM block found"
)

// Vault protects credentials in transit and at rest. Clients encrypt
// passwords with the public key it publishes; the vault decrypts them and
// hashes them for storage.
//
// Thread Safety: all methods are safe for concurrent use.
type Vault struct {
	key *rsa.PrivateKey
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	cachedPEM string
	cachedAt  time.Time
}

// NewVault creates a vault around key. The public key PEM is cached for ttl.
func NewVault(key *rsa.PrivateKey, ttl time.Duration) *Vault {
	if ttl <= 0 {
		ttl = defaultPublicKeyTTL
	}
	return &Vault{key: key, ttl: ttl, now: time.Now}
}

// LoadPrivateKey resolves the RSA private key from configuration: the inline
// PEM first, then the key file. In development, when neither is set, an
// ephemeral key is generated and generated is true.
func LoadPrivateKey(cfg config.RSAConfig, development bool) (key *rsa.PrivateKey, generated bool, err error) {
	switch {
	case cfg.PrivateKey != "":
		key, err = ParsePrivateKeyPEM(cfg.PrivateKey)
		return key, false, err
	case cfg.PrivateKeyFile != "":
		data, readErr := os.ReadFile(cfg.PrivateKeyFile)
		if readErr != nil {
			return nil, false, fmt.Errorf("reading rsa key file: %w", readErr)
		}
		key, err = ParsePrivateKeyPEM(string(data))
		return key, false, err
	case development:
		key, err = GenerateVaultKey()
		return key, true, err
	default:
		return nil, false, errors.New("no rsa private key configured")
	}
}

// GenerateVaultKey creates a fresh 2048-bit key.
func GenerateVaultKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, devKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating rsa key: %w", err)
	}
	return key, nil
}

// ParsePrivateKeyPEM accepts PKCS#8 or PKCS#1 PEM. Literal "\n" sequences
// are turned into newlines first so a key can be passed in one env var line.
func ParsePrivateKeyPEM(s string) (*rsa.PrivateKey, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), escapedNewline, "\n")

	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("parsing rsa key: %s", errMsgNoRSAKeyInBlock)
	}

	switch block.Type {
	case pemTypeRSAPrivateKey:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing pkcs1 key: %w", err)
		}
		return key, nil
	case pemTypePrivateKey:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing pkcs8 key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("parsing pkcs8 key: not an rsa key")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("parsing rsa key: unexpected PEM type %q", block.Type)
	}
}

// Decrypt reverses client-side RSA-OAEP (SHA-256) encryption of a
// base64 ciphertext. Every failure is reported as ErrDecryption.
func (v *Vault) Decrypt(ciphertextB64 string) (string, error) {
	ciphertextB64 = strings.TrimSpace(ciphertextB64)
	if ciphertextB64 == "" {
		return "", ErrDecryption
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		ciphertext, err = base64.RawStdEncoding.DecodeString(ciphertextB64)
		if err != nil {
			return "", ErrDecryption
		}
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), nil, v.key, ciphertext, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

// Encrypt is the client-side half of Decrypt. The service never calls it;
// tests and tooling do.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &v.key.PublicKey, []byte(plaintext), nil)
	if err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// PublicKeyPEM returns the SPKI PEM of the public key. The encoding is
// computed on demand and reused until the TTL runs out.
func (v *Vault) PublicKeyPEM() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if v.cachedPEM != "" && now.Sub(v.cachedAt) < v.ttl {
		return v.cachedPEM, nil
	}

	der, err := x509.MarshalPKIXPublicKey(&v.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	v.cachedPEM = string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der}))
	v.cachedAt = now
	return v.cachedPEM, nil
}

// Hash hashes a decrypted password for storage.
func (v *Vault) Hash(plaintext string) (string, error) {
	return HashPassword(plaintext)
}

// Verify checks a decrypted password against a stored hash. A malformed
// hash verifies as false.
func (v *Vault) Verify(hash, plaintext string) bool {
	ok, err := VerifyPassword(plaintext, hash)
	return err == nil && ok
}
