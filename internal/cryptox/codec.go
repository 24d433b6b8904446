package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/graphvault/graphvault/internal/errors"
)

// ciphertextVersion prefixes every ciphertext so a future key ring can
// dispatch on key id without re-encrypting existing rows.
const ciphertextVersion = "v1"

// Codec performs authenticated encryption of token strings with a single
// process-wide AES-256 key. The key is immutable after construction.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec from a base64-encoded 32-byte key. An absent or
// malformed key is a construction error so the process fails at startup, not
// on the first token operation.
func NewCodec(encodedKey string) (*Codec, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Codec{aead: aead}, nil
}

// Encrypt seals a plaintext token and returns "v1:" + base64(nonce || ct).
// A fresh random nonce is used per call.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return ciphertextVersion + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any blob not produced by Encrypt under the same
// key — wrong key, truncation, tampering, unknown version — fails with
// *errors.ErrIntegrity and never yields a plausible plaintext.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	version, encoded, ok := strings.Cut(ciphertext, ":")
	if !ok || version != ciphertextVersion {
		return "", &errors.ErrIntegrity{Err: fmt.Errorf("unknown ciphertext version %q", version)}
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &errors.ErrIntegrity{Err: err}
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", &errors.ErrIntegrity{Err: fmt.Errorf("ciphertext shorter than nonce")}
	}

	nonce, data := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", &errors.ErrIntegrity{Err: err}
	}

	return string(plaintext), nil
}

// GenerateKey returns a fresh base64-encoded 32-byte key, used by the CLI
// setup helper.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
