package connector

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Decryptor turns one stored credential value into its plaintext.
type Decryptor interface {
	Decrypt(cipherText string) (string, error)
}

// Encryptor is the inverse; used by seeding tools and tests.
type Encryptor interface {
	Encrypt(plainText string) (string, error)
}

// AESCipher implements AES-256-GCM credential encryption with a process-wide
// master key. Stored values are base64(nonce || ciphertext).
type AESCipher struct {
	aead cipher.AEAD
}

func NewAESCipher(key []byte) (*AESCipher, error) {
	if len(key) != 32 {
		return nil, errors.New("master key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESCipher{aead: aead}, nil
}

// NewAESCipherFromBase64 builds a cipher from a base64-encoded 32-byte key.
func NewAESCipherFromBase64(encoded string) (*AESCipher, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	return NewAESCipher(key)
}

func (c *AESCipher) Encrypt(plainText string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AESCipher) Decrypt(cipherText string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", fmt.Errorf("decode credential: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", errors.New("credential too short")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open credential: %w", err)
	}
	return string(plain), nil
}

// DecryptCredentials decrypts every credential on the connector for use by a
// single invocation of the named action. The plaintext map is returned to
// the caller and never attached to the connector, so decrypted material does
// not outlive the call.
func DecryptCredentials(c Connector, actionType string, d Decryptor) (map[string]string, error) {
	if len(c.Credential) == 0 {
		return map[string]string{}, nil
	}
	if d == nil {
		return nil, fmt.Errorf("connector %s carries credentials but no master key is configured", c.Name)
	}
	out := make(map[string]string, len(c.Credential))
	for k, v := range c.Credential {
		plain, err := d.Decrypt(v)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential %q for action %s: %w", k, actionType, err)
		}
		out[k] = plain
	}
	return out, nil
}
