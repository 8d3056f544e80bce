package tokencrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Cipher encrypts OAuth tokens before they hit the database. The key is
// derived from a passphrase so deployments only manage one secret. An empty
// passphrase disables encryption (local development).
type Cipher struct {
	key     [32]byte
	enabled bool
}

func New(passphrase string) *Cipher {
	c := &Cipher{}
	if passphrase == "" {
		return c
	}
	c.key = sha256.Sum256([]byte(passphrase))
	c.enabled = true
	return c
}

// Encrypt seals plaintext with a random nonce and returns base64.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if !c.enabled || plaintext == "" {
		return plaintext, nil
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("unable to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if !c.enabled || ciphertext == "" {
		return ciphertext, nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("unable to decode token: %w", err)
	}
	if len(raw) < 24 {
		return "", errors.New("token ciphertext too short")
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &c.key)
	if !ok {
		return "", errors.New("unable to decrypt token")
	}
	return string(plain), nil
}
