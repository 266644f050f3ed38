// Package crypter provides the one-time symmetric encryption primitive used
// to seal node and block ciphertext under a per-node or per-block key.
//
// A key is never reused to encrypt two ciphertexts that can be live at the
// same time; the key-rotation protocol in pkg/keytree is what keeps that
// promise. That invariant is what makes deterministic counter-mode safe here
// without carrying a nonce alongside every ciphertext.
package crypter

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// KeySize is the symmetric key length in bytes, matched to AES-256.
const KeySize = 32

// Crypter is implemented by anything that can seal and open a buffer
// in place under a one-time key.
type Crypter interface {
	OnetimeEncrypt(key, buf []byte) error
	OnetimeDecrypt(key, buf []byte) error
}

// AES256CTR implements Crypter with AES in CTR mode and a fixed zero IV.
// CTR mode is a stream cipher: encrypt and decrypt are the same XOR
// operation, so both methods share an implementation.
type AES256CTR struct{}

// New returns the default Crypter implementation.
func New() *AES256CTR {
	return &AES256CTR{}
}

func (c *AES256CTR) OnetimeEncrypt(key, buf []byte) error {
	return c.xor(key, buf)
}

func (c *AES256CTR) OnetimeDecrypt(key, buf []byte) error {
	return c.xor(key, buf)
}

func (c *AES256CTR) xor(key, buf []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("crypter: key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("crypter: new cipher: %w", err)
	}

	var iv [aes.BlockSize]byte
	stream := cipher.NewCTR(block, iv[:])
	stream.XORKeyStream(buf, buf)
	return nil
}
