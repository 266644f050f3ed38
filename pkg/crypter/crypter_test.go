package crypter

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := New()

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	buf := append([]byte(nil), plaintext...)

	if err := c.OnetimeEncrypt(key, buf); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(buf, plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	if err := c.OnetimeDecrypt(key, buf); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(buf, plaintext) {
		t.Errorf("got %q, want %q", buf, plaintext)
	}
}

func TestRejectsWrongKeySize(t *testing.T) {
	c := New()
	buf := []byte("data")
	if err := c.OnetimeEncrypt([]byte("too-short"), buf); err == nil {
		t.Error("expected error for short key")
	}
}

func TestDifferentKeysProduceDifferentCiphertext(t *testing.T) {
	c := New()
	key1 := bytes.Repeat([]byte{0x01}, KeySize)
	key2 := bytes.Repeat([]byte{0x02}, KeySize)

	plaintext := []byte("identical plaintext block")

	buf1 := append([]byte(nil), plaintext...)
	buf2 := append([]byte(nil), plaintext...)

	if err := c.OnetimeEncrypt(key1, buf1); err != nil {
		t.Fatalf("encrypt 1: %v", err)
	}
	if err := c.OnetimeEncrypt(key2, buf2); err != nil {
		t.Fatalf("encrypt 2: %v", err)
	}

	if bytes.Equal(buf1, buf2) {
		t.Error("different keys produced identical ciphertext")
	}
}
