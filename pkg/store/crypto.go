package store

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// KeySize is the required encryption key length for AES-256.
const KeySize = 32

// envelopeMagic versions the on-disk format. Blobs that do not start with it
// were written by something else (or damaged) and are treated as unreadable.
var envelopeMagic = []byte("SSK1")

// Argon2 parameters (OWASP recommended)
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
)

// DeriveKey stretches a passphrase into an AES-256 key using Argon2id.
// The salt must be stable per installation or previously written records
// become undecryptable.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, KeySize)
}

// encrypt seals plaintext with AES-256-GCM. The envelope layout is
// magic || nonce || ciphertext.
func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, 0, len(envelopeMagic)+len(sealed))
	out = append(out, envelopeMagic...)
	return append(out, sealed...), nil
}

// decrypt opens an envelope produced by encrypt.
func decrypt(key, envelope []byte) ([]byte, error) {
	if !bytes.HasPrefix(envelope, envelopeMagic) {
		return nil, errors.New("unrecognized envelope format")
	}
	ciphertext := envelope[len(envelopeMagic):]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}
