// Package tokencipher encrypts provider tokens before they are persisted.
//
// The current scheme is AES-256-GCM with a per-call random salt feeding
// PBKDF2-SHA256 key derivation and a per-call random nonce. The output
// layout is base64(salt || nonce || tag || ciphertext). A legacy
// colon-delimited format from an earlier scheme remains readable forever;
// new writes always use the current scheme.
package tokencipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	secretEnvVar = "TOKEN_CIPHER_SECRET"

	saltSize   = 16
	nonceSize  = 12 // AES-GCM recommended nonce size (96 bits)
	tagSize    = 16
	keySize    = 32 // AES-256
	headerSize = saltSize + nonceSize + tagSize

	pbkdf2Iterations = 100_000

	legacySep = ":"
)

// DecryptionError reports a ciphertext that could not be decrypted:
// malformed encoding, truncated input, or failed authentication (tampered
// data or wrong master secret).
type DecryptionError struct {
	Reason string
	err    error
}

func (e *DecryptionError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("token decryption failed: %s: %v", e.Reason, e.err)
	}
	return fmt.Sprintf("token decryption failed: %s", e.Reason)
}

func (e *DecryptionError) Unwrap() error { return e.err }

var (
	secretOnce sync.Once
	secret     []byte
	loadErr    error
)

// loadSecret reads the master secret once. Absence is surfaced at first
// use rather than at process start.
func loadSecret() ([]byte, error) {
	secretOnce.Do(func() {
		v := strings.TrimSpace(os.Getenv(secretEnvVar))
		if v == "" {
			loadErr = fmt.Errorf("%s not set", secretEnvVar)
			return
		}
		secret = []byte(v)
	})
	return secret, loadErr
}

// Encrypt encrypts a plaintext token with the current scheme.
func Encrypt(plaintext string) (string, error) {
	master, err := loadSecret()
	if err != nil {
		return "", err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	aead, err := newGCM(pbkdf2.Key(master, salt, pbkdf2Iterations, keySize, sha256.New))
	if err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, headerSize+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt decrypts a blob produced by Encrypt.
func Decrypt(encoded string) (string, error) {
	master, err := loadSecret()
	if err != nil {
		return "", err
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid base64", err: err}
	}
	if len(blob) < headerSize {
		return "", &DecryptionError{Reason: fmt.Sprintf("input too short: %d bytes", len(blob))}
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	tag := blob[saltSize+nonceSize : headerSize]
	ciphertext := blob[headerSize:]

	aead, err := newGCM(pbkdf2.Key(master, salt, pbkdf2Iterations, keySize, sha256.New))
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, nonce, append(append([]byte{}, ciphertext...), tag...), nil)
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed", err: err}
	}
	return string(plaintext), nil
}

// DecryptLegacy reads the earlier ivHex:tagHex:ciphertextHex format, which
// derived its key as SHA-256 of the master secret with no salt. Kept for
// records written before the current scheme; Encrypt never produces it.
func DecryptLegacy(value string) (string, error) {
	master, err := loadSecret()
	if err != nil {
		return "", err
	}

	parts := strings.Split(value, legacySep)
	if len(parts) != 3 {
		return "", &DecryptionError{Reason: "malformed legacy value: want iv:tag:ciphertext"}
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", &DecryptionError{Reason: "invalid legacy iv", err: err}
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", &DecryptionError{Reason: "invalid legacy auth tag", err: err}
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", &DecryptionError{Reason: "invalid legacy ciphertext", err: err}
	}
	if len(nonce) != nonceSize || len(tag) != tagSize {
		return "", &DecryptionError{Reason: "bad legacy header sizes"}
	}

	key := sha256.Sum256(master)
	aead, err := newGCM(key[:])
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", &DecryptionError{Reason: "legacy authentication failed", err: err}
	}
	return string(plaintext), nil
}

// DecryptAny decrypts either format, picking the path by shape.
func DecryptAny(value string) (string, error) {
	if strings.Count(value, legacySep) == 2 {
		return DecryptLegacy(value)
	}
	return Decrypt(value)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// --- Test helpers ---

// UnsafeResetForTests clears the cached secret. Tests only.
func UnsafeResetForTests() {
	secretOnce = sync.Once{}
	secret = nil
	loadErr = nil
}

// UnsafeSetSecretForTests installs a raw master secret. Tests only.
func UnsafeSetSecretForTests(s []byte) {
	UnsafeResetForTests()
	secretOnce.Do(func() {
		secret = append([]byte{}, s...)
	})
}
