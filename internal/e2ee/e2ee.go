// Package e2ee implements the end-to-end encryption envelope used for pushes:
// PBKDF2 key derivation from the user's secret and AES-256-GCM decoding.
package e2ee

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeyIterations = 30000
	KeySize       = 32

	versionSize = 1
	tagSize     = 16
	ivSize      = 12
	headerSize  = versionSize + tagSize + ivSize

	envelopeVersion = '1'
)

var (
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrDecryptionFailed   = errors.New("decryption failed")
)

// DeriveKey stretches the user's secret into an AES-256 key. The salt is the
// account iden.
func DeriveKey(secret, salt string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(salt), KeyIterations, KeySize, sha256.New)
}

// Decrypt opens a base64 envelope laid out as version | tag | iv | ciphertext
// and returns the plaintext, which must be a JSON object.
func Decrypt(envelope string, key []byte) (json.RawMessage, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", ErrDecryptionFailed)
	}
	if len(raw) < versionSize {
		return nil, fmt.Errorf("%w: empty envelope", ErrDecryptionFailed)
	}
	if raw[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, raw[0])
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecryptionFailed)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrDecryptionFailed, KeySize)
	}
	tag := raw[versionSize : versionSize+tagSize]
	iv := raw[versionSize+tagSize : headerSize]
	ciphertext := raw[headerSize:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	if !isJSONObject(plaintext) {
		return nil, fmt.Errorf("%w: plaintext is not a JSON object", ErrDecryptionFailed)
	}
	return json.RawMessage(plaintext), nil
}

func isJSONObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
