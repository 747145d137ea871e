// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// AT-REST SEALING (AES-256-GCM, PBKDF2-SHA-256)
// =============================================================================

const (
	// sealedPrefix marks a value sealed by a sealer.
	sealedPrefix = "ENC:"

	keySize  = 32
	saltSize = 32

	// pbkdf2Iterations follows the OWASP 2023 recommendation for SHA-256.
	pbkdf2Iterations = 600000
)

// sealer encrypts individual store values with a passphrase-derived key.
type sealer struct {
	aead cipher.AEAD
}

// newSalt returns a random salt for key derivation.
func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// newSealer derives a key from passphrase and salt and prepares AES-GCM.
func newSealer(passphrase string, salt []byte) (*sealer, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// seal encrypts plaintext with a fresh random nonce. The key name is bound
// as additional data so sealed values cannot be swapped between keys.
func (s *sealer) seal(key, plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(key))
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// open decrypts a value produced by seal.
func (s *sealer) open(key, sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", fmt.Errorf("value for %s is not sealed", key)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed %s: %w", key, err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("sealed %s is truncated", key)
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], []byte(key))
	if err != nil {
		return "", ErrBadPassphrase
	}
	return string(plain), nil
}

// zeroBytes overwrites key material once it is no longer needed.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
