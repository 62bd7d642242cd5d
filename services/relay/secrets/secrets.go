// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package secrets encrypts connection strings at rest. Values written to
// config files can carry an "enc:" prefix; the keychain decrypts them at
// load time. The derived AES key lives in a memguard enclave so it is
// never resident in plain process memory between uses.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
)

// Prefix marks an encrypted value.
const Prefix = "enc:"

// Keychain derives an AES-256 key from a secret and seals/unseals
// configuration values with it.
//
// # Thread Safety
//
// Safe for concurrent use; the enclave handles its own locking.
type Keychain struct {
	enclave *memguard.Enclave
}

// NewKeychain derives the encryption key from the given secret.
// The secret is typically the AIW_SECRET_KEY environment variable.
func NewKeychain(secret string) (*Keychain, error) {
	if secret == "" {
		return nil, fmt.Errorf("secrets: empty key material")
	}
	sum := sha256.Sum256([]byte(secret))
	return &Keychain{enclave: memguard.NewEnclave(sum[:])}, nil
}

// IsEncrypted reports whether the value carries the encrypted prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

func (k *Keychain) gcm() (cipher.AEAD, *memguard.LockedBuffer, error) {
	buf, err := k.enclave.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("secrets: open key enclave: %w", err)
	}
	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, nil, fmt.Errorf("secrets: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		buf.Destroy()
		return nil, nil, fmt.Errorf("secrets: init gcm: %w", err)
	}
	return aead, buf, nil
}

// Encrypt seals a plaintext value, returning "enc:" + base64(nonce|ciphertext).
// Already-encrypted values are returned unchanged.
func (k *Keychain) Encrypt(plaintext string) (string, error) {
	if IsEncrypted(plaintext) {
		return plaintext, nil
	}
	aead, buf, err := k.gcm()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt unseals a value produced by Encrypt. Values without the
// prefix are returned as-is.
func (k *Keychain) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("secrets: decode ciphertext: %w", err)
	}
	aead, buf, err := k.gcm()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()

	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("secrets: ciphertext shorter than nonce")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt failed: %w", err)
	}
	return string(plaintext), nil
}
