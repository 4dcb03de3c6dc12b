/*
Copyright 2026 The ManifestHub Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package crypto seals account secrets at rest and unseals the account
// ingestion payload. Keys are process-wide: one 256-bit AES key from the
// CLI, one optional RSA private key from the environment.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
)

// KeySize is the only accepted AES key length, in bytes.
const KeySize = 32

// NewIV returns a fresh random CBC initialization vector.
func NewIV() ([]byte, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "generating IV")
	}
	return iv, nil
}

// EncryptString seals a secret with AES-256-CBC and PKCS#7 padding,
// returning the ciphertext base64-encoded. Empty secrets pass through
// unchanged so that absent fields stay absent on the wire.
func EncryptString(plain string, key, iv []byte) (string, error) {
	if plain == "" {
		return "", nil
	}
	block, err := newBlock(key)
	if err != nil {
		return "", err
	}
	if err := checkIV(iv); err != nil {
		return "", err
	}
	padded := pad([]byte(plain))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptString reverses EncryptString. Empty input passes through.
func DecryptString(sealed string, key, iv []byte) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", errors.Wrap(err, "decoding ciphertext")
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", errors.Errorf("ciphertext length %d is not a multiple of the block size", len(raw))
	}
	block, err := newBlock(key)
	if err != nil {
		return "", err
	}
	if err := checkIV(iv); err != nil {
		return "", err
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, raw)
	plain, err := unpad(out)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, errors.Errorf("AES key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "initializing cipher")
	}
	return block, nil
}

// checkIV rejects malformed IVs before they reach the CBC constructors,
// which panic instead of returning an error.
func checkIV(iv []byte) error {
	if len(iv) != aes.BlockSize {
		return errors.Errorf("IV must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	return nil
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext after decryption")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errors.New("invalid PKCS#7 padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid PKCS#7 padding")
		}
	}
	return data[:len(data)-n], nil
}
