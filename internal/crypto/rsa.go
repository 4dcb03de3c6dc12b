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

package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"

	"github.com/pkg/errors"
)

// envelope is the sealed form of the account ingestion file.
type envelope struct {
	Payload string `json:"payload"`
}

// ParseRSAPrivateKey reads a PEM-encoded RSA private key in either
// PKCS#1 or PKCS#8 form.
func ParseRSAPrivateKey(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("no PEM block in RSA private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing RSA private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("private key is %T, not RSA", parsed)
	}
	return key, nil
}

// UnsealPayload interprets raw as a {"payload": base64} envelope whose
// payload is RSA-OAEP(SHA-256) encrypted under key, and returns the
// decrypted text. Any decode failure is returned so the caller can fall
// back to treating the file as plain text.
func UnsealPayload(raw []byte, key *rsa.PrivateKey) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "decoding payload envelope")
	}
	if env.Payload == "" {
		return nil, errors.New("envelope has no payload")
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "decoding payload base64")
	}
	plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decrypting payload")
	}
	return plain, nil
}

// SealPayload is the inverse of UnsealPayload. Runs never seal, but the
// codec lives here so producers and tests share one implementation.
func SealPayload(plain []byte, key *rsa.PublicKey) ([]byte, error) {
	sealed, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, plain, nil)
	if err != nil {
		return nil, errors.Wrap(err, "encrypting payload")
	}
	return json.Marshal(envelope{Payload: base64.StdEncoding.EncodeToString(sealed)})
}
