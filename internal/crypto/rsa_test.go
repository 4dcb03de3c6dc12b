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
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealUnsealRoundtrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	plain := []byte(`{"someuser":["somepassword"]}`)
	sealed, err := SealPayload(plain, &key.PublicKey)
	require.NoError(t, err)

	got, err := UnsealPayload(sealed, key)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestUnsealRejectsRawJSON(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// A raw ingestion file has no payload field; the caller falls back
	// to parsing it directly.
	_, err = UnsealPayload([]byte(`{"someuser":["somepassword"]}`), key)
	require.Error(t, err)

	_, err = UnsealPayload([]byte(`not json at all`), key)
	require.Error(t, err)
}

func TestParseRSAPrivateKeyForms(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pkcs1 := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	got, err := ParseRSAPrivateKey(string(pkcs1))
	require.NoError(t, err)
	require.True(t, key.Equal(got))

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	got, err = ParseRSAPrivateKey(string(pkcs8))
	require.NoError(t, err)
	require.True(t, key.Equal(got))

	_, err = ParseRSAPrivateKey("not a key")
	require.Error(t, err)
}
