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
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	iv, err := NewIV()
	require.NoError(t, err)

	for _, plain := range []string{
		"hunter2",
		"p",
		"exactly sixteen!",
		strings.Repeat("long refresh token ", 40),
		"unicode: пароль ★",
	} {
		sealed, err := EncryptString(plain, testKey(), iv)
		require.NoError(t, err)
		require.NotEqual(t, plain, sealed)

		got, err := DecryptString(sealed, testKey(), iv)
		require.NoError(t, err)
		require.Equal(t, plain, got)
	}
}

func TestEmptySecretPassesThrough(t *testing.T) {
	iv, err := NewIV()
	require.NoError(t, err)

	sealed, err := EncryptString("", testKey(), iv)
	require.NoError(t, err)
	require.Equal(t, "", sealed)

	plain, err := DecryptString("", testKey(), iv)
	require.NoError(t, err)
	require.Equal(t, "", plain)
}

func TestEncryptRejectsShortKey(t *testing.T) {
	iv, err := NewIV()
	require.NoError(t, err)

	_, err = EncryptString("secret", []byte("short"), iv)
	require.Error(t, err)
}

func TestRejectsMalformedIV(t *testing.T) {
	iv, err := NewIV()
	require.NoError(t, err)
	sealed, err := EncryptString("secret", testKey(), iv)
	require.NoError(t, err)

	// An absent IV decodes to zero bytes; the CBC constructors panic on
	// that, so it must be rejected up front.
	for _, bad := range [][]byte{nil, {}, bytes.Repeat([]byte{1}, 8)} {
		_, err = EncryptString("secret", testKey(), bad)
		require.Error(t, err)

		_, err = DecryptString(sealed, testKey(), bad)
		require.Error(t, err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	iv, err := NewIV()
	require.NoError(t, err)

	_, err = DecryptString("not base64 !!!", testKey(), iv)
	require.Error(t, err)

	// Valid base64 but not a multiple of the block size.
	_, err = DecryptString("YWJj", testKey(), iv)
	require.Error(t, err)
}
