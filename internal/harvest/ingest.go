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

package harvest

import (
	"context"
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ManifestHub/ManifestHub/internal/crypto"
	"github.com/ManifestHub/ManifestHub/internal/session"
	"github.com/ManifestHub/ManifestHub/internal/steam"
	"github.com/ManifestHub/ManifestHub/internal/vault"
)

// KeyEnv names the PEM RSA private key that unseals ingestion payloads.
const KeyEnv = "RSA_PRIVATE_KEY"

// ImportAccounts ingests an external account file: decode (RSA envelope
// or raw JSON), take this instance's partition of the sorted account
// names, and give each a session long enough to mint or refresh a
// token, writing the record back. Terminal rejections remove the
// account; other failures are logged and the import continues.
func (h *Harvester) ImportAccounts(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading account file %s", path)
	}
	entries, err := decodeIngestion(raw, os.Getenv(KeyEnv))
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		if i%h.opts.Number != h.opts.Index {
			continue
		}
		password := ""
		if creds := entries[name]; len(creds) > 0 {
			password = creds[0]
		}
		if err := h.importOne(ctx, name, password); err != nil {
			h.log.WithField("account", name).WithError(err).Error("account import failed")
		}
	}
	return nil
}

// importOne refreshes one account's token and stores the result. An
// existing record contributes its stored secrets; the ingested password
// wins when both exist.
func (h *Harvester) importOne(ctx context.Context, name, password string) error {
	account, err := h.vault.GetAccount(ctx, name)
	if err != nil {
		return err
	}
	if account == nil {
		account = &vault.Account{AccountName: name}
	}
	if password != "" {
		account.Password = password
	}

	client, err := h.opts.Dialer(name)
	if err != nil {
		return errors.Wrap(err, "dialing steam")
	}
	sess := session.New(client, name)
	defer sess.Close()

	token, err := sess.LogOn(ctx, account.Password, account.RefreshToken)
	if err != nil {
		if steam.IsTerminalAuth(err) && account.Index != "" {
			h.log.WithFields(logrus.Fields{
				"account": name,
			}).WithError(err).Warn("authentication rejected for good, removing account")
			return h.vault.RemoveAccount(ctx, account)
		}
		return errors.Wrap(err, "logging on")
	}
	return h.writeBack(ctx, account, sess.SteamID(), token)
}

// decodeIngestion accepts either an RSA-OAEP envelope or raw JSON of
// the shape {"account": ["password", ...], ...}. Envelope failures of
// any kind fall back to the raw form.
func decodeIngestion(raw []byte, keyPEM string) (map[string][]string, error) {
	text := raw
	if keyPEM != "" {
		if key, err := crypto.ParseRSAPrivateKey(keyPEM); err == nil {
			if plain, err := crypto.UnsealPayload(raw, key); err == nil {
				text = plain
			}
		}
	}
	var entries map[string][]string
	if err := json.Unmarshal(text, &entries); err != nil {
		return nil, errors.Wrap(err, "decoding account list")
	}
	return entries, nil
}
