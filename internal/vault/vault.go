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

// Package vault stores Steam account records on dedicated Git branches.
// Each account lives alone on a branch named by its friend-code index,
// as a single AccountInfo.json blob with AES-encrypted secrets.
package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/rand"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ManifestHub/ManifestHub/internal/crypto"
	"github.com/ManifestHub/ManifestHub/internal/friendcode"
	"github.com/ManifestHub/ManifestHub/internal/gitstore"
)

// FileName is the single blob on an account branch.
const FileName = "AccountInfo.json"

// Account is the wire form of one stored account. Secrets are AES-CBC
// encrypted at rest when Encrypted is true; Encrypted itself is
// tri-state on the wire (true/false/null) with null meaning "not
// encrypted", hence the pointer.
type Account struct {
	AccountName  string     `json:"account_name"`
	Password     string     `json:"account_password,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	LastRefresh  *time.Time `json:"last_refresh,omitempty"`
	Index        string     `json:"index,omitempty"`
	Encrypted    *bool      `json:"aes_encrypted"`
	IV           string     `json:"aes_iv,omitempty"`
}

// IsEncrypted resolves the tri-state flag.
func (a *Account) IsEncrypted() bool {
	return a.Encrypted != nil && *a.Encrypted
}

// Branch is the account's branch name: the friend-code index, which
// every record written by this program carries.
func (a *Account) Branch() string {
	return a.Index
}

// Vault reads and writes account records through a shared Store.
type Vault struct {
	store *gitstore.Store
	key   []byte
	log   *logrus.Entry
}

// New wraps a store with the process-wide AES key.
func New(store *gitstore.Store, key []byte) *Vault {
	return &Vault{
		store: store,
		key:   key,
		log:   logrus.WithField("component", "vault"),
	}
}

// WriteAccount serializes the record with sealed secrets onto its
// branch and pushes it. Writing a record identical to the stored one is
// a no-op.
func (v *Vault) WriteAccount(ctx context.Context, account *Account) error {
	branch := account.Branch()
	if branch == "" {
		return errors.Errorf("account %s has no branch index", account.AccountName)
	}

	release := v.store.Lock(branch)
	defer release()

	sealed, err := v.seal(account)
	if err != nil {
		return errors.Wrapf(err, "sealing account %s", account.AccountName)
	}
	data, err := json.MarshalIndent(sealed, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding account record")
	}
	data = append(data, '\n')

	blob, err := v.store.WriteBlob(data)
	if err != nil {
		return err
	}
	treeHash, err := v.store.WriteTree([]object.TreeEntry{
		{Name: FileName, Mode: filemode.Regular, Hash: blob},
	})
	if err != nil {
		return err
	}

	var parents []plumbing.Hash
	if tip, ok := v.store.BranchTip(branch); ok {
		tree, err := v.store.TreeOf(tip)
		if err != nil {
			return errors.Wrapf(err, "loading tip of branch %s", branch)
		}
		if tree.Hash == treeHash {
			return nil
		}
		parents = []plumbing.Hash{tip}
	}

	commit, err := v.store.WriteCommit(treeHash, parents, "Update account info")
	if err != nil {
		return err
	}
	if err := v.store.SetBranch(branch, commit); err != nil {
		return err
	}
	if err := v.store.PushBranch(ctx, branch); err != nil {
		return err
	}
	v.log.WithFields(logrus.Fields{
		"account": account.AccountName,
		"branch":  branch,
	}).Info("stored account record")
	return nil
}

// RemoveAccount force-deletes the account's branch locally and on the
// forge.
func (v *Vault) RemoveAccount(ctx context.Context, account *Account) error {
	branch := account.Branch()
	if branch == "" {
		return errors.Errorf("account %s has no branch index", account.AccountName)
	}

	release := v.store.Lock(branch)
	defer release()

	if err := v.store.RemoveBranch(branch); err != nil {
		return err
	}
	if err := v.store.PushDeleteBranch(ctx, branch); err != nil {
		return err
	}
	v.log.WithFields(logrus.Fields{
		"account": account.AccountName,
		"branch":  branch,
	}).Warn("removed account")
	return nil
}

// Accounts decodes every record stored under a friend-code branch.
// With shuffle the order is freshly randomized; without, it is the
// stable seed-zero permutation. Branches that fail to decode are
// skipped with a warning.
func (v *Vault) Accounts(ctx context.Context, shuffle bool) ([]*Account, error) {
	branches, err := v.store.RemoteBranches()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(branches))
	for name := range branches {
		if friendcode.Pattern.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var accounts []*Account
	for _, name := range names {
		account, err := v.readAccount(branches[name])
		if err != nil {
			v.log.WithField("branch", name).WithError(err).Warn("skipping undecodable account branch")
			continue
		}
		if account.Index == "" {
			account.Index = name
		}
		accounts = append(accounts, account)
	}

	seed := int64(0)
	if shuffle {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(accounts), func(i, j int) {
		accounts[i], accounts[j] = accounts[j], accounts[i]
	})
	return accounts, nil
}

// GetAccount finds one account by name.
func (v *Vault) GetAccount(ctx context.Context, name string) (*Account, error) {
	accounts, err := v.Accounts(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.AccountName == name {
			return a, nil
		}
	}
	return nil, nil
}

func (v *Vault) readAccount(commit plumbing.Hash) (*Account, error) {
	tree, err := v.store.TreeOf(commit)
	if err != nil {
		return nil, err
	}
	entry, err := tree.FindEntry(FileName)
	if err != nil {
		return nil, errors.Errorf("branch has no %s", FileName)
	}
	data, err := v.store.BlobBytes(entry.Hash)
	if err != nil {
		return nil, err
	}
	var account Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, errors.Wrap(err, "decoding account record")
	}
	if err := v.unseal(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

// seal returns a copy with encrypted secrets. Empty secrets stay empty;
// the per-record IV is created on first encryption and reused after.
func (v *Vault) seal(account *Account) (*Account, error) {
	sealed := *account
	if account.Password == "" && account.RefreshToken == "" {
		sealed.Encrypted = boolPtr(false)
		return &sealed, nil
	}

	var iv []byte
	var err error
	if account.IV != "" {
		if iv, err = base64.StdEncoding.DecodeString(account.IV); err != nil {
			return nil, errors.Wrap(err, "decoding stored IV")
		}
	} else {
		if iv, err = crypto.NewIV(); err != nil {
			return nil, err
		}
		sealed.IV = base64.StdEncoding.EncodeToString(iv)
	}

	if sealed.Password, err = crypto.EncryptString(account.Password, v.key, iv); err != nil {
		return nil, err
	}
	if sealed.RefreshToken, err = crypto.EncryptString(account.RefreshToken, v.key, iv); err != nil {
		return nil, err
	}
	sealed.Encrypted = boolPtr(true)
	return &sealed, nil
}

func (v *Vault) unseal(account *Account) error {
	if !account.IsEncrypted() {
		// Null and false both mean plaintext on the wire.
		return nil
	}
	iv, err := base64.StdEncoding.DecodeString(account.IV)
	if err != nil {
		return errors.Wrap(err, "decoding IV")
	}
	if account.Password, err = crypto.DecryptString(account.Password, v.key, iv); err != nil {
		return errors.Wrap(err, "decrypting password")
	}
	if account.RefreshToken, err = crypto.DecryptString(account.RefreshToken, v.key, iv); err != nil {
		return errors.Wrap(err, "decrypting refresh token")
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
