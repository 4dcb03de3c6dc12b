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

// Package harvest orchestrates a run: fan the account pool out over
// bounded sessions, stream downloaded manifests into the archive
// through a writer pool, then prune stale tags and publish the
// tracking report.
package harvest

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nozzle/throttler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ManifestHub/ManifestHub/internal/archive"
	"github.com/ManifestHub/ManifestHub/internal/crypto"
	"github.com/ManifestHub/ManifestHub/internal/download"
	"github.com/ManifestHub/ManifestHub/internal/friendcode"
	"github.com/ManifestHub/ManifestHub/internal/gitstore"
	"github.com/ManifestHub/ManifestHub/internal/session"
	"github.com/ManifestHub/ManifestHub/internal/steam"
	"github.com/ManifestHub/ManifestHub/internal/vault"
)

const (
	// DefaultMaxAccounts gates concurrent Steam sessions.
	DefaultMaxAccounts = 4

	// writerPoolSize is how many goroutines drain the write channel.
	// Branch locks serialize same-app writes anyway, so a handful is
	// plenty.
	writerPoolSize = 4
)

// SummaryEnv names the file the tracking report is appended to after a
// download run, when set.
const SummaryEnv = "GITHUB_STEP_SUMMARY"

// Options configures a run.
type Options struct {
	// RepoPath is the on-disk clone the run operates on.
	RepoPath string
	// Token authenticates pushes to the forge.
	Token string
	// Key is the 32-byte AES key sealing account secrets.
	Key []byte
	// MaxAccounts bounds concurrent sessions; MaxDownloads bounds
	// concurrent manifest downloads within one session.
	MaxAccounts  int
	MaxDownloads int
	// Index/Number partition the ingestion account list across parallel
	// instances: this instance owns sorted position i when
	// i % Number == Index.
	Index  int
	Number int
	// Dialer opens protocol connections. Defaults to the registered
	// driver.
	Dialer steam.Dialer
}

// Validate fills defaults and rejects unusable option sets.
func (o *Options) Validate() error {
	if o.RepoPath == "" {
		o.RepoPath = "."
	}
	if len(o.Key) != crypto.KeySize {
		return errors.Errorf("AES key must be %d bytes, got %d", crypto.KeySize, len(o.Key))
	}
	if o.MaxAccounts <= 0 {
		o.MaxAccounts = DefaultMaxAccounts
	}
	if o.MaxDownloads <= 0 {
		o.MaxDownloads = download.DefaultMaxConcurrent
	}
	if o.Number <= 0 {
		o.Number = 1
	}
	if o.Index < 0 || o.Index >= o.Number {
		return errors.Errorf("index %d out of range for %d instances", o.Index, o.Number)
	}
	if o.Dialer == nil {
		o.Dialer = steam.DefaultDialer
	}
	return nil
}

// Harvester runs download and account modes against one repository.
type Harvester struct {
	opts    Options
	store   *gitstore.Store
	vault   *vault.Vault
	archive *archive.Archive
	runID   string
	log     *logrus.Entry
}

// New opens the repository and wires the run.
func New(opts Options) (*Harvester, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	store, err := gitstore.Open(opts.RepoPath, opts.Token)
	if err != nil {
		return nil, err
	}
	return NewWithStore(opts, store)
}

// NewWithStore wires the run onto an already-open store. Tests use this
// with their fixture repositories.
func NewWithStore(opts Options, store *gitstore.Store) (*Harvester, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	return &Harvester{
		opts:    opts,
		store:   store,
		vault:   vault.New(store, opts.Key),
		archive: archive.New(store),
		runID:   runID,
		log:     logrus.WithField("run", runID),
	}, nil
}

// counters tallies write outcomes for the end-of-run summary.
type counters struct {
	mu        sync.Mutex
	written   int
	unchanged int
	failed    int
	removed   int
}

func (c *counters) count(status archive.Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err != nil:
		c.failed++
	case status == archive.StatusWritten:
		c.written++
	default:
		c.unchanged++
	}
}

// Download runs the harvest: every stored account gets a session (at
// most MaxAccounts at once), every session feeds the writer pool, and
// the run ends with prune + tracking report. Per-account failures are
// logged and swallowed; only infrastructure failures (enumeration,
// report) are returned.
func (h *Harvester) Download(ctx context.Context) error {
	accounts, err := h.vault.Accounts(ctx, true)
	if err != nil {
		return errors.Wrap(err, "enumerating accounts")
	}
	if len(accounts) == 0 {
		h.log.Warn("no stored accounts")
	}

	tracker := archive.NewTracker()
	tally := &counters{}

	writeCh := make(chan *archive.Descriptor, 64)
	var writers sync.WaitGroup
	for i := 0; i < writerPoolSize; i++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for d := range writeCh {
				status, err := h.archive.WriteManifest(ctx, d)
				tally.count(status, err)
				if err != nil {
					h.log.WithFields(logrus.Fields{
						"app":   d.AppID,
						"depot": d.DepotID,
					}).WithError(err).Error("archiving manifest failed")
				}
			}
		}()
	}
	sink := func(d *archive.Descriptor) { writeCh <- d }

	th := throttler.New(h.opts.MaxAccounts, len(accounts))
	for _, account := range accounts {
		go func(account *vault.Account) {
			err := h.runAccount(ctx, account, tracker, sink, tally)
			if err != nil {
				h.log.WithField("account", account.AccountName).WithError(err).Error("account run failed")
			}
			th.Done(err)
		}(account)
		th.Throttle()
	}

	close(writeCh)
	writers.Wait()

	if err := h.archive.PruneExpiredTags(ctx); err != nil {
		h.log.WithError(err).Error("pruning expired tags failed")
	}
	if err := h.publishReport(tracker); err != nil {
		return err
	}

	h.log.WithFields(logrus.Fields{
		"written":   tally.written,
		"unchanged": tally.unchanged,
		"failed":    tally.failed,
		"removed":   tally.removed,
	}).Info("run complete")
	return nil
}

// runAccount drives one account end to end: logon, record write-back,
// download pipeline. Terminal auth rejections remove the account and
// count as handled.
func (h *Harvester) runAccount(ctx context.Context, account *vault.Account, tracker *archive.Tracker, sink func(*archive.Descriptor), tally *counters) error {
	log := h.log.WithField("account", account.AccountName)

	client, err := h.opts.Dialer(account.AccountName)
	if err != nil {
		return errors.Wrap(err, "dialing steam")
	}
	sess := session.New(client, account.AccountName)
	defer sess.Close()

	token, err := sess.LogOn(ctx, account.Password, account.RefreshToken)
	if err != nil {
		if steam.IsTerminalAuth(err) {
			log.WithError(err).Warn("authentication rejected for good, removing account")
			if rmErr := h.vault.RemoveAccount(ctx, account); rmErr != nil {
				return errors.Wrap(rmErr, "removing rejected account")
			}
			tally.mu.Lock()
			tally.removed++
			tally.mu.Unlock()
			return nil
		}
		return errors.Wrap(err, "logging on")
	}

	if err := h.writeBack(ctx, account, sess.SteamID(), token); err != nil {
		// A failed record write is not worth losing the session over.
		log.WithError(err).Error("writing account record back failed")
	}

	return download.New(sess, h.archive, tracker, sink, h.opts.MaxDownloads).Run(ctx)
}

// writeBack persists the account record after logon: the friend-code
// index always, the refresh token and its timestamp when it changed.
func (h *Harvester) writeBack(ctx context.Context, account *vault.Account, steamID uint64, token string) error {
	if steamID != 0 {
		account.Index = friendcode.Encode(steamID)
	}
	if token != "" && token != account.RefreshToken {
		account.RefreshToken = token
		now := time.Now().UTC()
		account.LastRefresh = &now
	}
	return h.vault.WriteAccount(ctx, account)
}

// publishReport renders the tracking report and appends it to the file
// named by GITHUB_STEP_SUMMARY, when set.
func (h *Harvester) publishReport(tracker *archive.Tracker) error {
	report, err := h.archive.TrackingReport(tracker, h.runID)
	if err != nil {
		return errors.Wrap(err, "rendering tracking report")
	}
	path := os.Getenv(SummaryEnv)
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening summary file %s", path)
	}
	defer f.Close()
	if _, err := f.WriteString(report); err != nil {
		return errors.Wrap(err, "appending tracking report")
	}
	h.log.WithField("path", path).Info("tracking report published")
	return nil
}
