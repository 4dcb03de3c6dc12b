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

// Package download runs one account's harvest: enumerate the licensed
// catalog down to public manifest ids, skip what the archive already
// pins, and fetch the rest under a bounded fan-out with patient
// retries.
package download

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ManifestHub/ManifestHub/internal/archive"
	"github.com/ManifestHub/ManifestHub/internal/session"
	"github.com/ManifestHub/ManifestHub/internal/steam"
)

const (
	// DefaultMaxConcurrent bounds in-flight manifest downloads per
	// account.
	DefaultMaxConcurrent = 16

	// Steam RPCs get retried on a fixed cadence: attempts × interval.
	retryAttempts = 30
	retryInterval = 10 * time.Second

	// cdnRequestsPerSecond is a politeness cap on manifest fetches,
	// shared by all workers of one account.
	cdnRequestsPerSecond = 20
)

// target is one (app, depot, manifest) the archive does not have yet.
type target struct {
	appID      uint32
	depotID    uint32
	manifestID uint64
}

// Downloader fans one session's catalog out into archive write tasks.
type Downloader struct {
	session       *session.Session
	archive       *archive.Archive
	tracker       *archive.Tracker
	sink          func(*archive.Descriptor)
	maxConcurrent int64
	limiter       *rate.Limiter
	log           *logrus.Entry

	// retryInterval is shortened in tests.
	retryInterval time.Duration
}

// New builds a downloader for a ready session. Every successful fetch
// is handed to sink; the caller owns draining those writes.
func New(sess *session.Session, arch *archive.Archive, tracker *archive.Tracker, sink func(*archive.Descriptor), maxConcurrent int) *Downloader {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Downloader{
		session:       sess,
		archive:       arch,
		tracker:       tracker,
		sink:          sink,
		maxConcurrent: int64(maxConcurrent),
		limiter:       rate.NewLimiter(cdnRequestsPerSecond, 1),
		log:           logrus.WithField("account", sess.SteamID()),
		retryInterval: retryInterval,
	}
}

// Run enumerates and downloads everything the account can see that the
// archive lacks. Per-manifest failures never fail the run; only
// enumeration errors do.
func (d *Downloader) Run(ctx context.Context) error {
	client := d.session.Client()

	targets, err := d.enumerate(ctx)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		d.log.Info("nothing new to download")
		return nil
	}

	servers, err := client.CDNServers(ctx)
	if err != nil {
		return errors.Wrap(err, "fetching CDN server list")
	}
	if len(servers) == 0 {
		return errors.New("empty CDN server list")
	}

	d.log.WithField("manifests", len(targets)).Info("starting downloads")

	sem := semaphore.NewWeighted(d.maxConcurrent)
	var wg sync.WaitGroup
	for _, tgt := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(tgt target) {
			defer wg.Done()
			defer sem.Release(1)
			if err := d.downloadOne(ctx, servers, tgt); err != nil && !IsSilent(err) {
				d.log.WithFields(logrus.Fields{
					"app":      tgt.appID,
					"depot":    tgt.depotID,
					"manifest": tgt.manifestID,
				}).WithError(err).Error("manifest download failed")
			}
		}(tgt)
	}
	wg.Wait()
	return ctx.Err()
}

// enumerate walks license → package → app → depot → public manifest id,
// dropping complimentary licenses, non-numeric depot entries, depots
// without a public branch, and triples the archive already pins.
func (d *Downloader) enumerate(ctx context.Context) ([]target, error) {
	client := d.session.Client()

	var pkgReqs []steam.PackageRequest
	for _, lic := range d.session.Licenses() {
		if lic.PaymentMethod == steam.PaymentMethodComplimentary {
			continue
		}
		pkgReqs = append(pkgReqs, steam.PackageRequest{ID: lic.PackageID, AccessToken: lic.AccessToken})
	}
	if len(pkgReqs) == 0 {
		return nil, nil
	}

	_, pkgs, err := client.PICSProductInfo(ctx, nil, pkgReqs)
	if err != nil {
		return nil, errors.Wrap(err, "resolving packages")
	}

	appSet := map[uint32]struct{}{}
	for _, pkg := range pkgs {
		for _, appID := range pkg.AppIDs {
			if appID != 0 {
				appSet[appID] = struct{}{}
			}
		}
	}
	if len(appSet) == 0 {
		return nil, nil
	}
	appIDs := make([]uint32, 0, len(appSet))
	for id := range appSet {
		appIDs = append(appIDs, id)
	}

	tokens, err := client.PICSAccessTokens(ctx, appIDs)
	if err != nil {
		return nil, errors.Wrap(err, "fetching app access tokens")
	}
	appReqs := make([]steam.AppRequest, 0, len(appIDs))
	for _, id := range appIDs {
		appReqs = append(appReqs, steam.AppRequest{ID: id, AccessToken: tokens[id]})
	}

	apps, _, err := client.PICSProductInfo(ctx, appReqs, nil)
	if err != nil {
		return nil, errors.Wrap(err, "resolving apps")
	}

	var targets []target
	for _, app := range apps {
		d.tracker.TouchApp(app.ID)
		depots := app.Data.Child("depots")
		for _, name := range depots.Keys() {
			depotID, err := strconv.ParseUint(name, 10, 32)
			if err != nil {
				continue
			}
			pub := depots.Child(name).Child("manifests").Child("public")
			if pub == nil {
				continue
			}
			gid, ok := pub.Uint64("gid")
			if !ok {
				continue
			}
			d.tracker.TouchDepot(app.ID, uint32(depotID))
			if d.archive.HasManifest(app.ID, uint32(depotID), gid) {
				continue
			}
			targets = append(targets, target{appID: app.ID, depotID: uint32(depotID), manifestID: gid})
		}
	}
	return targets, nil
}

// downloadOne fetches one manifest: request code, depot key, descriptor
// bytes, each under the bounded retry schedule, then hands the result
// to the sink.
func (d *Downloader) downloadOne(ctx context.Context, servers []string, tgt target) error {
	client := d.session.Client()

	var code uint64
	err := d.retry(ctx, func() error {
		c, err := client.ManifestRequestCode(ctx, tgt.appID, tgt.depotID, tgt.manifestID)
		if err != nil {
			return err
		}
		if c == 0 {
			// Zero means the account cannot fetch this manifest at
			// all; retrying will not change that.
			return backoff.Permanent(steam.ErrAccessDenied)
		}
		code = c
		return nil
	})
	if err != nil {
		return err
	}

	var depotKey []byte
	err = d.retry(ctx, func() error {
		key, err := client.DepotKey(ctx, tgt.appID, tgt.depotID)
		if err != nil {
			return err
		}
		if len(key) == 0 {
			return errors.New("empty depot key")
		}
		depotKey = key
		return nil
	})
	if err != nil {
		return steam.ErrDepotKeyUnavailable
	}

	server := servers[int(tgt.depotID)%len(servers)]
	var blob []byte
	err = d.retry(ctx, func() error {
		if err := d.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		data, err := client.DownloadManifest(ctx, server, tgt.appID, tgt.depotID, tgt.manifestID, code, depotKey)
		if err != nil {
			return err
		}
		blob = data
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "downloading manifest")
	}

	d.sink(&archive.Descriptor{
		AppID:      tgt.appID,
		DepotID:    tgt.depotID,
		ManifestID: tgt.manifestID,
		DepotKey:   depotKey,
		Manifest:   blob,
	})
	return nil
}

func (d *Downloader) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.retryInterval), retryAttempts-1),
		ctx,
	)
	return backoff.Retry(op, bo)
}

// IsSilent reports the per-manifest failures that are expected in bulk
// and would flood the logs.
func IsSilent(err error) bool {
	return errors.Is(err, steam.ErrAccessDenied) || errors.Is(err, steam.ErrDepotKeyUnavailable)
}
