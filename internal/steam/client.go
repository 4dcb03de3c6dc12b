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

package steam

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Client is one connection-scoped view of the Steam network. Connect,
// logon and the license list are event-driven: outcomes arrive on the
// queue drained by Poll. The RPCs below Poll are synchronous and only
// valid after a successful logon.
type Client interface {
	// Connect dials a CM server. The result arrives as a
	// ConnectedEvent (or DisconnectedEvent on failure).
	Connect() error

	// Disconnect tears the connection down; the queue delivers a final
	// DisconnectedEvent with UserInitiated set.
	Disconnect()

	// Poll returns the next pending event, or nil if none arrives
	// within the timeout.
	Poll(timeout time.Duration) Event

	// LogOnWithToken starts a logon using a refresh token. The outcome
	// arrives as a LoggedOnEvent.
	LogOnWithToken(accountName, refreshToken string) error

	// BeginAuth starts a headless credentials auth session. Prompts
	// for device confirmation auto-accept; prompts that require a
	// human (email or device code) surface as terminal auth errors
	// from AuthFlow.Await.
	BeginAuth(ctx context.Context, accountName, password string) (AuthFlow, error)

	// PICSProductInfo resolves product info for apps and packages.
	PICSProductInfo(ctx context.Context, apps []AppRequest, packages []PackageRequest) ([]AppInfo, []PackageInfo, error)

	// PICSAccessTokens fetches per-app access tokens for PICS requests.
	PICSAccessTokens(ctx context.Context, appIDs []uint32) (map[uint32]uint64, error)

	// ManifestRequestCode obtains the CDN authorization code for one
	// manifest. A zero code means access is denied.
	ManifestRequestCode(ctx context.Context, appID, depotID uint32, manifestID uint64) (uint64, error)

	// DepotKey returns the 32-byte depot decryption key.
	DepotKey(ctx context.Context, appID, depotID uint32) ([]byte, error)

	// CDNServers lists content servers usable for manifest downloads.
	CDNServers(ctx context.Context) ([]string, error)

	// DownloadManifest fetches the serialized manifest descriptor from
	// the given content server.
	DownloadManifest(ctx context.Context, server string, appID, depotID uint32, manifestID, requestCode uint64, depotKey []byte) ([]byte, error)
}

// AuthFlow is an in-flight credentials auth session.
type AuthFlow interface {
	// Await polls the auth service until it issues a refresh token or
	// rejects the session.
	Await(ctx context.Context) (refreshToken string, err error)
}

// Dialer produces one Client per account session.
type Dialer func(accountName string) (Client, error)

var driver Dialer

// RegisterDriver installs the wire-protocol implementation behind
// DefaultDialer. Follows the database/sql registration pattern: the
// driver package registers itself from an init function when linked in.
func RegisterDriver(d Dialer) {
	driver = d
}

// DefaultDialer yields a client from the registered driver.
func DefaultDialer(accountName string) (Client, error) {
	if driver == nil {
		return nil, errors.New("no steam protocol driver linked into this build")
	}
	return driver(accountName)
}
