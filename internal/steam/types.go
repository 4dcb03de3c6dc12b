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

// Package steam defines the boundary to the Steam wire protocol: the
// client interface the session and downloader consume, the typed events
// a connection emits, and the data model of licenses and PICS product
// info. The wire-level driver itself is an external collaborator; it
// registers via RegisterDriver, and tests substitute the scripted fake
// in steamtest.
package steam

import (
	"sort"
	"strconv"
)

// PaymentMethod describes how a license was acquired.
type PaymentMethod int32

// Complimentary licenses are grants Steam hands out for free (demo
// passes and the like); their packages are skipped during harvest.
const (
	PaymentMethodNone          PaymentMethod = 0
	PaymentMethodComplimentary PaymentMethod = 1024
)

// License is one entry of the license-list callback.
type License struct {
	PackageID     uint32
	AccessToken   uint64
	PaymentMethod PaymentMethod
}

// KV is a nested key-value document, the shape PICS product info
// arrives in. Leaves are strings; interior nodes are KV again.
type KV map[string]interface{}

// Child returns the named sub-document, or nil if the key is absent or
// a leaf. Safe to call on a nil KV.
func (kv KV) Child(name string) KV {
	if kv == nil {
		return nil
	}
	switch v := kv[name].(type) {
	case KV:
		return v
	case map[string]interface{}:
		return KV(v)
	default:
		return nil
	}
}

// String returns the named leaf value, or "" if absent or not a leaf.
func (kv KV) String(name string) string {
	if kv == nil {
		return ""
	}
	s, _ := kv[name].(string)
	return s
}

// Uint64 parses the named leaf as a decimal integer, reporting whether
// it was present and parsed.
func (kv KV) Uint64(name string) (uint64, bool) {
	n, err := strconv.ParseUint(kv.String(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Keys returns the child names in sorted order.
func (kv KV) Keys() []string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AppInfo is the PICS product info for one app.
type AppInfo struct {
	ID   uint32
	Data KV
}

// PackageInfo is the PICS product info for one package, reduced to the
// app ids it references.
type PackageInfo struct {
	ID     uint32
	AppIDs []uint32
}

// AppRequest asks PICS for one app, optionally under an access token.
type AppRequest struct {
	ID          uint32
	AccessToken uint64
}

// PackageRequest asks PICS for one package, optionally under an access
// token.
type PackageRequest struct {
	ID          uint32
	AccessToken uint64
}

// Event is a callback delivered by the connection's event queue.
// Concrete types: ConnectedEvent, LoggedOnEvent, LicenseListEvent,
// DisconnectedEvent.
type Event interface{}

// ConnectedEvent reports that the TCP/WebSocket session to a CM server
// is established and ready for logon.
type ConnectedEvent struct{}

// LoggedOnEvent reports the outcome of a logon attempt. Err is nil on
// success; auth rejections arrive as *AuthError values.
type LoggedOnEvent struct {
	Err             error
	SteamID         uint64
	NewRefreshToken string
}

// LicenseListEvent delivers the account's licenses. Steam sends it
// unsolicited shortly after a successful logon.
type LicenseListEvent struct {
	Licenses []License
}

// DisconnectedEvent reports that the connection dropped. UserInitiated
// distinguishes a requested Disconnect from an unsolicited drop, which
// the session answers with a delayed reconnect.
type DisconnectedEvent struct {
	UserInitiated bool
}
