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

// Package steamtest provides a scripted steam.Client for tests. The
// fake answers from fixed tables and counts every RPC so tests can
// assert what network work a run would have cost.
package steamtest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManifestHub/ManifestHub/internal/steam"
)

// Triple identifies one (app, depot, manifest) download target.
type Triple struct {
	App      uint32
	Depot    uint32
	Manifest uint64
}

// Client is a scripted steam.Client. Zero value is usable; populate the
// script fields before dialing. All methods are safe for concurrent
// use.
type Client struct {
	mu    sync.Mutex
	queue []steam.Event

	// Script: identity and auth outcomes.
	SteamID      uint64
	ConnectErr   error
	TokenErr     map[string]error // refresh token -> logon outcome, nil = success
	IssuedToken  string           // token issued by the credentials flow
	AuthErr      error            // credentials flow outcome
	RotatedToken string           // token rotation delivered with a token logon

	// Script: catalog.
	Licenses     []steam.License
	PackageApps  map[uint32][]uint32 // package id -> app ids
	Apps         map[uint32]steam.KV // app id -> product info
	AccessTokens map[uint32]uint64
	RequestCodes map[Triple]uint64
	DepotKeys    map[uint32][]byte
	Manifests    map[Triple][]byte
	Servers      []string

	// Recorded calls.
	Connects          int
	ManifestCodeCalls []Triple
	DepotKeyCalls     []uint32
	DownloadCalls     []Triple
}

var _ steam.Client = (*Client)(nil)

// Dialer returns a steam.Dialer that hands out this client for every
// account.
func (c *Client) Dialer() steam.Dialer {
	return func(string) (steam.Client, error) { return c, nil }
}

// Fleet maps account names to scripted clients, for multi-account runs.
type Fleet map[string]*Client

// Dialer returns a steam.Dialer backed by the fleet.
func (f Fleet) Dialer() steam.Dialer {
	return func(accountName string) (steam.Client, error) {
		c, ok := f[accountName]
		if !ok {
			return nil, fmt.Errorf("no scripted client for account %q", accountName)
		}
		return c, nil
	}
}

func (c *Client) push(ev steam.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, ev)
}

// Connect queues a ConnectedEvent, or fails with the scripted error.
func (c *Client) Connect() error {
	c.mu.Lock()
	c.Connects++
	err := c.ConnectErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.push(steam.ConnectedEvent{})
	return nil
}

// Disconnect queues a user-initiated DisconnectedEvent.
func (c *Client) Disconnect() {
	c.push(steam.DisconnectedEvent{UserInitiated: true})
}

// Drop queues an unsolicited DisconnectedEvent, simulating a CM-side
// connection loss.
func (c *Client) Drop() {
	c.push(steam.DisconnectedEvent{UserInitiated: false})
}

// Poll pops the next queued event, or waits out the timeout and returns
// nil.
func (c *Client) Poll(timeout time.Duration) steam.Event {
	c.mu.Lock()
	if len(c.queue) > 0 {
		ev := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		return ev
	}
	c.mu.Unlock()
	time.Sleep(timeout)
	return nil
}

// LogOnWithToken resolves the scripted outcome for the token. Successful
// logons are followed by the license list, as the real network does.
func (c *Client) LogOnWithToken(accountName, refreshToken string) error {
	c.mu.Lock()
	err := c.TokenErr[refreshToken]
	steamID := c.SteamID
	rotated := c.RotatedToken
	licenses := c.Licenses
	c.mu.Unlock()

	c.push(steam.LoggedOnEvent{Err: err, SteamID: steamID, NewRefreshToken: rotated})
	if err == nil {
		c.push(steam.LicenseListEvent{Licenses: licenses})
	}
	return nil
}

// BeginAuth returns a flow that resolves to the scripted token or error.
func (c *Client) BeginAuth(_ context.Context, accountName, password string) (steam.AuthFlow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &authFlow{token: c.IssuedToken, err: c.AuthErr}, nil
}

type authFlow struct {
	token string
	err   error
}

func (f *authFlow) Await(context.Context) (string, error) {
	return f.token, f.err
}

func (c *Client) PICSProductInfo(_ context.Context, apps []steam.AppRequest, packages []steam.PackageRequest) ([]steam.AppInfo, []steam.PackageInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var appInfos []steam.AppInfo
	for _, req := range apps {
		if data, ok := c.Apps[req.ID]; ok {
			appInfos = append(appInfos, steam.AppInfo{ID: req.ID, Data: data})
		}
	}
	var pkgInfos []steam.PackageInfo
	for _, req := range packages {
		if appIDs, ok := c.PackageApps[req.ID]; ok {
			pkgInfos = append(pkgInfos, steam.PackageInfo{ID: req.ID, AppIDs: appIDs})
		}
	}
	return appInfos, pkgInfos, nil
}

func (c *Client) PICSAccessTokens(_ context.Context, appIDs []uint32) (map[uint32]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[uint32]uint64, len(appIDs))
	for _, id := range appIDs {
		out[id] = c.AccessTokens[id]
	}
	return out, nil
}

func (c *Client) ManifestRequestCode(_ context.Context, appID, depotID uint32, manifestID uint64) (uint64, error) {
	t := Triple{appID, depotID, manifestID}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ManifestCodeCalls = append(c.ManifestCodeCalls, t)
	return c.RequestCodes[t], nil
}

func (c *Client) DepotKey(_ context.Context, appID, depotID uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DepotKeyCalls = append(c.DepotKeyCalls, depotID)
	if key, ok := c.DepotKeys[depotID]; ok {
		return key, nil
	}
	return bytes.Repeat([]byte{byte(depotID)}, 32), nil
}

func (c *Client) CDNServers(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Servers) == 0 {
		return []string{"cache1.steamcontent.test", "cache2.steamcontent.test"}, nil
	}
	return c.Servers, nil
}

func (c *Client) DownloadManifest(_ context.Context, server string, appID, depotID uint32, manifestID, requestCode uint64, depotKey []byte) ([]byte, error) {
	t := Triple{appID, depotID, manifestID}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DownloadCalls = append(c.DownloadCalls, t)
	if blob, ok := c.Manifests[t]; ok {
		return blob, nil
	}
	return []byte(fmt.Sprintf("manifest %d/%d/%d via %s", appID, depotID, manifestID, server)), nil
}
