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

// Package session owns one authenticated Steam connection for one
// account. A background worker pumps the client's event queue on a
// fixed cadence and completes one-shot signals the logon sequence
// blocks on; unsolicited disconnects trigger a delayed reconnect, and
// Close cancels the pump and joins it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ManifestHub/ManifestHub/internal/steam"
)

const (
	// pollInterval is the event-pump cadence.
	pollInterval = 100 * time.Millisecond
	// reconnectDelay is how long to wait before answering an
	// unsolicited disconnect with a fresh connection.
	reconnectDelay = 5 * time.Second
)

// Session drives one account through connect → logon → ready.
type Session struct {
	client  steam.Client
	account string
	log     *logrus.Entry

	connected     chan struct{}
	connectedOnce sync.Once
	licensesReady chan struct{}
	licensesOnce  sync.Once
	logonResults  chan steam.LoggedOnEvent

	mu       sync.Mutex
	licenses []steam.License
	steamID  uint64
	token    string
	closing  bool

	pumpStop  chan struct{}
	pumpDone  chan struct{}
	pumpOnce  sync.Once
	closeOnce sync.Once
}

// New wraps a client for one account. The caller owns the client's
// lifetime through Close.
func New(client steam.Client, accountName string) *Session {
	return &Session{
		client:        client,
		account:       accountName,
		log:           logrus.WithField("account", accountName),
		connected:     make(chan struct{}),
		licensesReady: make(chan struct{}),
		logonResults:  make(chan steam.LoggedOnEvent, 4),
		pumpStop:      make(chan struct{}),
		pumpDone:      make(chan struct{}),
	}
}

// Client exposes the underlying connection for RPCs once the session is
// ready.
func (s *Session) Client() steam.Client { return s.client }

// SteamID is valid after LogOn returns successfully.
func (s *Session) SteamID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steamID
}

// Licenses returns the license list delivered at logon.
func (s *Session) Licenses() []steam.License {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]steam.License, len(s.licenses))
	copy(out, s.licenses)
	return out
}

// LogOn connects and authenticates, blocking until the session is ready
// (logged on with the license list in hand). A stored refresh token is
// tried first; if the service rejects it, the token is dropped and the
// password credentials get one shot. The returned token is the refresh
// token now in effect ("" if the account never produced one).
func (s *Session) LogOn(ctx context.Context, password, refreshToken string) (string, error) {
	s.startPump()

	if err := s.client.Connect(); err != nil {
		return "", errors.Wrap(err, "connecting to steam")
	}
	if err := s.await(ctx, s.connected); err != nil {
		return "", errors.Wrap(err, "waiting for connection")
	}

	token := refreshToken
	if token != "" {
		ev, err := s.tryToken(ctx, token)
		if err != nil {
			return "", err
		}
		if ev.Err == nil {
			return s.finishLogon(ctx, ev, token)
		}
		if steam.IsTerminalAuth(ev.Err) {
			return "", ev.Err
		}
		s.log.WithError(ev.Err).Info("refresh token rejected, falling back to credentials")
		token = ""
	}

	// Credentials path: run the headless auth flow to obtain a fresh
	// refresh token, then log on with it. Human-interaction demands
	// (email code, device 2FA) surface here as terminal errors.
	flow, err := s.client.BeginAuth(ctx, s.account, password)
	if err != nil {
		return "", errors.Wrap(err, "starting auth session")
	}
	token, err = flow.Await(ctx)
	if err != nil {
		return "", err
	}
	ev, err := s.tryToken(ctx, token)
	if err != nil {
		return "", err
	}
	if ev.Err != nil {
		return "", ev.Err
	}
	return s.finishLogon(ctx, ev, token)
}

func (s *Session) tryToken(ctx context.Context, token string) (steam.LoggedOnEvent, error) {
	if err := s.client.LogOnWithToken(s.account, token); err != nil {
		return steam.LoggedOnEvent{}, errors.Wrap(err, "starting logon")
	}
	select {
	case ev := <-s.logonResults:
		return ev, nil
	case <-ctx.Done():
		return steam.LoggedOnEvent{}, ctx.Err()
	}
}

func (s *Session) finishLogon(ctx context.Context, ev steam.LoggedOnEvent, token string) (string, error) {
	if ev.NewRefreshToken != "" {
		token = ev.NewRefreshToken
	}
	s.mu.Lock()
	s.steamID = ev.SteamID
	s.token = token
	s.mu.Unlock()

	if err := s.await(ctx, s.licensesReady); err != nil {
		return "", errors.Wrap(err, "waiting for license list")
	}
	s.log.WithField("licenses", len(s.Licenses())).Info("session ready")
	return token, nil
}

func (s *Session) await(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the connection and joins the event pump. Safe to
// call on a session that never connected, and safe to call twice.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		s.startPump()
		s.client.Disconnect()
		close(s.pumpStop)
		<-s.pumpDone
	})
}

func (s *Session) startPump() {
	s.pumpOnce.Do(func() {
		go s.pump()
	})
}

// pump drains the client's event queue until Close or a user-initiated
// disconnect.
func (s *Session) pump() {
	defer close(s.pumpDone)
	for {
		select {
		case <-s.pumpStop:
			return
		default:
		}

		ev := s.client.Poll(pollInterval)
		if ev == nil {
			continue
		}
		switch ev := ev.(type) {
		case steam.ConnectedEvent:
			s.connectedOnce.Do(func() { close(s.connected) })
		case steam.LoggedOnEvent:
			select {
			case s.logonResults <- ev:
			default:
				s.log.Warn("dropping logon result, no waiter")
			}
		case steam.LicenseListEvent:
			s.mu.Lock()
			s.licenses = ev.Licenses
			s.mu.Unlock()
			s.licensesOnce.Do(func() { close(s.licensesReady) })
		case steam.DisconnectedEvent:
			if ev.UserInitiated {
				return
			}
			s.mu.Lock()
			closing := s.closing
			token := s.token
			s.mu.Unlock()
			if closing {
				return
			}
			s.log.Info("connection dropped, reconnecting")
			go s.reconnect(token)
		}
	}
}

// reconnect answers an unsolicited drop: wait, re-dial, re-logon with
// the current token. Runs off the pump goroutine so events keep
// flowing.
func (s *Session) reconnect(token string) {
	select {
	case <-time.After(reconnectDelay):
	case <-s.pumpStop:
		return
	}
	if err := s.client.Connect(); err != nil {
		s.log.WithError(err).Warn("reconnect failed")
		return
	}
	if token != "" {
		if err := s.client.LogOnWithToken(s.account, token); err != nil {
			s.log.WithError(err).Warn("re-logon failed")
		}
	}
}
