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
	"errors"
	"fmt"
)

// AuthError is a logon rejection from the Steam auth service. Terminal
// rejections mean the stored credentials will never work again and the
// account should be dropped from the vault.
type AuthError struct {
	Code     string
	Terminal bool
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("steam auth: %s", e.Code)
}

// The rejections the orchestrator reacts to. Terminal ones trigger
// account removal; ExpiredRefreshToken triggers a one-shot fallback to
// password credentials.
var (
	ErrInvalidPassword     = &AuthError{Code: "InvalidPassword", Terminal: true}
	ErrEmailRequired       = &AuthError{Code: "AccountLogonDeniedVerifiedEmailRequired", Terminal: true}
	ErrNeedTwoFactor       = &AuthError{Code: "AccountLoginDeniedNeedTwoFactor", Terminal: true}
	ErrExpiredRefreshToken = &AuthError{Code: "ExpiredRefreshToken"}
)

// IsTerminalAuth reports whether err is an auth rejection that no retry
// or credential fallback can recover from.
func IsTerminalAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Terminal
}

// Per-manifest failures that are expected in bulk and skipped silently:
// they flood the logs otherwise.
var (
	ErrAccessDenied        = errors.New("access denied to manifest")
	ErrDepotKeyUnavailable = errors.New("failed to get depot key")
)
