// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

package authflow

// Cause is the internal reason for a DENY. It is logged and counted but
// never exposed to the user: the visible behavior is uniform (loader, then
// redirect) regardless of cause.
type Cause string

const (
	// CauseNone means the session was not denied.
	CauseNone Cause = ""

	// CauseAuthInvalid means the token was missing, malformed, or
	// expired. Fail closed, redirect to sign-in.
	CauseAuthInvalid Cause = "AUTH_INVALID"

	// CauseRoleUnresolved means the role store was unreachable after the
	// single bounded retry. Fail closed, redirect, logged.
	CauseRoleUnresolved Cause = "ROLE_UNRESOLVED"

	// CauseRoleMismatch means a valid identity holds a role outside the
	// path's allowed set. Expected case; redirect, no error log.
	CauseRoleMismatch Cause = "ROLE_MISMATCH"
)
