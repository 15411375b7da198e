// Viewgate - Navigation Authorization and Role Gating
// Copyright 2026 Viewgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/viewgate/viewgate

// Package token handles the session token: a signed JWT carrying identity
// and a versioned claims schema, plus the process-local claims mirror used
// by the role resolver's fast path.
//
// Claims decode is all-or-nothing: a token whose claims fail schema
// validation is rejected outright, never partially honored.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
)

// SchemaVersion is the current claims schema version. Tokens carrying any
// other version are rejected.
const SchemaVersion = 1

// Standard token errors.
var (
	// ErrTokenInvalid indicates a malformed token or bad signature.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired indicates the token's expiry has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrClaimsSchema indicates the claims failed schema validation.
	ErrClaimsSchema = errors.New("claims schema invalid")
)

// Claims is the only supported claims shape for session tokens.
// Subject carries the identity id; Role is the claims mirror of the
// persistent role record at token issue time.
type Claims struct {
	jwt.RegisteredClaims

	SchemaVersion int               `json:"schema_version" validate:"required,eq=1"`
	Role          string            `json:"role" validate:"required"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

var validate = validator.New()

// Validate checks the claims against the schema. Called on every decode.
func (c *Claims) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrClaimsSchema, err)
	}
	if c.Subject == "" {
		return fmt.Errorf("%w: missing subject", ErrClaimsSchema)
	}
	return nil
}

// Identity is the decoded, validated view of a session token handed to the
// gate and the authorization state machine.
type Identity struct {
	// ID is the identity id (JWT subject).
	ID string

	// Role is the role claim embedded at token issue time. A claims-mirror
	// value only; authorization decisions go through the resolver.
	Role string

	// IssuedAt is when the token (and therefore the role claim) was minted.
	IssuedAt time.Time

	// Attributes are opaque identity attributes carried in claims.
	Attributes map[string]string
}
