package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nickyhof/GlobalDB/core"
)

const authJWT = "JWT"

var (
	ErrAuthNotConfigured = errors.New("authentication not configured")
	ErrNotAuthCommand    = errors.New("not an AUTH command")
	ErrNoIdentityClaims  = errors.New("token carries no identity claims")
)

// AuthConfig holds the JWT settings. With Enabled unset every session
// writes as the server identity.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string // HMAC key
	Issuer    string
	Audience  string

	// Claims holding the identity; "name" and "email" when empty.
	NameClaim  string
	EmailClaim string
}

func (a *AuthConfig) claimNames() (name, email string) {
	name, email = a.NameClaim, a.EmailClaim
	if name == "" {
		name = "name"
	}
	if email == "" {
		email = "email"
	}
	return name, email
}

func (a *AuthConfig) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}
	if a.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.Audience))
	}
	return opts
}

// ConnectionState is the auth state of one session.
type ConnectionState struct {
	identity      *core.Identity
	authenticated bool
	tokenExpiry   time.Time
}

func (cs *ConnectionState) IsAuthenticated() bool { return cs.authenticated }

// Identity is nil until the session authenticates.
func (cs *ConnectionState) Identity() *core.Identity { return cs.identity }

// Expired reports whether the session's token expired before now.
func (cs *ConnectionState) Expired(now time.Time) bool {
	return cs.authenticated && !cs.tokenExpiry.IsZero() && now.After(cs.tokenExpiry)
}

func (cs *ConnectionState) grant(id core.Identity, expiry time.Time) {
	cs.identity = &id
	cs.authenticated = true
	cs.tokenExpiry = expiry
}

// verifyToken checks signature, issuer and audience and returns the
// identity the token names along with its expiry, zero if it has none.
func (s *Server) verifyToken(raw string) (core.Identity, time.Time, error) {
	cfg := s.authConfig
	if cfg == nil {
		return core.Identity{}, time.Time{}, ErrAuthNotConfigured
	}
	key := func(*jwt.Token) (any, error) {
		if cfg.JWTSecret == "" {
			return nil, errors.New("no JWT secret configured")
		}
		return []byte(cfg.JWTSecret), nil
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, key, cfg.parserOptions()...); err != nil {
		return core.Identity{}, time.Time{}, fmt.Errorf("invalid token: %w", err)
	}

	nameClaim, emailClaim := cfg.claimNames()
	id := core.Identity{}
	id.Name, _ = claims[nameClaim].(string)
	id.Email, _ = claims[emailClaim].(string)
	if id.Name == "" && id.Email == "" {
		return core.Identity{}, time.Time{}, fmt.Errorf("%w (%s, %s)", ErrNoIdentityClaims, nameClaim, emailClaim)
	}

	var expiry time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiry = exp.Time
	}
	return id, expiry, nil
}

// parseAuthCommand splits "AUTH <type> <credentials>". Only JWT is
// accepted.
func parseAuthCommand(line string) (kind, credentials string, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "AUTH") {
		return "", "", ErrNotAuthCommand
	}
	if len(fields) < 3 {
		return "", "", errors.New("invalid AUTH command: expected AUTH <type> <credentials>")
	}
	kind = strings.ToUpper(fields[1])
	if kind != authJWT {
		return "", "", fmt.Errorf("unsupported auth type: %s", kind)
	}
	return kind, fields[2], nil
}

func authFailure(err error) Response {
	return Response{Type: TypeAuth, Error: err.Error()}
}

// handleAuth switches the session to the token's identity and
// reconnects it so later writes are authored by that identity.
func (s *Server) handleAuth(line string, sess *session) Response {
	_, token, err := parseAuthCommand(line)
	if err != nil {
		return authFailure(err)
	}
	id, expiry, err := s.verifyToken(token)
	if err != nil {
		s.log.Infow("Authentication failed", "remote", sess.nc.RemoteAddr().String(), "err", err)
		return authFailure(err)
	}
	sess.state.grant(id, expiry)
	sess.reconnect()
	s.log.Infow("Client authenticated", "remote", sess.nc.RemoteAddr().String(), "identity", id.String())

	ar := AuthResponse{Authenticated: true, Identity: id.String()}
	if !expiry.IsZero() {
		ar.ExpiresIn = int(time.Until(expiry).Seconds())
	}
	data, _ := json.Marshal(ar)
	return Response{Success: true, Type: TypeAuth, Result: data}
}
