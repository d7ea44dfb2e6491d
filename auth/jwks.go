// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/arclab/eln/eln"
)

// JWKSConfig configures validation against a managed identity provider.
type JWKSConfig struct {
	IssuerURL string
	JWKSURL   string
	ClientID  string
	// GroupsClaim names the claim carrying group membership, "groups" when
	// empty.
	GroupsClaim string
}

// JWKSValidator validates RS256 tokens signed by a managed provider whose
// keys are served at a well-known JWKS endpoint.
//
// The key set is cached in process and refreshed in the background by the
// keyfunc package, including a rate-limited refresh on unknown key ids, so
// request goroutines never block on a network fetch.
type JWKSValidator struct {
	log    *zap.Logger
	config JWKSConfig
	keys   jwt.Keyfunc
	parser *jwt.Parser
}

var _ Validator = (*JWKSValidator)(nil)

// NewJWKSValidator creates a validator and starts the background key
// refresh. The initial fetch happens here so that a misconfigured endpoint
// fails eagerly.
func NewJWKSValidator(ctx context.Context, log *zap.Logger, config JWKSConfig) (*JWKSValidator, error) {
	keys, err := keyfunc.NewDefaultCtx(ctx, []string{config.JWKSURL})
	if err != nil {
		return nil, eln.ErrProviderUnreachable.Wrap(Error.New("fetching jwks: %v", err))
	}
	return NewJWKSValidatorWithKeyfunc(log, config, keys.Keyfunc), nil
}

// NewJWKSValidatorWithKeyfunc creates a validator with an explicit keyfunc.
// Tests use it to inject static keys.
func NewJWKSValidatorWithKeyfunc(log *zap.Logger, config JWKSConfig, keys jwt.Keyfunc) *JWKSValidator {
	if config.GroupsClaim == "" {
		config.GroupsClaim = "groups"
	}
	return &JWKSValidator{
		log:    log,
		config: config,
		keys:   keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithIssuer(config.IssuerURL),
			jwt.WithAudience(config.ClientID),
			jwt.WithExpirationRequired(),
		),
	}
}

// Validate checks signature, issuer, audience, expiry and token type, then
// derives the User. No claim value is ever logged.
func (validator *JWKSValidator) Validate(ctx context.Context, bearer string) (_ *User, err error) {
	defer mon.Task()(&ctx)(&err)

	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, eln.ErrUnauthenticated.Wrap(Error.New("missing bearer token"))
	}

	claims := jwt.MapClaims{}
	token, err := validator.parser.ParseWithClaims(bearer, claims, validator.keys)
	if err != nil {
		return nil, classifyJWT(err)
	}
	if !token.Valid {
		return nil, eln.ErrUnauthenticated.Wrap(Error.New("token rejected"))
	}

	if use, ok := claims["token_use"].(string); ok {
		if use != "access" && use != "id" {
			return nil, eln.ErrUnauthenticated.Wrap(Error.New("unacceptable token type"))
		}
	}

	email, _ := claims["email"].(string)
	subject, _ := claims.GetSubject()
	id, err := deriveID(email, subject)
	if err != nil {
		return nil, err
	}

	return &User{
		ID:     id,
		Email:  email,
		Groups: stringSlice(claims[validator.config.GroupsClaim]),
	}, nil
}

func classifyJWT(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return eln.ErrUnauthenticated.Wrap(ErrTokenExpired.New("token expired"))
	case errors.Is(err, jwt.ErrTokenMalformed):
		return eln.ErrUnauthenticated.Wrap(ErrTokenMalformed.New("token malformed"))
	default:
		return eln.ErrUnauthenticated.Wrap(Error.New("token rejected: %v", err))
	}
}

func stringSlice(value any) []string {
	switch typed := value.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if typed == "" {
			return nil
		}
		return strings.Split(typed, ",")
	}
	return nil
}
