package token

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mailtrendz/authcore/internal"
)

// ErrSignatureInvalid is returned when a token was tampered with or signed
// with a different secret (including the other kind's secret).
var ErrSignatureInvalid = errors.New("token signature invalid")

// ErrExpired is returned when a structurally valid, correctly signed token is
// past its expiry.
var ErrExpired = errors.New("token expired")

// ErrMalformed is returned when a token is not something this system produced.
var ErrMalformed = errors.New("token malformed")

// Payload carries the claims embedded in and extracted from a bearer token.
//
// Tier is a seed value: it reflects the principal's subscription tier at
// issuance time and is re-resolved by the verifier on every use.
type Payload struct {
	PrincipalID string
	Email       string
	Tier        string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type bearerClaims struct {
	Email string `json:"email,omitempty"`
	Tier  string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// Config holds codec construction parameters.
//
// AccessSecret and RefreshSecret must differ; signing the two token kinds
// with independent secrets is what prevents cross-kind replay.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string

	// Now is the clock used for issuance timestamps and expiry validation.
	// Defaults to time.Now.
	Now func() time.Time
}

// Codec signs and verifies bearer tokens. A Codec is immutable after
// construction and safe for concurrent use.
type Codec struct {
	config Config
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) == 0 {
		return nil, errors.New("access secret required")
	}
	if len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("refresh secret required")
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	return &Codec{config: cfg}, nil
}

// EncodeAccess mints a signed access token for the principal.
func (c *Codec) EncodeAccess(principalID, email, tier string, ttl time.Duration) (string, Payload, error) {
	return c.encode(c.config.AccessSecret, principalID, email, tier, ttl)
}

// EncodeRefresh mints a signed refresh token for the principal.
func (c *Codec) EncodeRefresh(principalID, email, tier string, ttl time.Duration) (string, Payload, error) {
	return c.encode(c.config.RefreshSecret, principalID, email, tier, ttl)
}

// DecodeAccess verifies an access token and returns its payload. Failures are
// one of [ErrExpired], [ErrSignatureInvalid], or [ErrMalformed].
func (c *Codec) DecodeAccess(tokenStr string) (Payload, error) {
	return c.decode(c.config.AccessSecret, tokenStr)
}

// DecodeRefresh verifies a refresh token and returns its payload. Failure
// classification matches [Codec.DecodeAccess].
func (c *Codec) DecodeRefresh(tokenStr string) (Payload, error) {
	return c.decode(c.config.RefreshSecret, tokenStr)
}

func (c *Codec) encode(secret []byte, principalID, email, tier string, ttl time.Duration) (string, Payload, error) {
	if principalID == "" {
		return "", Payload{}, errors.New("principal id required")
	}
	if ttl <= 0 {
		return "", Payload{}, errors.New("invalid token ttl")
	}

	now := c.config.Now()
	issued := now.Truncate(time.Second)
	expires := issued.Add(ttl)

	claims := bearerClaims{
		Email: email,
		Tier:  tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			ID:        internal.NewTokenID(now),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if c.config.Issuer != "" {
		claims.Issuer = c.config.Issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", Payload{}, err
	}

	return signed, Payload{
		PrincipalID: principalID,
		Email:       email,
		Tier:        tier,
		TokenID:     claims.ID,
		IssuedAt:    issued,
		ExpiresAt:   expires,
	}, nil
}

func (c *Codec) decode(secret []byte, tokenStr string) (Payload, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.config.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &bearerClaims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return Payload{}, classifyParseError(err)
	}

	claims, ok := parsed.Claims.(*bearerClaims)
	if !ok || !parsed.Valid {
		return Payload{}, ErrMalformed
	}
	if claims.Subject == "" || claims.ID == "" ||
		claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Payload{}, fmt.Errorf("%w: missing required claim", ErrMalformed)
	}

	return Payload{
		PrincipalID: claims.Subject,
		Email:       claims.Email,
		Tier:        claims.Tier,
		TokenID:     claims.ID,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// classifyParseError maps golang-jwt failure modes onto the codec taxonomy.
// Signature verification runs before claims validation, so an expired token
// with a bad signature surfaces as ErrSignatureInvalid, never ErrExpired.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
