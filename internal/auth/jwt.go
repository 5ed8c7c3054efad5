// Package auth verifies the signed tokens presented by connecting clients and
// mints them for local testing.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every reason a token is refused: missing, malformed,
// expired, signed with another key or carrying no subject.
var ErrInvalidToken = errors.New("auth: invalid token")

// DefaultTTL is the lifetime of tokens minted by Signer.
const DefaultTTL = 4 * time.Hour

// Identity is the authenticated subject extracted from a verified token.
type Identity struct {
	Subject string
}

// Verifier validates a raw token and returns the identity it carries.
// Implementations must not mutate shared state.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Options configures HMAC signing and verification.
type Options struct {
	Secret []byte
	Alg    string        // HS256, HS384 or HS512; empty means HS256
	TTL    time.Duration // lifetime of minted tokens
	Leeway time.Duration // clock skew tolerated on exp/nbf/iat
}

// Claims is the token payload. The user id travels in "id"; "sub" is
// accepted as a fallback for tokens minted by other issuers.
type Claims struct {
	UserID string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HMAC-signed JWTs.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier builds a verifier. The secret must not be empty.
func NewJWTVerifier(opts Options) (*JWTVerifier, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(opts.Leeway))
	}

	return &JWTVerifier{
		secret: opts.Secret,
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	subject := claims.UserID
	if subject == "" {
		subject = claims.Subject
	}
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: no subject claim", ErrInvalidToken)
	}
	return Identity{Subject: subject}, nil
}

// Signer mints tokens accepted by a JWTVerifier with the same options.
type Signer struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner builds a signer. A non-positive TTL falls back to DefaultTTL.
func NewSigner(opts Options) (*Signer, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: opts.Secret, method: method, ttl: ttl, now: time.Now}, nil
}

// Sign returns a token for userID and its expiry.
func (s *Signer) Sign(userID string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("auth: empty user id")
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("auth: unsupported alg %s (use HS256/HS384/HS512)", alg)
	}
}
