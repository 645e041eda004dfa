package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrIdentityMismatch is returned by Signer.Verify when the claims do not
// belong to the expected user.
var ErrIdentityMismatch = errors.New("token identity mismatch")

// Claims are the claims carried by a signed token. userId, username and role
// mirror what the seckill backend reads from its own tokens.
type Claims struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SignerOptions configures a Signer.
type SignerOptions struct {
	Secret    []byte
	Algorithm string // HS256, HS384 or HS512
	Issuer    string
	Role      string
	IssuedAt  int64
	ExpiresAt int64
}

// Signer is the Source for HMAC-signed JWTs. Timestamps come from the
// options and the jti is a name-based UUID, so output is reproducible for a
// given secret.
type Signer struct {
	method *jwt.SigningMethodHMAC
	opts   SignerOptions
}

// NewSigner validates opts and returns a Signer.
func NewSigner(opts SignerOptions) (*Signer, error) {
	if len(opts.Secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}
	method, ok := jwt.GetSigningMethod(opts.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", opts.Algorithm)
	}
	if opts.ExpiresAt <= opts.IssuedAt {
		return nil, fmt.Errorf("expires_at must be after issued_at")
	}
	return &Signer{method: method, opts: opts}, nil
}

// Mode implements Source.
func (s *Signer) Mode() string { return ModeSigned }

// Token implements Source.
func (s *Signer) Token(userID int, username string) (string, error) {
	claims := Claims{
		UserID:   userID,
		Username: username,
		Role:     s.opts.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.opts.Issuer,
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(time.Unix(s.opts.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(s.opts.ExpiresAt, 0)),
			ID:        TokenID(userID, username).String(),
		},
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.opts.Secret)
	if err != nil {
		return "", fmt.Errorf("signing token for user %d: %w", userID, err)
	}
	return signed, nil
}

// Verify checks the signature of tok and that it was issued for userID and
// username. Expiry is not enforced: fixture timestamps are fixed and usually
// in the past.
func (s *Signer) Verify(tok string, userID int, username string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.opts.Secret, nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims.UserID != userID || claims.Username != username {
		return nil, fmt.Errorf("%w: claims carry user %d/%q", ErrIdentityMismatch, claims.UserID, claims.Username)
	}
	if s.opts.Issuer != "" && claims.Issuer != s.opts.Issuer {
		return nil, fmt.Errorf("%w: issuer %q", ErrIdentityMismatch, claims.Issuer)
	}
	return &claims, nil
}

// TokenID is the deterministic jti for a user.
func TokenID(userID int, username string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%d:%s", userID, username)))
}
