// Package token builds the synthetic authentication tokens written into
// load-test fixture files.
//
// Mock tokens only look like JWTs: the third segment is a truncated SHA-256
// of the user identity, not a signature. They are test fixture data and must
// never be treated as credentials. Signed tokens (see Signer) are real HMAC
// JWTs for backends that verify signatures during a load test.
package token

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// Header is the fixed base64 of {"alg":"HS256","typ":"JWT"} used by every
	// mock token.
	Header = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9"

	// MockIssuedAt and MockExpiresAt are the iat/exp values embedded in every
	// mock payload. They are constant so output is reproducible across runs.
	MockIssuedAt  int64 = 1700000000
	MockExpiresAt int64 = 1731536000

	// DefaultUsernamePrefix is prepended to the zero-padded user id.
	DefaultUsernamePrefix = "seckill_user_"

	signatureSuffix = "secret_key"
	signatureLen    = 43
)

// Mode names accepted by configuration and the CLI.
const (
	ModeMock   = "mock"
	ModeSigned = "signed"
)

// ErrMalformed is returned when a token does not have the
// header.payload.signature shape.
var ErrMalformed = errors.New("malformed token")

// Source produces the token for one user record.
type Source interface {
	Mode() string
	Token(userID int, username string) (string, error)
}

// Username returns prefix followed by id zero-padded to at least 4 digits.
// Ids of 5 or more digits widen rather than truncate.
func Username(prefix string, id int) string {
	return fmt.Sprintf("%s%04d", prefix, id)
}

// GenerateToken returns the mock token for a user. It is a pure function of
// its arguments: equal inputs always yield the same string.
func GenerateToken(userID int, username string) string {
	// Built by hand rather than json.Marshal: field order and spacing are
	// part of the fixture format.
	plaintext := fmt.Sprintf(`{"userId":%d,"username":"%s","iat":%d,"exp":%d}`,
		userID, username, MockIssuedAt, MockExpiresAt)
	payload := base64.RawStdEncoding.EncodeToString([]byte(plaintext))

	sum := sha256.Sum256([]byte(fmt.Sprintf("%d_%s_%s", userID, username, signatureSuffix)))
	signature := hex.EncodeToString(sum[:])[:signatureLen]

	return Header + "." + payload + "." + signature
}

// Mock is the Source for mock tokens.
type Mock struct{}

// Mode implements Source.
func (Mock) Mode() string { return ModeMock }

// Token implements Source. It never fails.
func (Mock) Token(userID int, username string) (string, error) {
	return GenerateToken(userID, username), nil
}

// Payload is the decoded middle segment of a mock token.
type Payload struct {
	UserID    int    `json:"userId"`
	Username  string `json:"username"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Split breaks a token into its three segments.
func Split(tok string) (header, payload, signature string, err error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: want 3 segments, got %d", ErrMalformed, len(parts))
	}
	for i, p := range parts {
		if p == "" {
			return "", "", "", fmt.Errorf("%w: segment %d is empty", ErrMalformed, i)
		}
	}
	return parts[0], parts[1], parts[2], nil
}

// Inspect decodes the payload of a mock token. The signature segment is only
// checked for shape.
func Inspect(tok string) (*Payload, error) {
	header, payload, signature, err := Split(tok)
	if err != nil {
		return nil, err
	}
	if header != Header {
		return nil, fmt.Errorf("%w: unexpected header %q", ErrMalformed, header)
	}
	if !isLowerHex(signature) || len(signature) != signatureLen {
		return nil, fmt.Errorf("%w: signature must be %d lowercase hex chars", ErrMalformed, signatureLen)
	}

	raw, err := base64.RawStdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding payload: %w", ErrMalformed, err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: parsing payload: %w", ErrMalformed, err)
	}
	return &p, nil
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
