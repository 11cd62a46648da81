// Package auth verifies RS256 bearer tokens and maps them to user ids.
// It sits between the HTTP parser and the router; any failure here is
// terminal for the request.
package auth

import (
	"crypto/rsa"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quantegy/ordergate/pkg/core"
	"github.com/quantegy/ordergate/pkg/rawhttp"
)

// Verifier validates tokens against a single configured public key.
// Built once at startup, read-only afterwards.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier parses a PEM public key. Literal "\n" sequences are
// normalized so the key can ride in a single-line env var.
func NewVerifier(pemKey string) (*Verifier, error) {
	normalized := strings.ReplaceAll(pemKey, `\n`, "\n")
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(normalized))
	if err != nil {
		return nil, err
	}
	return &Verifier{key: key}, nil
}

// Authenticate extracts and verifies the request's token, returning the
// subject as the user id. Extraction policy follows the path: websocket
// paths carry the token as ?token=, everything else as a bearer header.
func (v *Verifier) Authenticate(req *rawhttp.Request) (int32, error) {
	var token string
	if strings.Contains(req.Path, "ws") {
		token = req.Params["token"]
	} else {
		token = bearerToken(req.Header("authorization"))
	}
	if token == "" {
		return 0, core.Errf(core.KindUnauthorized, "missing token")
	}
	return v.UserID(token)
}

// UserID verifies an RS256 token and parses its sub claim as int32.
// exp is enforced and required; aud is not checked.
func (v *Verifier) UserID(token string) (int32, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return v.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, core.Wrap(core.KindUnauthorized, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 32)
	if err != nil {
		return 0, core.Errf(core.KindUnauthorized, "subject %q is not a user id", claims.Subject)
	}
	return int32(id), nil
}

// bearerToken returns the token from an "Authorization: Bearer <token>"
// header, or "" when the header is absent or malformed.
func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
