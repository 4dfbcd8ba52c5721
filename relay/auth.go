package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"prism-live/domain"
)

var (
	ErrMissingToken  = errors.New("missing token")
	ErrBadAuthHeader = errors.New("bad auth header")
	ErrInvalidClaims = errors.New("invalid claims")
	ErrTokenExpired  = errors.New("token expired")
)

// Auth validates bearer tokens. Production tokens are RS256 checked against a
// JWKS; test mode accepts HS256 tokens signed with a shared secret.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte
}

func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
}

func NewTestAuth(secret []byte) *Auth {
	if len(secret) == 0 {
		panic("test secret is required")
	}
	return &Auth{TestMode: true, TestSecret: secret}
}

// IdentityFromRequest reads the token from the Authorization header, or from
// the token query parameter for clients that cannot set headers.
func (a *Auth) IdentityFromRequest(r *http.Request) (domain.Identity, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return domain.Identity{}, ErrBadAuthHeader
		}
		return a.IdentityFromToken(parts[1])
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return a.IdentityFromToken(t)
	}
	return domain.Identity{}, ErrMissingToken
}

func (a *Auth) IdentityFromToken(tokenStr string) (domain.Identity, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return domain.Identity{}, ErrBadAuthHeader
	}

	var (
		token *jwt.Token
		err   error
	)
	if a.TestMode {
		token, err = jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
	} else {
		if a.JWKS == nil {
			return domain.Identity{}, errors.New("jwks not configured")
		}
		parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
		token, err = parser.Parse(tokenStr, a.JWKS.Keyfunc)
	}
	if err != nil {
		return domain.Identity{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Identity{}, ErrInvalidClaims
	}
	if !a.TestMode {
		now := time.Now().Add(time.Minute).Unix()
		if !claims.VerifyExpiresAt(now, true) {
			return domain.Identity{}, ErrTokenExpired
		}
		if !claims.VerifyNotBefore(now, false) {
			return domain.Identity{}, errors.New("token not valid yet")
		}
		if !claims.VerifyAudience(a.Audience, false) {
			return domain.Identity{}, errors.New("invalid audience")
		}
		if !claims.VerifyIssuer(a.Issuer, false) {
			return domain.Identity{}, errors.New("invalid issuer")
		}
	}
	return identityFromClaims(claims)
}

func identityFromClaims(claims jwt.MapClaims) (domain.Identity, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing sub", ErrInvalidClaims)
	}
	id := domain.Identity{UserID: sub, Role: domain.RoleUser}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if role, ok := claims["role"].(string); ok && role != "" {
		id.Role = role
	}
	return id, nil
}

// SignTestToken issues an HS256 token that a test-mode Auth with the same
// secret accepts.
func SignTestToken(secret []byte, id domain.Identity, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("test secret is required")
	}
	if id.UserID == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidClaims)
	}
	claims := jwt.MapClaims{
		"sub": id.UserID,
		"exp": time.Now().Add(ttl).Unix(),
	}
	if id.Email != "" {
		claims["email"] = id.Email
	}
	if id.Role != "" {
		claims["role"] = id.Role
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
