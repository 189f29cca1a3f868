package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// Tokens issues and verifies HS256 bearer tokens whose subject is the
// caller's address.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens returns a Tokens signing with secret. A zero ttl means one hour.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for address.
func (t *Tokens) Issue(address string) (string, error) {
	if address == "" {
		return "", eris.New("api: token subject is required")
	}
	if len(t.secret) == 0 {
		return "", eris.New("api: jwt secret not configured")
	}
	now := t.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   address,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		Issuer:    "dmrv",
	})
	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return "", eris.Wrap(err, "api: sign token")
	}
	return signed, nil
}

// Verify checks token and returns its subject.
func (t *Tokens) Verify(token string) (string, error) {
	if len(t.secret) == 0 {
		return "", eris.New("api: jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return "", eris.Wrap(err, "api: parse token")
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", eris.New("api: token has no subject")
	}
	return claims.Subject, nil
}

type callerKey struct{}

// CallerFrom returns the authenticated address carried by ctx.
func CallerFrom(ctx context.Context) string {
	s, _ := ctx.Value(callerKey{}).(string)
	return s
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// authenticate rejects requests without a valid bearer token and stores the
// token subject as the caller.
func (t *Tokens) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeStatus(w, http.StatusUnauthorized, "unauthenticated", "bearer token required")
			return
		}
		caller, err := t.Verify(raw)
		if err != nil {
			writeStatus(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}
