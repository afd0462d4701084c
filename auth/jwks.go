package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSOption configures optional claim requirements on the JWKS authenticator.
type JWKSOption func(*JWKSAuthenticator)

// WithIssuer requires the "iss" claim to match exactly.
func WithIssuer(iss string) JWKSOption {
	return func(a *JWKSAuthenticator) { a.issuer = iss }
}

// WithAudience requires the "aud" claim to contain aud.
func WithAudience(aud string) JWKSOption {
	return func(a *JWKSAuthenticator) { a.audience = aud }
}

// JWKSAuthenticator validates RS256/ES256 bearer JWTs against a remote JWKS
// document. Key material is fetched and refreshed by keyfunc.
type JWKSAuthenticator struct {
	kf       keyfunc.Keyfunc
	issuer   string
	audience string
}

var _ Authenticator = (*JWKSAuthenticator)(nil)

// NewJWKS fetches the JWKS document at jwksURL and returns an authenticator
// backed by it. The context bounds the initial fetch and background refresh.
func NewJWKS(ctx context.Context, jwksURL string, opts ...JWKSOption) (*JWKSAuthenticator, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS %q: %w", jwksURL, err)
	}
	a := &JWKSAuthenticator{kf: kf}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// CheckAuthentication implements Authenticator.
func (a *JWKSAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	parseOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(a.audience))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(tok, claims, a.kf.Keyfunc, parseOpts...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return &claimsUser{sub: sub, claims: claims}, nil
}

type claimsUser struct {
	sub    string
	claims jwt.MapClaims
}

func (u *claimsUser) UserID() string { return u.sub }

func (u *claimsUser) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return fmt.Errorf("marshal claims: %w", err)
	}
	return json.Unmarshal(b, ref)
}
