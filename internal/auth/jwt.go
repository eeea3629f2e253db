package auth

import (
	"context"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// signJWT builds and signs a service-account style JWT. With a token_url the
// JWT is exchanged for an access token (Google style); otherwise the JWT
// itself is the bearer token.
func (a *Authenticator) signJWT(ctx context.Context) (*CachedToken, error) {
	lifetime := a.spec.TokenLifetimeSeconds
	if lifetime == 0 {
		lifetime = 3600
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": a.spec.Issuer,
		"aud": a.spec.Audience,
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(lifetime) * time.Second).Unix(),
	}
	if a.spec.Subject != "" {
		claims["sub"] = a.spec.Subject
	}
	for k, v := range a.spec.Claims {
		claims[k] = v
	}

	var (
		signed string
		err    error
	)
	switch a.spec.Algorithm {
	case "HS256":
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err = token.SignedString([]byte(a.spec.PrivateKey))
	case "", "RS256":
		key, keyErr := jwt.ParseRSAPrivateKeyFromPEM([]byte(a.spec.PrivateKey))
		if keyErr != nil {
			return nil, errorf("invalid private key: %v", keyErr)
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		signed, err = token.SignedString(key)
	default:
		return nil, errorf("unsupported jwt algorithm: %s", a.spec.Algorithm)
	}
	if err != nil {
		return nil, errorf("failed to sign jwt: %v", err)
	}

	if a.spec.TokenURL != "" {
		form := url.Values{
			"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
			"assertion":  {signed},
		}
		return a.postTokenForm(ctx, a.spec.TokenURL, form)
	}

	return &CachedToken{
		Token:     signed,
		ExpiresAt: now.Add(time.Duration(lifetime) * time.Second),
	}, nil
}
