package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/ada/api/metrics"
	"github.com/malbeclabs/ada/pkg/errkind"
)

const (
	DefaultJWKSCacheTTL = 10 * time.Minute
	// DefaultUnknownKIDInterval is the minimum time between refetches
	// triggered by tokens signed with a key id not in the cached set.
	DefaultUnknownKIDInterval = time.Minute
)

var ErrMissingToken = errors.New("auth: missing bearer token")

type AccountType string

const (
	AccountUser    AccountType = "USER"
	AccountService AccountType = "SERVICE"
)

// Principal is the caller identified by a verified token.
type Principal struct {
	Subject     string      `json:"sub"`
	Email       string      `json:"email,omitempty"`
	GivenName   string      `json:"given_name,omitempty"`
	FamilyName  string      `json:"family_name,omitempty"`
	FMNO        string      `json:"fmno,omitempty"`
	ClientID    string      `json:"client_id,omitempty"`
	AccountType AccountType `json:"account_type"`
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	FMNO       any    `json:"fmno"`
	ClientID   string `json:"clientId"`
}

type AuthConfig struct {
	Logger   *slog.Logger
	JWKSURI  string
	Audience string
	Issuer   string

	// CacheTTL is the JWKS refresh interval.
	CacheTTL           time.Duration
	UnknownKIDInterval time.Duration
	HTTPClient         *http.Client
	Clock              clockwork.Clock
}

func (c *AuthConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("auth: logger is required")
	}
	if c.JWKSURI == "" {
		return errors.New("auth: JWKS URI is required")
	}
	if c.Audience == "" {
		return errors.New("auth: audience is required")
	}
	if c.Issuer == "" {
		return errors.New("auth: issuer is required")
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultJWKSCacheTTL
	}
	if c.UnknownKIDInterval <= 0 {
		c.UnknownKIDInterval = DefaultUnknownKIDInterval
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Authenticator verifies RS256 bearer tokens against a JWKS endpoint.
type Authenticator struct {
	log  *slog.Logger
	cfg  AuthConfig
	keys keyfunc.Keyfunc
}

// NewAuthenticator fetches the key set once and refreshes it in the
// background until ctx is done. An unreachable endpoint at startup is
// logged, not returned; keys are fetched on first use instead.
func NewAuthenticator(ctx context.Context, cfg *AuthConfig) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	u, err := url.Parse(cfg.JWKSURI)
	if err != nil {
		return nil, fmt.Errorf("auth: JWKS URI: %w", err)
	}
	remote, err := jwkset.NewStorageFromHTTP(u, jwkset.HTTPClientStorageOptions{
		Client:                    cfg.HTTPClient,
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.CacheTTL,
		RefreshErrorHandler: func(ctx context.Context, err error) {
			log.Warn("auth: JWKS refresh failed", "uri", cfg.JWKSURI, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("auth: JWKS storage: %w", err)
	}
	storage, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{cfg.JWKSURI: remote},
		RateLimitWaitMax:  time.Second,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(cfg.UnknownKIDInterval), 1),
	})
	if err != nil {
		return nil, fmt.Errorf("auth: JWKS client: %w", err)
	}
	kf, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("auth: keyfunc: %w", err)
	}
	return &Authenticator{log: log, cfg: *cfg, keys: kf}, nil
}

// Authenticate verifies the Authorization header value and returns the
// caller.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*Principal, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, ErrMissingToken
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.keys.KeyfuncCtx(ctx)(token)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(a.cfg.Audience),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.cfg.Clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	p := &Principal{Subject: claims.Subject}
	if claims.Email != "" {
		p.Email = strings.ToLower(claims.Email)
		p.GivenName = claims.GivenName
		p.FamilyName = claims.FamilyName
		if claims.FMNO != nil {
			p.FMNO = fmt.Sprint(claims.FMNO)
		}
		p.AccountType = AccountUser
	} else {
		p.ClientID = claims.ClientID
		if p.ClientID == "" {
			p.ClientID = claims.Subject
		}
		p.AccountType = AccountService
	}
	return p, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			reason := "invalid"
			switch {
			case errors.Is(err, ErrMissingToken):
				reason = "missing"
			case errors.Is(err, jwt.ErrTokenExpired):
				reason = "expired"
			}
			metrics.AuthFailures.WithLabelValues(reason).Inc()
			a.log.Info("auth: rejected request", "path", r.URL.Path, "reason", reason, "error", err)
			writeJSON(w, http.StatusBadRequest, failure{Status: "failed", ErrorKind: errkind.Auth, Message: "authentication"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
