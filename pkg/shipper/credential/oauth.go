package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshBuffer = 300 * time.Second
	defaultTokenTimeout  = 15 * time.Second
)

// OAuthConfig holds client-credentials settings for one carrier.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// TokenResponse is the token endpoint reply.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// ExchangeObserver is notified after every token exchange.
type ExchangeObserver func(carrier string, duration time.Duration, err error)

// OAuthProvider exchanges client credentials for bearer tokens and caches
// them per carrier. Concurrent refreshes for one carrier share a single
// token request.
type OAuthProvider struct {
	configs    map[string]OAuthConfig
	cache      map[string]shipper.Credential
	mu         sync.RWMutex
	group      singleflight.Group
	httpClient *http.Client
	buffer     time.Duration
	timeout    time.Duration
	now        func() time.Time
	policy     RetryPolicy
	observer   ExchangeObserver
	logger     *otelzap.Logger
}

// OAuthOption configures an OAuthProvider.
type OAuthOption func(*OAuthProvider)

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) OAuthOption {
	return func(p *OAuthProvider) { p.httpClient = c }
}

// WithRefreshBuffer sets how long before expiry a token is refreshed.
func WithRefreshBuffer(d time.Duration) OAuthOption {
	return func(p *OAuthProvider) { p.buffer = d }
}

// WithTokenTimeout bounds a single token exchange.
func WithTokenTimeout(d time.Duration) OAuthOption {
	return func(p *OAuthProvider) { p.timeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) OAuthOption {
	return func(p *OAuthProvider) { p.now = now }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) OAuthOption {
	return func(p *OAuthProvider) { p.policy = policy }
}

// WithExchangeObserver registers a callback run after each token exchange.
func WithExchangeObserver(o ExchangeObserver) OAuthOption {
	return func(p *OAuthProvider) { p.observer = o }
}

// NewOAuthProvider creates an OAuth client-credentials provider.
func NewOAuthProvider(logger *otelzap.Logger, opts ...OAuthOption) *OAuthProvider {
	p := &OAuthProvider{
		configs:    make(map[string]OAuthConfig),
		cache:      make(map[string]shipper.Credential),
		httpClient: &http.Client{},
		buffer:     defaultRefreshBuffer,
		timeout:    defaultTokenTimeout,
		now:        time.Now,
		policy:     DefaultRetryPolicy(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register configures the token endpoint for carrier.
func (p *OAuthProvider) Register(carrier string, cfg OAuthConfig) *OAuthProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[carrier] = cfg
	delete(p.cache, carrier)
	return p
}

// Policy returns the retry policy.
func (p *OAuthProvider) Policy() RetryPolicy {
	return p.policy
}

// Acquire returns the cached token for carrier, exchanging client
// credentials first when there is none or it is within the refresh buffer
// of its expiry.
func (p *OAuthProvider) Acquire(ctx context.Context, carrier string) (shipper.Credential, error) {
	if cred, ok := p.cached(carrier); ok {
		return cred, nil
	}

	p.mu.RLock()
	cfg, ok := p.configs[carrier]
	p.mu.RUnlock()
	if !ok {
		return shipper.Credential{}, shipper.NewAuthError(carrier, "no oauth client configured")
	}

	// Shared by all waiters: keeps request values, drops the caller's cancellation.
	exchangeCtx := context.WithoutCancel(ctx)

	ch := p.group.DoChan(carrierKey(carrier), func() (interface{}, error) {
		if cred, ok := p.cached(carrier); ok {
			return cred, nil
		}
		return p.refresh(exchangeCtx, carrier, cfg)
	})

	select {
	case <-ctx.Done():
		return shipper.Credential{}, shipper.NewAuthError(carrier, "waiting for token").WithCause(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return shipper.Credential{}, res.Err
		}
		return res.Val.(shipper.Credential), nil
	}
}

// Invalidate drops the cached token for carrier.
func (p *OAuthProvider) Invalidate(carrier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, carrier)
}

func (p *OAuthProvider) cached(carrier string) (shipper.Credential, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cred, ok := p.cache[carrier]
	if !ok || cred.Expired(p.now(), p.buffer) {
		return shipper.Credential{}, false
	}
	return cred, true
}

func (p *OAuthProvider) refresh(ctx context.Context, carrier string, cfg OAuthConfig) (shipper.Credential, error) {
	start := time.Now()
	cred, err := p.exchange(ctx, carrier, cfg)
	if p.observer != nil {
		p.observer(carrier, time.Since(start), err)
	}
	if err != nil {
		p.logger.Error("Token exchange failed",
			zap.String("carrier", carrier),
			zap.Error(err),
		)
		return shipper.Credential{}, err
	}

	p.mu.Lock()
	p.cache[carrier] = cred
	p.mu.Unlock()

	p.logger.Info("Token refreshed",
		zap.String("carrier", carrier),
		zap.Time("expires_at", *cred.ExpiresAt),
	)
	return cred, nil
}

func (p *OAuthProvider) exchange(ctx context.Context, carrier string, cfg OAuthConfig) (shipper.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return shipper.Credential{}, shipper.NewAuthError(carrier, "building token request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	requestedAt := p.now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return shipper.Credential{}, shipper.NewAuthError(carrier, "token request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return shipper.Credential{}, shipper.NewAuthError(carrier, "reading token response").WithCause(err).WithStatusCode(resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return shipper.Credential{}, shipper.NewAuthError(carrier, fmt.Sprintf("token endpoint returned %d", resp.StatusCode)).
			WithStatusCode(resp.StatusCode).
			WithPayload(body)
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return shipper.Credential{}, shipper.NewAuthError(carrier, "malformed token response").
			WithCause(err).
			WithStatusCode(resp.StatusCode).
			WithPayload(body)
	}
	if token.AccessToken == "" || token.ExpiresIn <= 0 {
		return shipper.Credential{}, shipper.NewAuthError(carrier, "token response missing access_token or expires_in").
			WithStatusCode(resp.StatusCode).
			WithPayload(body)
	}

	expiresAt := requestedAt.Add(time.Duration(token.ExpiresIn) * time.Second)
	return shipper.Credential{
		Carrier:     carrier,
		Scheme:      shipper.SchemeBearer,
		AccessToken: token.AccessToken,
		ExpiresAt:   &expiresAt,
	}, nil
}
