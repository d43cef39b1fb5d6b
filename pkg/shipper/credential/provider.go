// Package credential manages carrier access credentials: static Basic
// credentials and OAuth2 client-credentials tokens cached per carrier.
package credential

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/tournevent/carrierbridge/pkg/shipper"
)

// Provider supplies carrier credentials.
type Provider interface {
	// Acquire returns a usable credential for carrier, refreshing it if needed.
	Acquire(ctx context.Context, carrier string) (shipper.Credential, error)

	// Invalidate drops any cached credential for carrier.
	Invalidate(carrier string)

	// Policy returns the retry policy applied to calls made with this provider.
	Policy() RetryPolicy
}

// StaticProvider serves precomputed Basic credentials that never expire.
type StaticProvider struct {
	creds  map[string]shipper.Credential
	policy RetryPolicy
	mu     sync.RWMutex
}

// NewStaticProvider creates an empty static provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		creds:  make(map[string]shipper.Credential),
		policy: DefaultRetryPolicy(),
	}
}

// SetBasic configures Basic authentication for carrier.
func (p *StaticProvider) SetBasic(carrier, username, password string) *StaticProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds[carrier] = shipper.Credential{
		Carrier:     carrier,
		Scheme:      shipper.SchemeBasic,
		AccessToken: BasicToken(username, password),
	}
	return p
}

// SetBearer configures a fixed bearer token for carrier.
func (p *StaticProvider) SetBearer(carrier, token string) *StaticProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds[carrier] = shipper.Credential{
		Carrier:     carrier,
		Scheme:      shipper.SchemeBearer,
		AccessToken: token,
	}
	return p
}

// BasicToken encodes username and password for a Basic Authorization header.
func BasicToken(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// WithPolicy overrides the retry policy.
func (p *StaticProvider) WithPolicy(policy RetryPolicy) *StaticProvider {
	p.policy = policy
	return p
}

// Acquire returns the configured credential for carrier.
func (p *StaticProvider) Acquire(ctx context.Context, carrier string) (shipper.Credential, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cred, ok := p.creds[carrier]
	if !ok {
		return shipper.Credential{}, shipper.NewAuthError(carrier, "no static credential configured")
	}
	return cred, nil
}

// Invalidate is a no-op: a static credential is a pure function of configuration.
func (p *StaticProvider) Invalidate(carrier string) {}

// Policy returns the retry policy.
func (p *StaticProvider) Policy() RetryPolicy {
	return p.policy
}

// Do runs call under provider's retry policy.
func Do(ctx context.Context, provider Provider, carrier string, call func(ctx context.Context, cred shipper.Credential) error) error {
	return provider.Policy().Do(ctx, provider, carrier, call)
}

var (
	_ Provider = (*StaticProvider)(nil)
	_ Provider = (*OAuthProvider)(nil)
)

func carrierKey(carrier string) string {
	return fmt.Sprintf("token:%s", carrier)
}
