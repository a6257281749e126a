// Package token supplies per-shop marketplace access tokens.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"booking-proxy/internal/model"
)

// Provider returns a currently valid access token for a shop.
// It fails with an UNAUTHORIZED *model.APIError when no valid credential
// exists. Issuing and refreshing tokens happens elsewhere.
type Provider interface {
	ValidAccessToken(ctx context.Context, shopID int64) (string, error)
}

// Credential is a stored shop token.
type Credential struct {
	AccessToken string `json:"access_token"`
	ExpireAt    int64  `json:"expire_at,omitempty"` // unix seconds, 0 = no expiry
}

// expired reports whether c is unusable at now, leaving skew of headroom.
func (c Credential) expired(now time.Time, skew time.Duration) bool {
	if c.ExpireAt == 0 {
		return false
	}
	return !now.Add(skew).Before(time.Unix(c.ExpireAt, 0))
}

// === Static ===

// Static serves tokens from a fixed map. Used in development.
type Static struct {
	creds map[int64]Credential
	now   func() time.Time
}

// NewStatic creates a provider from shop id to token.
func NewStatic(tokens map[int64]string) *Static {
	creds := make(map[int64]Credential, len(tokens))
	for shop, tok := range tokens {
		creds[shop] = Credential{AccessToken: tok}
	}
	return &Static{creds: creds, now: time.Now}
}

// ParseStatic builds a Static provider from JSON such as
//
//	{"100": "token-a", "200": {"access_token": "token-b", "expire_at": 1767225600}}
func ParseStatic(raw string) (*Static, error) {
	s := &Static{creds: make(map[int64]Credential), now: time.Now}
	if strings.TrimSpace(raw) == "" {
		return s, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("parsing shop tokens: %w", err)
	}

	for key, val := range entries {
		shopID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shop id %q: %w", key, err)
		}

		var cred Credential
		var plain string
		if err := json.Unmarshal(val, &plain); err == nil {
			cred.AccessToken = plain
		} else if err := json.Unmarshal(val, &cred); err != nil {
			return nil, fmt.Errorf("parsing token for shop %d: %w", shopID, err)
		}
		s.creds[shopID] = cred
	}
	return s, nil
}

// ValidAccessToken implements Provider.
func (s *Static) ValidAccessToken(ctx context.Context, shopID int64) (string, error) {
	cred, ok := s.creds[shopID]
	if !ok || cred.AccessToken == "" {
		return "", model.NewUnauthorizedError(fmt.Sprintf("no access token for shop %d", shopID))
	}
	if cred.expired(s.now(), 0) {
		return "", model.NewUnauthorizedError(fmt.Sprintf("access token for shop %d expired", shopID))
	}
	return cred.AccessToken, nil
}

// Shops returns the configured shop ids.
func (s *Static) Shops() []int64 {
	shops := make([]int64, 0, len(s.creds))
	for id := range s.creds {
		shops = append(shops, id)
	}
	return shops
}

// === Secret Manager ===

// SecretFetcher returns the payload of a secret version by resource name.
type SecretFetcher func(ctx context.Context, name string) ([]byte, error)

// DefaultSkew is how long before expiry a cached token stops being served.
const DefaultSkew = 5 * time.Minute

// SecretManager reads shop tokens stored as
// projects/{project}/secrets/{prefix}-{shopID}/versions/latest and caches
// them until shortly before expiry.
type SecretManager struct {
	project string
	prefix  string
	fetch   SecretFetcher
	skew    time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[int64]Credential
}

// NewSecretManager creates a provider backed by fetch.
func NewSecretManager(project, prefix string, fetch SecretFetcher) *SecretManager {
	if prefix == "" {
		prefix = "shopee-token"
	}
	return &SecretManager{
		project: project,
		prefix:  prefix,
		fetch:   fetch,
		skew:    DefaultSkew,
		now:     time.Now,
		cache:   make(map[int64]Credential),
	}
}

// SecretName returns the secret resource name for shopID.
func (p *SecretManager) SecretName(shopID int64) string {
	return fmt.Sprintf("projects/%s/secrets/%s-%d/versions/latest", p.project, p.prefix, shopID)
}

// ValidAccessToken implements Provider.
func (p *SecretManager) ValidAccessToken(ctx context.Context, shopID int64) (string, error) {
	now := p.now()

	p.mu.Lock()
	cred, ok := p.cache[shopID]
	p.mu.Unlock()
	if ok && !cred.expired(now, p.skew) {
		return cred.AccessToken, nil
	}

	data, err := p.fetch(ctx, p.SecretName(shopID))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &model.APIError{
			Code:       "UNAUTHORIZED",
			Message:    fmt.Sprintf("no access token for shop %d", shopID),
			StatusCode: http.StatusUnauthorized,
			Err:        fmt.Errorf("%w: %v", model.ErrUnauthorized, err),
		}
	}

	var fresh Credential
	if err := json.Unmarshal(data, &fresh); err != nil {
		return "", fmt.Errorf("parsing token secret for shop %d: %w", shopID, err)
	}
	if fresh.AccessToken == "" {
		return "", model.NewUnauthorizedError(fmt.Sprintf("no access token for shop %d", shopID))
	}
	if fresh.expired(now, 0) {
		return "", model.NewUnauthorizedError(fmt.Sprintf("access token for shop %d expired", shopID))
	}

	p.mu.Lock()
	p.cache[shopID] = fresh
	p.mu.Unlock()

	return fresh.AccessToken, nil
}

// Invalidate drops the cached token for shopID.
func (p *SecretManager) Invalidate(shopID int64) {
	p.mu.Lock()
	delete(p.cache, shopID)
	p.mu.Unlock()
}

var (
	_ Provider = (*Static)(nil)
	_ Provider = (*SecretManager)(nil)
)
