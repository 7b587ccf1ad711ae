// Package auth validates bearer tokens against an OAuth tokeninfo endpoint.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aliskhannn/pixmix-relay/internal/config"
	"github.com/aliskhannn/pixmix-relay/internal/model"
)

var (
	ErrMissingToken = errors.New("authentication required")
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrUnavailable means tokeninfo could not be reached or failed on its side.
	ErrUnavailable = errors.New("token validation unavailable")
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 5 * time.Minute
)

type cacheEntry struct {
	identity  model.Identity
	expiresAt time.Time
}

// Validator checks tokens with the tokeninfo endpoint and caches accepted ones.
type Validator struct {
	endpoint       string
	acceptIDTokens bool
	client         *http.Client
	cache          *lru.Cache[string, cacheEntry]
	ttl            time.Duration
	now            func() time.Time
}

// NewValidator creates a Validator from configuration.
func NewValidator(cfg config.Auth) (*Validator, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}

	return &Validator{
		endpoint:       cfg.TokenInfoURL,
		acceptIDTokens: cfg.AcceptIDTokens,
		client:         &http.Client{Timeout: 10 * time.Second},
		cache:          cache,
		ttl:            ttl,
		now:            time.Now,
	}, nil
}

// Validate returns the identity behind token. Access tokens are tried first;
// id tokens are accepted as a fallback when enabled.
func (v *Validator) Validate(ctx context.Context, token string) (model.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Identity{}, ErrMissingToken
	}

	key := cacheKey(token)
	if e, ok := v.cache.Get(key); ok {
		if v.now().Before(e.expiresAt) {
			return e.identity, nil
		}
		v.cache.Remove(key)
	}

	id, err := v.introspect(ctx, "access_token", token)
	if errors.Is(err, ErrInvalidToken) && v.acceptIDTokens {
		id, err = v.introspect(ctx, "id_token", token)
	}
	if err != nil {
		return model.Identity{}, err
	}

	ttl := v.ttl
	if id.ExpiresIn > 0 && id.ExpiresIn < ttl {
		ttl = id.ExpiresIn
	}
	v.cache.Add(key, cacheEntry{identity: id, expiresAt: v.now().Add(ttl)})

	return id, nil
}

type tokenInfo struct {
	Subject   string      `json:"sub"`
	Email     string      `json:"email"`
	Scope     string      `json:"scope"`
	ExpiresIn stringOrInt `json:"expires_in"`
	Exp       stringOrInt `json:"exp"`
	Error     string      `json:"error_description"`
}

func (v *Validator) introspect(ctx context.Context, param, token string) (model.Identity, error) {
	u := v.endpoint + "?" + url.Values{param: {token}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Identity{}, fmt.Errorf("build tokeninfo request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: tokeninfo: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return model.Identity{}, fmt.Errorf("%w: tokeninfo %s %d", ErrUnavailable, param, resp.StatusCode)
	}

	var info tokenInfo
	_ = json.NewDecoder(resp.Body).Decode(&info)

	if resp.StatusCode != http.StatusOK {
		return model.Identity{}, fmt.Errorf("%w: tokeninfo %s %d %s", ErrInvalidToken, param, resp.StatusCode, info.Error)
	}

	expiresIn := time.Duration(info.ExpiresIn) * time.Second
	if expiresIn == 0 && info.Exp > 0 {
		expiresIn = time.Unix(int64(info.Exp), 0).Sub(v.now())
	}
	if expiresIn < 0 {
		return model.Identity{}, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}

	return model.Identity{
		Subject:   info.Subject,
		Email:     info.Email,
		Scope:     info.Scope,
		ExpiresIn: expiresIn,
	}, nil
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// stringOrInt decodes numbers that tokeninfo sends either bare or quoted.
type stringOrInt int64

func (s *stringOrInt) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	*s = stringOrInt(n)

	return nil
}
