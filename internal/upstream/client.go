// Package upstream talks to the core service that owns the directory of
// known persons.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
)

// ErrUnavailable wraps every failure to obtain the directory.
var ErrUnavailable = errors.New("upstream directory unavailable")

const (
	defaultTimeout = 10 * time.Second
	tokenTTL       = time.Minute
	issuer         = "service-buro"
)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	JWTSecret string
}

// ConfigFromEnv reads UPSTREAM_BASE_URL, UPSTREAM_TIMEOUT and UPSTREAM_JWT_SECRET.
func ConfigFromEnv() Config {
	base := os.Getenv("UPSTREAM_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	timeout := defaultTimeout
	if v := os.Getenv("UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			timeout = d
		}
	}
	return Config{BaseURL: base, Timeout: timeout, JWTSecret: os.Getenv("UPSTREAM_JWT_SECRET")}
}

// Client lists persons from the core directory over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// NewClient builds a Client; a nil hc uses http.DefaultClient.
func NewClient(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: hc, now: time.Now}
}

// ListByEntityType returns every directory entry of the given entity type.
// The whole call, body included, is bounded by the configured timeout.
func (c *Client) ListByEntityType(ctx context.Context, entityType string) ([]entity.Person, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + "/api/v1/clientes/tipo-entidad/" + url.PathEscape(entityType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.JWTSecret != "" {
		tok, err := c.token()
		if err != nil {
			return nil, fmt.Errorf("%w: sign token: %w", ErrUnavailable, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var persons []entity.Person
	if err := json.NewDecoder(resp.Body).Decode(&persons); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrUnavailable, err)
	}
	return persons, nil
}

// token signs a short lived service token for the core.
func (c *Client) token() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.JWTSecret))
}
