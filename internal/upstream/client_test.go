package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/entity"
)

func TestListByEntityType_DecodesCoreFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/clientes/tipo-entidad/PERSONA", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"numeroIdentificacion": "0102030405", "nombre": "ANA TORRES", "tipoEntidad": "PERSONA"},
			{"person_id": "0911111111", "full_name": "LUIS PAZ", "entity_type": "PERSONA"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/"}, srv.Client())
	persons, err := c.ListByEntityType(context.Background(), entity.EntityTypePerson)
	require.NoError(t, err)
	assert.Equal(t, []entity.Person{
		{PersonID: "0102030405", FullName: "ANA TORRES", EntityType: "PERSONA"},
		{PersonID: "0911111111", FullName: "LUIS PAZ", EntityType: "PERSONA"},
	}, persons)
}

func TestListByEntityType_SignsBearerToken(t *testing.T) {
	const secret = "s3cret"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "Bearer "))
		claims := jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "service-buro", claims.Issuer)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, JWTSecret: secret}, srv.Client())
	persons, err := c.ListByEntityType(context.Background(), entity.EntityTypePerson)
	require.NoError(t, err)
	assert.Empty(t, persons)
}

func TestListByEntityType_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "core down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, srv.Client())
	_, err := c.ListByEntityType(context.Background(), entity.EntityTypePerson)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "core down")
}

func TestListByEntityType_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, srv.Client())
	_, err := c.ListByEntityType(context.Background(), entity.EntityTypePerson)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("UPSTREAM_BASE_URL", "http://core:9000")
	t.Setenv("UPSTREAM_TIMEOUT", "3s")
	t.Setenv("UPSTREAM_JWT_SECRET", "k")
	cfg := ConfigFromEnv()
	assert.Equal(t, "http://core:9000", cfg.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, "k", cfg.JWTSecret)
}
