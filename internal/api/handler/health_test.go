package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/vista/internal/api/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func healthy(context.Context) error { return nil }

func TestHealth_AllOK(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{
		"store": pingFunc(healthy),
		"cache": pingFunc(healthy),
	})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","services":{"store":"ok","cache":"ok"}}`, string(decode(t, w).Data))
}

func TestHealth_Degraded(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{
		"store": pingFunc(healthy),
		"cache": pingFunc(func(context.Context) error { return errors.New("redis: connection refused") }),
	})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	env := decode(t, w)
	assert.Equal(t, "DEGRADED", env.Error.Code)
	assert.Equal(t, map[string]any{"store": "ok", "cache": "degraded"}, env.Error.Details)
}
