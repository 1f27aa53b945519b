package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryde/accounts/pkg/database"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthEndpoints(t *testing.T) {
	h := NewHealthHandler(pingerFunc(func(context.Context) error { return nil }))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.Liveness(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr = httptest.NewRecorder()
	h.Readiness(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestReadinessReportsDatabaseDown(t *testing.T) {
	h := NewHealthHandler(pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") }))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	h.Readiness(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

type poolPinger struct{ stats database.PoolStats }

func (poolPinger) Ping(context.Context) error { return nil }

func (p poolPinger) Stats() database.PoolStats { return p.stats }

func TestReadinessReportsPoolStats(t *testing.T) {
	h := NewHealthHandler(poolPinger{stats: database.PoolStats{MaxConns: 20, TotalConns: 3, IdleConns: 2, AcquiredConns: 1}})
	rr := httptest.NewRecorder()
	h.Readiness(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Data struct {
			Status string             `json:"status"`
			Pool   database.PoolStats `json:"pool"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "ready", body.Data.Status)
	assert.Equal(t, database.PoolStats{MaxConns: 20, TotalConns: 3, IdleConns: 2, AcquiredConns: 1}, body.Data.Pool)
}
