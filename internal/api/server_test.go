package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeIngestHealth struct {
	healthy bool
}

func (f *fakeIngestHealth) Healthy() bool { return f.healthy }

func newTestServer(db *fakePinger, ingest *fakeIngestHealth) *Server {
	return NewServer(zerolog.Nop(), db, nil, nil, nil, nil, nil, ingest)
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz_OK(t *testing.T) {
	srv := newTestServer(&fakePinger{}, &fakeIngestHealth{healthy: true})

	rec := get(srv, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthz_IngestUnhealthy(t *testing.T) {
	srv := newTestServer(&fakePinger{}, &fakeIngestHealth{healthy: false})

	rec := get(srv, "/healthz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"ingest unhealthy"}`, rec.Body.String())
}

func TestHealthz_DatabaseUnreachable(t *testing.T) {
	srv := newTestServer(
		&fakePinger{err: errors.New("connection refused")},
		&fakeIngestHealth{healthy: true},
	)

	rec := get(srv, "/healthz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"database unreachable"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	srv := newTestServer(&fakePinger{}, &fakeIngestHealth{healthy: true})
	assert.Equal(t, http.StatusOK, get(srv, "/readyz").Code)

	srv = newTestServer(&fakePinger{err: errors.New("down")}, &fakeIngestHealth{healthy: true})
	assert.Equal(t, http.StatusServiceUnavailable, get(srv, "/readyz").Code)
}
