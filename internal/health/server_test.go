package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/warden/internal/core/domain"
)

func TestServer_Endpoints(t *testing.T) {
	m, _, _, _ := newTestMonitor(nil)
	srv := httptest.NewServer(NewServer(m, 0, quiet()).Handler())
	defer srv.Close()

	t.Run("root", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	})

	t.Run("health stable", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("status", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/status")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var report StatusReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		assert.Equal(t, StatusHealthy, report.Status)
		assert.Equal(t, domain.PhaseStable, report.Supervisor.Phase)
		assert.Equal(t, 5, report.MaxRestartAttempts)
		assert.NotZero(t, report.Process.PID)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestServer_HealthUnavailableWhileRestarting(t *testing.T) {
	m, st, _, _ := newTestMonitor(nil)
	sup := newBlockedSupervisor(st)
	require.True(t, sup.Trigger(context.Background(), "network error: EFATAL"))

	rec := httptest.NewRecorder()
	NewServer(m, 0, quiet()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)

	sup.release()
}

type stubStorage struct{ err error }

func (s stubStorage) Health(context.Context) error { return s.err }

func TestServer_HealthReportsStorage(t *testing.T) {
	m, _, _, _ := newTestMonitor(nil)

	rec := httptest.NewRecorder()
	NewServer(m, 0, quiet(), WithStorageCheck(stubStorage{})).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"storage":"ok"`)

	rec = httptest.NewRecorder()
	NewServer(m, 0, quiet(), WithStorageCheck(stubStorage{err: errors.New("dial tcp: connection refused")})).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"storage":"unavailable"`)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusHealthy, StatusFor(domain.PhaseStable))
	assert.Equal(t, StatusDegraded, StatusFor(domain.PhaseRestarting))
	assert.Equal(t, StatusCritical, StatusFor(domain.PhaseGivenUp))
}
