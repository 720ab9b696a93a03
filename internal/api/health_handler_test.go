package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalytics struct {
	ready    bool
	backends []string
}

func (s stubAnalytics) Ready() bool             { return s.ready }
func (s stubAnalytics) ReadyBackends() []string { return s.backends }

func TestHealth_AllUp(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hc := NewHealthChecker(db, rdb, stubAnalytics{ready: true, backends: []string{"posthog"}})
	rec := httptest.NewRecorder()
	hc.HandleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "up", status.Checks["database"].Status)
	assert.Equal(t, "up", status.Checks["redis"].Status)
	assert.Equal(t, "up", status.Checks["analytics"].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadiness_DatabaseDown(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	hc := NewHealthChecker(db, nil, nil)
	rec := httptest.NewRecorder()
	hc.HandleReadiness(rec, httptest.NewRequest("GET", "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":false`)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestReadiness_OptionalDependenciesOnlyDegrade(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	hc := NewHealthChecker(db, nil, stubAnalytics{ready: false})
	rec := httptest.NewRecorder()
	hc.HandleReadiness(rec, httptest.NewRequest("GET", "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestLiveness(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil)
	rec := httptest.NewRecorder()
	hc.HandleLiveness(rec, httptest.NewRequest("GET", "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}

func TestDetermineOverallStatus(t *testing.T) {
	assert.Equal(t, "healthy", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "up"}, "redis": {Status: "disabled"},
	}))
	assert.Equal(t, "degraded", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "up"}, "redis": {Status: "down"},
	}))
	assert.Equal(t, "unhealthy", determineOverallStatus(map[string]ComponentCheck{
		"database": {Status: "down"}, "redis": {Status: "up"},
	}))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "45s", formatUptime(45*time.Second))
	assert.Equal(t, "2m5s", formatUptime(125*time.Second))
	assert.Equal(t, "1h1m1s", formatUptime(time.Hour+61*time.Second))
}
