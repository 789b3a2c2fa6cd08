package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/infra/storage/memory"
)

// =============================================================================
// Mocks
// =============================================================================

type stubStats struct {
	pending int64
	lengths map[string]int64
	err     error
}

func (s *stubStats) Pending(ctx context.Context) (int64, error) { return s.pending, s.err }
func (s *stubStats) Len(ctx context.Context, topic string) (int64, error) {
	return s.lengths[topic], nil
}

func ok(context.Context) error { return nil }

// =============================================================================
// Tests
// =============================================================================

func TestCheckHealth_Healthy(t *testing.T) {
	m := NewMonitor(MonitorConfig{
		Checks:      map[string]Check{"redis": ok, "database": ok},
		Stats:       &stubStats{pending: 3, lengths: map[string]int64{"bdlq": 4}},
		BusinessDLQ: "bdlq",
	})

	report := m.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, report.SystemStatus)
	assert.Len(t, report.Components, 2)
	assert.EqualValues(t, 3, report.Pipeline.Pending)
	assert.EqualValues(t, 4, report.Pipeline.BusinessDLQ)
}

func TestCheckHealth_Statuses(t *testing.T) {
	records := memory.NewRecoveryRecordRepo(memory.NewMemoryStorage())
	require.NoError(t, records.Save(context.Background(), &domain.RecoveryRecord{Payload: "x"}))

	tests := []struct {
		name string
		cfg  MonitorConfig
		want SystemStatus
	}{
		{
			name: "redis down",
			cfg:  MonitorConfig{Checks: map[string]Check{"redis": func(context.Context) error { return errors.New("refused") }}},
			want: StatusCritical,
		},
		{
			name: "backlog growing",
			cfg:  MonitorConfig{Stats: &stubStats{pending: 150}},
			want: StatusDegraded,
		},
		{
			name: "backlog critical",
			cfg:  MonitorConfig{Stats: &stubStats{pending: 5000}},
			want: StatusCritical,
		},
		{
			name: "transport dead letters",
			cfg:  MonitorConfig{Stats: &stubStats{lengths: map[string]int64{"tdlq": 1}}, TransportDLQ: "tdlq"},
			want: StatusDegraded,
		},
		{
			name: "corrupt records",
			cfg:  MonitorConfig{Records: records},
			want: StatusDegraded,
		},
		{
			name: "stats unavailable",
			cfg:  MonitorConfig{Stats: &stubStats{err: errors.New("timeout")}},
			want: StatusDegraded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewMonitor(tt.cfg).CheckHealth(context.Background())
			assert.Equal(t, tt.want, report.SystemStatus)
		})
	}
}

func TestCheckHealth_CachesReport(t *testing.T) {
	calls := 0
	m := NewMonitor(MonitorConfig{Checks: map[string]Check{"redis": func(context.Context) error {
		calls++
		return nil
	}}})

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	assert.Equal(t, 1, calls)
}

func TestServer_Endpoints(t *testing.T) {
	m := NewMonitor(MonitorConfig{Checks: map[string]Check{"redis": func(context.Context) error { return errors.New("refused") }}})
	srv := httptest.NewServer(NewServer(m, 0).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "critical", body["status"])

	detailed, err := http.Get(srv.URL + "/health/detailed")
	require.NoError(t, err)
	defer detailed.Body.Close()

	var report HealthReport
	require.NoError(t, json.NewDecoder(detailed.Body).Decode(&report))
	assert.Equal(t, "refused", report.Components["redis"].Error)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}
