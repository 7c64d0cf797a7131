package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
	"github.com/LLM-Dev-Ops/auto-optimizer/health"
	"github.com/LLM-Dev-Ops/auto-optimizer/metric"
	"github.com/LLM-Dev-Ops/auto-optimizer/service"
	"github.com/LLM-Dev-Ops/auto-optimizer/types"
)

type fakeHealthSource struct {
	response health.Response
}

func (f *fakeHealthSource) GetHealthStatus() health.Response  { return f.response }
func (f *fakeHealthSource) SystemHealth() health.SystemHealth { return f.response.Status }

type fakeDecisions struct {
	decisions map[string]types.Decision
	err       error
}

func (f *fakeDecisions) GetDecision(_ context.Context, workload string) (types.Decision, error) {
	if f.err != nil {
		return types.Decision{}, f.err
	}
	d, ok := f.decisions[workload]
	if !ok {
		return types.Decision{}, fmt.Errorf("decision for %q: %w", workload, errors.ErrKeyNotFound)
	}
	return d, nil
}

func (f *fakeDecisions) ListDecisions(context.Context) ([]types.Decision, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.Decision, 0, len(f.decisions))
	for _, d := range f.decisions {
		out = append(out, d)
	}
	return out, nil
}

func healthyResponse() health.Response {
	return health.Response{
		Status:        health.SystemHealthy,
		UptimeSeconds: 120,
		Services: map[string]health.ServiceStatus{
			"collector": {State: "running", Healthy: true},
			"store":     {State: "running", Healthy: true},
		},
	}
}

func startTestServer(t *testing.T, healthSrc HealthSource, decisions DecisionReader) *Server {
	t.Helper()
	s := New(Config{Host: "127.0.0.1", Port: 0}, healthSrc, decisions,
		service.WithMetrics(metric.NewMetricsRegistry()))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(time.Second) })
	return s
}

func get(t *testing.T, addr, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get("http://" + addr + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, body
}

func TestHealthEndpoint(t *testing.T) {
	s := startTestServer(t, &fakeHealthSource{response: healthyResponse()}, &fakeDecisions{})

	resp, body := get(t, s.Addr(), "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var parsed health.Response
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.Equal(t, health.SystemHealthy, parsed.Status)
	assert.Len(t, parsed.Services, 2)
}

func TestHealthEndpointUnhealthySystem(t *testing.T) {
	response := healthyResponse()
	response.Status = health.SystemUnhealthy
	s := startTestServer(t, &fakeHealthSource{response: response}, &fakeDecisions{})

	resp, _ := get(t, s.Addr(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthEndpointDegradedStill200(t *testing.T) {
	response := healthyResponse()
	response.Status = health.SystemDegraded
	s := startTestServer(t, &fakeHealthSource{response: response}, &fakeDecisions{})

	resp, _ := get(t, s.Addr(), "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLivenessAndReadiness(t *testing.T) {
	s := startTestServer(t, &fakeHealthSource{response: healthyResponse()}, &fakeDecisions{})

	resp, _ := get(t, s.Addr(), "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, s.Addr(), "/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadinessFailsWhenUnhealthy(t *testing.T) {
	response := healthyResponse()
	response.Status = health.SystemUnhealthy
	s := startTestServer(t, &fakeHealthSource{response: response}, &fakeDecisions{})

	resp, _ := get(t, s.Addr(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServicesEndpoint(t *testing.T) {
	s := startTestServer(t, &fakeHealthSource{response: healthyResponse()}, &fakeDecisions{})

	resp, body := get(t, s.Addr(), "/services")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var services map[string]health.ServiceStatus
	require.NoError(t, json.Unmarshal(body, &services))
	assert.True(t, services["collector"].Healthy)
}

func TestListDecisions(t *testing.T) {
	decisions := &fakeDecisions{decisions: map[string]types.Decision{
		"chat": {ID: "d1", Workload: "chat", Recommended: types.ModelConfig{Model: "m"}},
	}}
	s := startTestServer(t, &fakeHealthSource{response: healthyResponse()}, decisions)

	resp, body := get(t, s.Addr(), "/decisions")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed []types.Decision
	require.NoError(t, json.Unmarshal(body, &parsed))
	require.Len(t, parsed, 1)
	assert.Equal(t, "chat", parsed[0].Workload)
}

func TestGetDecisionByWorkload(t *testing.T) {
	decisions := &fakeDecisions{decisions: map[string]types.Decision{
		"chat": {ID: "d1", Workload: "chat", Recommended: types.ModelConfig{Model: "m"}},
	}}
	s := startTestServer(t, &fakeHealthSource{response: healthyResponse()}, decisions)

	resp, body := get(t, s.Addr(), "/decisions/chat")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed types.Decision
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.Equal(t, "d1", parsed.ID)

	resp, _ = get(t, s.Addr(), "/decisions/unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := startTestServer(t, &fakeHealthSource{response: healthyResponse()}, &fakeDecisions{})

	resp, body := get(t, s.Addr(), "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStartValidatesWiring(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: 0}, nil, nil)
	assert.Error(t, s.Start(context.Background()))
}

func TestHealthCheckAndRecover(t *testing.T) {
	s := startTestServer(t, &fakeHealthSource{response: healthyResponse()}, &fakeDecisions{})

	result, err := s.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Healthy)

	require.NoError(t, s.Recover(context.Background()))
	result, err = s.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Healthy)

	require.NoError(t, s.Stop(time.Second))
	result, err = s.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Healthy)
}
