package health

import (
	"time"
)

// ServiceStatus is the per-service entry of the serializable status surface.
type ServiceStatus struct {
	State               string            `json:"state"`
	Healthy             bool              `json:"healthy"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	Message             string            `json:"message,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// Response is the serializable system status backing liveness/readiness
// endpoints. It is derived on demand and never stored.
type Response struct {
	Status        SystemHealth             `json:"status"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Services      map[string]ServiceStatus `json:"services"`
}

// BuildResponse snapshots the monitor into a Response. startedAt is the
// process start time used for the uptime field.
func (m *Monitor) BuildResponse(startedAt time.Time) Response {
	records := m.GetAll()

	services := make(map[string]ServiceStatus, len(records))
	for name, sh := range records {
		entry := ServiceStatus{
			State:               sh.State,
			ConsecutiveFailures: sh.ConsecutiveFailures,
		}
		if sh.LastCheck != nil {
			entry.Healthy = sh.LastCheck.Healthy
			entry.Message = sh.LastCheck.Message
			entry.Metadata = sh.LastCheck.Metadata
		}
		services[name] = entry
	}

	return Response{
		Status:        m.GetSystemHealth(),
		UptimeSeconds: time.Since(startedAt).Seconds(),
		Services:      services,
	}
}
