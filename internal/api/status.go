package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/nerrad567/fieldrelay/internal/relay"
)

const componentCheckTimeout = 2 * time.Second

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Connection string `json:"connection"`
	Version    string `json:"version"`
}

// DeviceInfo describes one configured device. Credentials are never exposed.
type DeviceInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	AgentID       string              `json:"agent_id"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Connection    string              `json:"connection"`
	Stats         relay.StatsSnapshot `json:"stats"`
	Queue         *relay.QueueStats   `json:"queue,omitempty"`
	Poller        *relay.PollerStats  `json:"poller,omitempty"`
	Devices       []DeviceInfo        `json:"devices"`
	Components    map[string]string   `json:"components,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.deps.Connection.State()
	resp := HealthResponse{
		Status:     "ok",
		Connection: state.String(),
		Version:    s.deps.Version,
	}
	if state != relay.StateConnected {
		resp.Status = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		AgentID:       s.deps.AgentID,
		Version:       s.deps.Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Connection:    s.deps.Connection.State().String(),
		Devices:       []DeviceInfo{},
	}
	if s.deps.Stats != nil {
		resp.Stats = s.deps.Stats.Snapshot()
	}
	if s.deps.Queue != nil {
		qs := s.deps.Queue.Stats()
		resp.Queue = &qs
	}
	if s.deps.Poller != nil {
		ps := s.deps.Poller.Stats()
		resp.Poller = &ps
	}
	if s.deps.Devices != nil {
		for _, d := range s.deps.Devices.All() {
			resp.Devices = append(resp.Devices, DeviceInfo{
				Name:    d.Config.Name,
				Type:    d.Config.Type,
				Address: d.Config.Address,
			})
		}
	}
	if len(s.deps.Components) > 0 {
		resp.Components = s.checkComponents(r.Context())
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) checkComponents(ctx context.Context) map[string]string {
	names := make([]string, 0, len(s.deps.Components))
	for name := range s.deps.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, componentCheckTimeout)
		err := s.deps.Components[name].HealthCheck(checkCtx)
		cancel()

		if err != nil {
			out[name] = "error: " + err.Error()
			continue
		}
		out[name] = "ok"
	}
	return out
}
