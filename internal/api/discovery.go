package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ktheindifferent/lifx-api-server/internal/discovery"
)

// discoverResponse wraps a manual run. The result is returned even when the
// run failed; Status and Error describe the failure.
type discoverResponse struct {
	Result  discovery.Result  `json:"result"`
	Metrics discovery.Metrics `json:"metrics"`
}

// handleDiscover runs discovery now and waits for its listen window.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	res, err := s.gw.Discover(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("manual discovery failed", "error", err, "replies", res.Replies)
	}
	writeJSON(w, http.StatusOK, discoverResponse{Result: res, Metrics: s.gw.DiscoveryMetrics()})
}

// handleDiscoveryMetrics returns the discovery counters.
func (s *Server) handleDiscoveryMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.DiscoveryMetrics())
}
