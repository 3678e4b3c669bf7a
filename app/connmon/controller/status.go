package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// EndpointStatus is the wire shape for one endpoint's health metadata.
type EndpointStatus struct {
	URL                 string     `json:"url"`
	Priority            int        `json:"priority"`
	Disabled            bool       `json:"disabled"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
}

// HandleStatus reports the connectivity state and active endpoint.
func (c *Controller) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"state":  c.App.Client.State().String(),
		"active": c.App.Client.ActiveEndpoint(),
	})
}

// HandleEndpoints lists every registered endpoint with health metadata.
func (c *Controller) HandleEndpoints(w http.ResponseWriter, r *http.Request) {
	eps := c.App.Client.Endpoints()
	out := make([]EndpointStatus, 0, len(eps))
	for _, ep := range eps {
		s := EndpointStatus{
			URL:                 ep.URL,
			Priority:            ep.Priority,
			Disabled:            ep.Disabled,
			ConsecutiveFailures: ep.ConsecutiveFailures,
		}
		if !ep.LastSuccessAt.IsZero() {
			t := ep.LastSuccessAt
			s.LastSuccessAt = &t
		}
		if !ep.LastFailureAt.IsZero() {
			t := ep.LastFailureAt
			s.LastFailureAt = &t
		}
		if ep.LastError != "" {
			s.LastError = ep.LastError
		}
		out = append(out, s)
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

// HandleProbe triggers an immediate probe sweep.
func (c *Controller) HandleProbe(w http.ResponseWriter, r *http.Request) {
	state := c.App.Client.Refresh(r.Context())

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"state": state.String()})
}

// HandleRequest proxies one read call through the failover client. The
// body is the params object, or empty for parameterless methods.
func (c *Controller) HandleRequest(w http.ResponseWriter, r *http.Request) {
	method := mux.Vars(r)["method"]

	var params any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid params body"})
			return
		}
	}

	res, err := c.App.Client.Request(r.Context(), method, params)
	if err != nil {
		c.App.Logger.Warn("Proxied request failed", zap.String("method", method), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result": json.RawMessage(res.Value),
		"cached": res.Cached,
		"ageMs":  res.Age.Milliseconds(),
		"stale":  res.Stale,
	})
}
