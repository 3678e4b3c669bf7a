package controller

import (
	"encoding/json"
	"net/http"

	"github.com/xrplink/xrplink/pkg/connstate"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if c.App.Client.State() == connstate.StateOffline {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "errored", "error": "all endpoints unreachable"})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
