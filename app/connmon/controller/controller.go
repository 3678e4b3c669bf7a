package controller

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xrplink/xrplink/app/connmon/types"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods("GET")

	r.HandleFunc("/status", c.HandleStatus).Methods("GET")
	r.HandleFunc("/endpoints", c.HandleEndpoints).Methods("GET")
	r.HandleFunc("/probe", c.HandleProbe).Methods("POST")
	r.HandleFunc("/request/{method}", c.HandleRequest).Methods("POST")
	r.HandleFunc("/ws", c.HandleWebSocket)

	return r, nil
}
