package controllers

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/buildinfo"
	serviceerrors "github.com/textileio/go-tonconnect/pkg/errors"
	"github.com/textileio/go-tonconnect/pkg/eventstore"
)

// InfraController defines the HTTP handlers for infrastructure APIs.
type InfraController struct {
	store eventstore.EventStore
}

// NewInfraController creates a new InfraController.
func NewInfraController(store eventstore.EventStore) *InfraController {
	return &InfraController{store: store}
}

// Version returns git information of the running binary.
func (c *InfraController) Version(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, buildinfo.GetSummary())
}

// Healthz answers 200 when the event store is reachable.
func (c *InfraController) Healthz(rw http.ResponseWriter, r *http.Request) {
	if _, err := c.store.Stats(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("health check")
		writeError(rw, http.StatusServiceUnavailable, serviceerrors.CodeInternal, "Event store unavailable")
		return
	}
	rw.WriteHeader(http.StatusOK)
}
