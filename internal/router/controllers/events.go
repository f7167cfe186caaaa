package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	serviceerrors "github.com/textileio/go-tonconnect/pkg/errors"
	"github.com/textileio/go-tonconnect/pkg/eventstore"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

// EventIngress stores inbound events.
type EventIngress interface {
	Ingest(ctx context.Context, raw tonconnect.RawEvent) (eventstore.StoredEvent, error)
}

// EventsController defines the HTTP handlers for the durable event queue.
type EventsController struct {
	ingress EventIngress
	store   eventstore.EventStore
}

// NewEventsController creates a new EventsController.
func NewEventsController(ingress EventIngress, store eventstore.EventStore) *EventsController {
	return &EventsController{ingress: ingress, store: store}
}

// PostEvent handles the POST /v1/events call. It injects an event as if the
// bridge had delivered it.
func (c *EventsController) PostEvent(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var raw tonconnect.RawEvent
	if err := decodeBody(rw, r, &raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(rw, http.StatusRequestEntityTooLarge, serviceerrors.CodeEventTooLarge, "Event body too large")
			return
		}
		log.Ctx(ctx).Warn().Err(err).Msg("decoding event")
		writeError(rw, http.StatusBadRequest, serviceerrors.CodeInvalidEvent, "Invalid event body")
		return
	}

	stored, err := c.ingress.Ingest(ctx, raw)
	switch {
	case err == nil:
		writeJSON(rw, http.StatusCreated, stored)
	case errors.Is(err, eventstore.ErrEventTooLarge):
		writeError(rw, http.StatusRequestEntityTooLarge, serviceerrors.CodeEventTooLarge, err.Error())
	case errors.Is(err, eventstore.ErrUnknownMethod), errors.Is(err, eventstore.ErrInvalidEvent):
		writeError(rw, http.StatusBadRequest, serviceerrors.CodeInvalidEvent, err.Error())
	default:
		log.Ctx(ctx).Error().Err(err).Msg("ingesting event")
		writeError(rw, http.StatusInternalServerError, serviceerrors.CodeInternal, "Failed to store event")
	}
}

// ListEvents handles the GET /v1/events call.
// Supported query params are status, type, session and limit.
func (c *EventsController) ListEvents(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := eventFilter(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, serviceerrors.CodeInvalidArgument, err.Error())
		return
	}
	events, err := c.store.ListEvents(ctx, filter)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("listing events")
		writeError(rw, http.StatusInternalServerError, serviceerrors.CodeInternal, "Failed to list events")
		return
	}
	if events == nil {
		events = []eventstore.StoredEvent{}
	}
	writeJSON(rw, http.StatusOK, events)
}

// GetEvent handles the GET /v1/events/{id} call.
func (c *EventsController) GetEvent(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	e, err := c.store.GetEvent(ctx, id)
	if errors.Is(err, eventstore.ErrEventNotFound) {
		writeError(rw, http.StatusNotFound, serviceerrors.CodeNotFound, "Event not found")
		return
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("id", id).Msg("getting event")
		writeError(rw, http.StatusInternalServerError, serviceerrors.CodeInternal, "Failed to get event")
		return
	}
	writeJSON(rw, http.StatusOK, e)
}

// GetStats handles the GET /v1/events/stats call.
func (c *EventsController) GetStats(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := c.store.Stats(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("getting stats")
		writeError(rw, http.StatusInternalServerError, serviceerrors.CodeInternal, "Failed to get stats")
		return
	}
	writeJSON(rw, http.StatusOK, stats)
}

func eventFilter(r *http.Request) (eventstore.Filter, error) {
	q := r.URL.Query()
	var f eventstore.Filter

	if s := q.Get("status"); s != "" {
		f.Status = eventstore.Status(s)
		if !f.Status.Valid() {
			return eventstore.Filter{}, fmt.Errorf("unknown status %q", s)
		}
	}
	if t := q.Get("type"); t != "" {
		f.Type = tonconnect.EventType(t)
		var known bool
		for _, et := range tonconnect.AllEventTypes {
			known = known || et == f.Type
		}
		if !known {
			return eventstore.Filter{}, fmt.Errorf("unknown event type %q", t)
		}
	}
	if q.Has("session") {
		s := q.Get("session")
		f.SessionID = &s
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			return eventstore.Filter{}, fmt.Errorf("limit must be a non-negative integer")
		}
		f.Limit = limit
	}
	return f, nil
}
