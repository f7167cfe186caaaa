package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/internal/pending"
	serviceerrors "github.com/textileio/go-tonconnect/pkg/errors"
	"github.com/textileio/go-tonconnect/pkg/requestprocessor"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/pkg/wallet"
)

// PendingRequests is the set of requests awaiting a decision.
type PendingRequests interface {
	List() []pending.Item
	Get(id string) (pending.Item, error)
	Remove(id string) bool
}

// RequestsController defines the HTTP handlers that let the user approve or
// reject dApp requests.
type RequestsController struct {
	pending   PendingRequests
	processor requestprocessor.RequestProcessor
}

// NewRequestsController creates a new RequestsController.
func NewRequestsController(
	pending PendingRequests,
	processor requestprocessor.RequestProcessor,
) *RequestsController {
	return &RequestsController{pending: pending, processor: processor}
}

// ApproveBody is the optional body of an approval.
type ApproveBody struct {
	// Wallet picks the wallet a connect request is bound to. The default
	// wallet is used when empty.
	Wallet string `json:"wallet,omitempty"`
}

// RejectBody is the optional body of a rejection.
type RejectBody struct {
	Message string `json:"message,omitempty"`
}

// ListRequests handles the GET /v1/requests call.
func (c *RequestsController) ListRequests(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, c.pending.List())
}

// GetRequest handles the GET /v1/requests/{id} call.
func (c *RequestsController) GetRequest(rw http.ResponseWriter, r *http.Request) {
	item, ok := c.item(rw, r)
	if !ok {
		return
	}
	writeJSON(rw, http.StatusOK, item)
}

// ApproveRequest handles the POST /v1/requests/{id}/approve call.
func (c *RequestsController) ApproveRequest(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	item, ok := c.item(rw, r)
	if !ok {
		return
	}
	var body ApproveBody
	if err := decodeBody(rw, r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(rw, http.StatusBadRequest, serviceerrors.CodeInvalidArgument, "Invalid approval body")
		return
	}

	var (
		result interface{}
		err    error
	)
	switch {
	case item.Connect != nil:
		req := *item.Connect
		if body.Wallet != "" {
			addr, nerr := tonconnect.NormalizeAddress(body.Wallet)
			if nerr != nil {
				writeError(rw, http.StatusBadRequest, serviceerrors.CodeInvalidArgument, "Invalid wallet address")
				return
			}
			req.WalletAddress = addr
		}
		result, err = c.processor.ApproveConnect(ctx, req)
	case item.Transaction != nil:
		result, err = c.processor.ApproveTransaction(ctx, *item.Transaction)
	case item.SignData != nil:
		result, err = c.processor.ApproveSignData(ctx, *item.SignData)
	default:
		err = errors.New("empty pending request")
	}

	switch {
	case err == nil:
		c.pending.Remove(item.ID)
		writeJSON(rw, http.StatusOK, result)
	case errors.Is(err, requestprocessor.ErrRequestExpired):
		c.pending.Remove(item.ID)
		if rerr := c.processor.RejectRequest(ctx, item.Request(), tonconnect.BadRequestError, "request expired"); rerr != nil {
			log.Ctx(ctx).Warn().Err(rerr).Str("id", item.ID).Msg("answering expired request")
		}
		writeError(rw, http.StatusGone, serviceerrors.CodeRequestExpired, "Request expired")
	case errors.Is(err, wallet.ErrWalletNotFound):
		writeError(rw, http.StatusConflict, serviceerrors.CodeWalletNotFound, err.Error())
	default:
		log.Ctx(ctx).Error().Err(err).Str("id", item.ID).Msg("approving request")
		writeError(rw, http.StatusInternalServerError, serviceerrors.CodeInternal, "Failed to approve request")
	}
}

// RejectRequest handles the POST /v1/requests/{id}/reject call.
func (c *RequestsController) RejectRequest(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	item, ok := c.item(rw, r)
	if !ok {
		return
	}
	var body RejectBody
	if err := decodeBody(rw, r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(rw, http.StatusBadRequest, serviceerrors.CodeInvalidArgument, "Invalid rejection body")
		return
	}

	var err error
	if item.Connect != nil {
		err = c.processor.RejectConnect(ctx, *item.Connect)
	} else {
		err = c.processor.RejectRequest(ctx, item.Request(), tonconnect.UserRejectsError, body.Message)
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("id", item.ID).Msg("rejecting request")
		writeError(rw, http.StatusInternalServerError, serviceerrors.CodeInternal, "Failed to reject request")
		return
	}
	c.pending.Remove(item.ID)
	rw.WriteHeader(http.StatusNoContent)
}

func (c *RequestsController) item(rw http.ResponseWriter, r *http.Request) (pending.Item, bool) {
	item, err := c.pending.Get(mux.Vars(r)["id"])
	if errors.Is(err, pending.ErrNotFound) {
		writeError(rw, http.StatusNotFound, serviceerrors.CodeNotFound, "Request not found")
		return pending.Item{}, false
	}
	if err != nil {
		writeError(rw, http.StatusInternalServerError, serviceerrors.CodeInternal, "Failed to get request")
		return pending.Item{}, false
	}
	return item, true
}
