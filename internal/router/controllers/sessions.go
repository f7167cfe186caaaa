package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	serviceerrors "github.com/textileio/go-tonconnect/pkg/errors"
	"github.com/textileio/go-tonconnect/pkg/session"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

// Disconnector closes sessions from the wallet side.
type Disconnector interface {
	Disconnect(ctx context.Context, sessionID string) error
}

// SessionsController defines the HTTP handlers for dApp sessions.
type SessionsController struct {
	sessions     session.Manager
	disconnector Disconnector
}

// NewSessionsController creates a new SessionsController.
func NewSessionsController(sessions session.Manager, disconnector Disconnector) *SessionsController {
	return &SessionsController{sessions: sessions, disconnector: disconnector}
}

// SessionView is a session without its secret key.
type SessionView struct {
	ID             string `json:"id"`
	WalletAddress  string `json:"walletAddress,omitempty"`
	DAppName       string `json:"dAppName,omitempty"`
	Domain         string `json:"domain,omitempty"`
	URL            string `json:"url,omitempty"`
	IconURL        string `json:"iconUrl,omitempty"`
	PublicKey      string `json:"publicKey"`
	Pending        bool   `json:"pending"`
	CreatedAt      int64  `json:"createdAt"`
	LastActivityAt int64  `json:"lastActivityAt"`
}

func viewOf(s session.Session) SessionView {
	return SessionView{
		ID:             s.ID,
		WalletAddress:  s.WalletAddress,
		DAppName:       s.DAppName,
		Domain:         s.Domain,
		URL:            s.URL,
		IconURL:        s.IconURL,
		PublicKey:      s.PublicKey,
		Pending:        !s.Bound(),
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
}

// ListSessions handles the GET /v1/sessions call. The wallet query param
// restricts the result to the sessions bound to a wallet.
func (c *SessionsController) ListSessions(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var walletAddr string
	if w := r.URL.Query().Get("wallet"); w != "" {
		addr, err := tonconnect.NormalizeAddress(w)
		if err != nil {
			writeError(rw, http.StatusBadRequest, serviceerrors.CodeInvalidArgument, "Invalid wallet address")
			return
		}
		walletAddr = addr
	}

	all, err := c.sessions.ListSessions(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("listing sessions")
		writeError(rw, http.StatusInternalServerError, serviceerrors.CodeInternal, "Failed to list sessions")
		return
	}
	views := make([]SessionView, 0, len(all))
	for _, s := range all {
		if walletAddr != "" && s.WalletAddress != walletAddr {
			continue
		}
		views = append(views, viewOf(s))
	}
	writeJSON(rw, http.StatusOK, views)
}

// GetSession handles the GET /v1/sessions/{id} call.
func (c *SessionsController) GetSession(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	s, err := c.sessions.GetSession(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(rw, http.StatusNotFound, serviceerrors.CodeNotFound, "Session not found")
		return
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("id", id).Msg("getting session")
		writeError(rw, http.StatusInternalServerError, serviceerrors.CodeInternal, "Failed to get session")
		return
	}
	writeJSON(rw, http.StatusOK, viewOf(s))
}

// DeleteSession handles the DELETE /v1/sessions/{id} call. The dApp is
// notified before the session is removed.
func (c *SessionsController) DeleteSession(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	err := c.disconnector.Disconnect(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(rw, http.StatusNotFound, serviceerrors.CodeNotFound, "Session not found")
		return
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("id", id).Msg("disconnecting session")
		writeError(rw, http.StatusInternalServerError, serviceerrors.CodeInternal, "Failed to disconnect session")
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}
