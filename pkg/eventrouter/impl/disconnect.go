package impl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/textileio/go-tonconnect/pkg/session"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

func (r *Router) handleDisconnect(
	ctx context.Context,
	log zerolog.Logger,
	e eventrouter.Event,
) (eventrouter.DisconnectEvent, *tonconnect.Error, error) {
	walletAddress := walletAddressOf(e)
	if walletAddress == "" && e.From != "" {
		s, err := r.sessions.GetSession(ctx, e.From)
		if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			return eventrouter.DisconnectEvent{}, nil, fmt.Errorf("getting session: %s", err)
		}
		walletAddress = s.WalletAddress
	}
	if walletAddress == "" {
		return eventrouter.DisconnectEvent{}, badRequest("disconnect requires a wallet address"), nil
	}

	var params tonconnect.DisconnectParams
	if len(e.Params) > 0 {
		if err := e.DecodeParams(&params); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed disconnect params")
		}
	}

	if e.From != "" {
		// The answer must go out while the session keys still exist.
		if err := r.bridge.Send(ctx, e.From, tonconnect.NewResultResponse(e.ID, struct{}{})); err != nil {
			log.Warn().Err(err).Msg("acknowledging disconnect")
		}
		err := r.sessions.RemoveSession(ctx, e.From)
		if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			return eventrouter.DisconnectEvent{}, nil, fmt.Errorf("removing session: %s", err)
		}
	}

	return eventrouter.DisconnectEvent{
		Request: requestOf(e, walletAddress),
		Reason:  truncate(strings.TrimSpace(params.Reason), r.config.MaxReasonLength),
	}, nil, nil
}

// truncate caps s to n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
