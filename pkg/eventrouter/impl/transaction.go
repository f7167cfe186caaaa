package impl

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/pkg/wallet"
)

// maxMessages is the number of messages a wallet v4 can send at once.
const maxMessages = 4

func (r *Router) handleTransaction(
	ctx context.Context,
	log zerolog.Logger,
	e eventrouter.Event,
) (eventrouter.TransactionRequest, *tonconnect.Error, error) {
	w, err := r.resolveWallet(ctx, e)
	if err != nil {
		return eventrouter.TransactionRequest{}, nil, err
	}
	if w == nil {
		return eventrouter.TransactionRequest{}, notConnected(), nil
	}

	var tx tonconnect.TransactionPayload
	if err := e.DecodeParams(&tx); err != nil {
		return eventrouter.TransactionRequest{}, badRequest("invalid transaction payload: %s", err), nil
	}
	preview, perr := r.validateTransaction(w, tx)
	if perr != nil {
		return eventrouter.TransactionRequest{}, perr, nil
	}

	if r.emulator != nil {
		emulation, err := r.emulate(ctx, w.GetAddress(), tx)
		if err != nil {
			log.Warn().Err(err).Msg("emulating transaction")
			preview.EmulationError = err.Error()
		} else {
			preview.Emulation = emulation
		}
	}

	return eventrouter.TransactionRequest{
		Request: requestOf(e, w.GetAddress()),
		Payload: tx,
		Preview: preview,
	}, nil, nil
}

func (r *Router) validateTransaction(
	w wallet.Wallet,
	tx tonconnect.TransactionPayload,
) (eventrouter.TransactionPreview, *tonconnect.Error) {
	var preview eventrouter.TransactionPreview

	if tx.ValidUntil > 0 {
		deadline := time.Unix(tx.ValidUntil, 0).Add(r.config.ValidUntilLeeway)
		if r.config.Now().After(deadline) {
			return preview, badRequest("transaction expired at %d", tx.ValidUntil)
		}
	}
	if perr := checkScope(w, tx.Network, tx.From); perr != nil {
		return preview, perr
	}
	if len(tx.Messages) == 0 {
		return preview, badRequest("transaction has no messages")
	}
	if len(tx.Messages) > maxMessages {
		return preview, badRequest("transaction has %d messages, at most %d are allowed", len(tx.Messages), maxMessages)
	}

	preview.TotalAmount = new(big.Int)
	for i, m := range tx.Messages {
		mp, err := previewMessage(m)
		if err != nil {
			return eventrouter.TransactionPreview{}, badRequest("message %d: %s", i, err)
		}
		amount, _ := new(big.Int).SetString(mp.Amount, 10)
		preview.TotalAmount.Add(preview.TotalAmount, amount)
		preview.Messages = append(preview.Messages, mp)
	}
	return preview, nil
}

func previewMessage(m tonconnect.TransactionMessage) (eventrouter.MessagePreview, error) {
	addr, err := tonconnect.ParseAddress(m.Address)
	if err != nil {
		return eventrouter.MessagePreview{}, err
	}
	amount, err := tonconnect.ParseNanotons(m.Amount)
	if err != nil {
		return eventrouter.MessagePreview{}, err
	}

	mp := eventrouter.MessagePreview{
		Address:    m.Address,
		Amount:     amount.String(),
		Bounceable: addr.IsBounceable(),
	}
	if m.Payload != "" {
		c, err := tonconnect.ParseBOC(m.Payload)
		if err != nil {
			return eventrouter.MessagePreview{}, fmt.Errorf("invalid payload: %s", err)
		}
		mp.Payload = previewCell(c)
	}
	if m.StateInit != "" {
		if _, err := tonconnect.ParseBOC(m.StateInit); err != nil {
			return eventrouter.MessagePreview{}, fmt.Errorf("invalid state init: %s", err)
		}
		mp.HasStateInit = true
	}
	return mp, nil
}

// emulate previews the transaction, retrying failed attempts.
func (r *Router) emulate(
	ctx context.Context,
	from string,
	tx tonconnect.TransactionPayload,
) (*wallet.Emulation, error) {
	var lastErr error
	for attempt := 0; attempt <= r.config.EmulationRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("emulation aborted: %s", ctx.Err())
			case <-time.After(r.config.EmulationRetryDelay):
			}
		}
		emulation, err := r.emulator.Emulate(ctx, from, tx)
		if err == nil {
			return emulation, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("emulation failed after %d attempts: %s", r.config.EmulationRetries+1, lastErr)
}
