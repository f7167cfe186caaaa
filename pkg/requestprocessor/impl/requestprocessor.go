package impl

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/pkg/bridge"
	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/textileio/go-tonconnect/pkg/requestprocessor"
	"github.com/textileio/go-tonconnect/pkg/session"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/pkg/wallet"
)

// RequestProcessor turns user decisions into bridge responses.
type RequestProcessor struct {
	log      zerolog.Logger
	wallets  *wallet.Manager
	sessions session.Manager
	bridge   bridge.Bridge
	config   *requestprocessor.Config
}

var _ requestprocessor.RequestProcessor = (*RequestProcessor)(nil)

// New returns a new RequestProcessor.
func New(
	wallets *wallet.Manager,
	sessions session.Manager,
	br bridge.Bridge,
	opts ...requestprocessor.Option,
) (*RequestProcessor, error) {
	config := requestprocessor.DefaultConfig()
	for _, op := range opts {
		if err := op(config); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}
	return &RequestProcessor{
		log:      logger.With().Str("component", "requestprocessor").Logger(),
		wallets:  wallets,
		sessions: sessions,
		bridge:   br,
		config:   config,
	}, nil
}

// ApproveConnect implements requestprocessor.RequestProcessor.
func (rp *RequestProcessor) ApproveConnect(
	ctx context.Context,
	req eventrouter.ConnectRequest,
) (tonconnect.ConnectPayload, error) {
	w, err := rp.wallet(req.WalletAddress)
	if err != nil {
		return tonconnect.ConnectPayload{}, err
	}
	addr, err := tonconnect.ParseAddress(w.GetAddress())
	if err != nil {
		return tonconnect.ConnectPayload{}, fmt.Errorf("parsing wallet address: %s", err)
	}

	payload := tonconnect.ConnectPayload{Device: rp.config.Device}
	for _, item := range req.Items {
		switch item.Name {
		case tonconnect.ItemTonAddr:
			stateInit, err := w.GetStateInit(ctx)
			if err != nil {
				return tonconnect.ConnectPayload{}, fmt.Errorf("getting state init: %s", err)
			}
			payload.Items = append(payload.Items, tonconnect.TonAddrItemReply{
				Name:            tonconnect.ItemTonAddr,
				Address:         w.GetAddress(),
				Network:         w.Network(),
				PublicKey:       hex.EncodeToString(w.PublicKey()),
				WalletStateInit: stateInit,
			})
		case tonconnect.ItemTonProof:
			domain := req.DApp.Domain
			if domain == "" {
				domain = req.Domain
			}
			if domain == "" {
				return tonconnect.ConnectPayload{}, fmt.Errorf("dApp domain is unknown, can't build ton_proof")
			}
			ts := rp.config.Now().Unix()
			sig, err := w.Sign(ctx, tonconnect.TonProofHash(addr, domain, ts, item.Payload))
			if err != nil {
				return tonconnect.ConnectPayload{}, fmt.Errorf("signing ton_proof: %s", err)
			}
			payload.Items = append(payload.Items, tonconnect.TonProofItemReply{
				Name: tonconnect.ItemTonProof,
				Proof: tonconnect.TonProof{
					Timestamp: ts,
					Domain:    tonconnect.TonProofDomain{LengthBytes: len(domain), Value: domain},
					Signature: base64.StdEncoding.EncodeToString(sig),
					Payload:   item.Payload,
				},
			})
		default:
			rp.log.Debug().Str("item", string(item.Name)).Msg("ignoring unknown connect item")
		}
	}

	// The session is bound first since its keys are needed to answer.
	if _, err := rp.sessions.CreateSession(ctx, req.SessionID, w.GetAddress(), session.DApp{
		Name:    req.DApp.Name,
		Domain:  req.DApp.Domain,
		URL:     req.DApp.URL,
		IconURL: req.DApp.IconURL,
	}); err != nil {
		return tonconnect.ConnectPayload{}, fmt.Errorf("creating session: %s", err)
	}
	if err := rp.bridge.Send(ctx, req.SessionID, tonconnect.NewConnectResponse(req.ID, payload)); err != nil {
		return tonconnect.ConnectPayload{}, fmt.Errorf("sending connect response: %s", err)
	}
	rp.log.Info().
		Str("session", req.SessionID).
		Str("wallet", w.GetAddress()).
		Str("dApp", req.DApp.Name).
		Msg("connect approved")

	return payload, nil
}

// RejectConnect implements requestprocessor.RequestProcessor.
func (rp *RequestProcessor) RejectConnect(ctx context.Context, req eventrouter.ConnectRequest) error {
	resp := tonconnect.NewConnectErrorResponse(req.ID,
		tonconnect.NewError(tonconnect.UserRejectsError, "user declined the connection"))
	if err := rp.bridge.Send(ctx, req.SessionID, resp); err != nil {
		return fmt.Errorf("sending connect error: %s", err)
	}
	return nil
}

// ApproveTransaction implements requestprocessor.RequestProcessor.
func (rp *RequestProcessor) ApproveTransaction(
	ctx context.Context,
	req eventrouter.TransactionRequest,
) (requestprocessor.TransactionResult, error) {
	if vu := req.Payload.ValidUntil; vu > 0 && rp.config.Now().Unix() > vu {
		return requestprocessor.TransactionResult{}, fmt.Errorf("%w: valid until %d", requestprocessor.ErrRequestExpired, vu)
	}
	w, err := rp.wallet(req.WalletAddress)
	if err != nil {
		return requestprocessor.TransactionResult{}, err
	}

	boc, err := w.SignTransaction(ctx, req.Payload)
	if err != nil {
		return requestprocessor.TransactionResult{}, fmt.Errorf("signing transaction: %s", err)
	}
	hash, err := w.SendBoc(ctx, boc)
	if err != nil {
		return requestprocessor.TransactionResult{}, fmt.Errorf("sending boc: %s", err)
	}
	// The transaction is on its way at this point, a failed answer can't undo it.
	if err := rp.bridge.Send(ctx, req.SessionID, tonconnect.NewResultResponse(req.ID, boc)); err != nil {
		return requestprocessor.TransactionResult{Boc: boc, Hash: hash}, fmt.Errorf("sending result: %s", err)
	}
	rp.touch(ctx, req.SessionID)
	rp.log.Info().Str("session", req.SessionID).Str("hash", hash).Msg("transaction sent")

	return requestprocessor.TransactionResult{Boc: boc, Hash: hash}, nil
}

// ApproveSignData implements requestprocessor.RequestProcessor.
func (rp *RequestProcessor) ApproveSignData(
	ctx context.Context,
	req eventrouter.SignDataRequest,
) (tonconnect.SignDataResult, error) {
	w, err := rp.wallet(req.WalletAddress)
	if err != nil {
		return tonconnect.SignDataResult{}, err
	}
	addr, err := tonconnect.ParseAddress(w.GetAddress())
	if err != nil {
		return tonconnect.SignDataResult{}, fmt.Errorf("parsing wallet address: %s", err)
	}

	ts := rp.config.Now().Unix()
	digest, err := tonconnect.SignDataHash(addr, req.Domain, ts, req.Payload)
	if err != nil {
		return tonconnect.SignDataResult{}, fmt.Errorf("hashing data: %s", err)
	}
	sig, err := w.Sign(ctx, digest)
	if err != nil {
		return tonconnect.SignDataResult{}, fmt.Errorf("signing data: %s", err)
	}
	result := tonconnect.SignDataResult{
		Signature: base64.StdEncoding.EncodeToString(sig),
		Address:   w.GetAddress(),
		Timestamp: ts,
		Domain:    req.Domain,
		Payload:   req.Payload,
	}
	if err := rp.bridge.Send(ctx, req.SessionID, tonconnect.NewResultResponse(req.ID, result)); err != nil {
		return tonconnect.SignDataResult{}, fmt.Errorf("sending result: %s", err)
	}
	rp.touch(ctx, req.SessionID)

	return result, nil
}

// RejectRequest implements requestprocessor.RequestProcessor.
func (rp *RequestProcessor) RejectRequest(
	ctx context.Context,
	req eventrouter.Request,
	code tonconnect.ErrorCode,
	msg string,
) error {
	if msg == "" {
		msg = "request was rejected"
	}
	if err := rp.bridge.Send(ctx, req.SessionID, tonconnect.NewErrorResponse(req.ID, tonconnect.NewError(code, msg))); err != nil {
		return fmt.Errorf("sending error response: %s", err)
	}
	return nil
}

// Disconnect implements requestprocessor.RequestProcessor.
func (rp *RequestProcessor) Disconnect(ctx context.Context, sessionID string) error {
	if _, err := rp.sessions.GetSession(ctx, sessionID); err != nil {
		return fmt.Errorf("getting session: %w", err)
	}
	if err := rp.bridge.Send(ctx, sessionID, tonconnect.NewDisconnectResponse(uuid.NewString())); err != nil {
		rp.log.Warn().Err(err).Str("session", sessionID).Msg("notifying disconnect")
	}
	if err := rp.sessions.RemoveSession(ctx, sessionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return fmt.Errorf("removing session: %s", err)
	}
	return nil
}

func (rp *RequestProcessor) wallet(address string) (wallet.Wallet, error) {
	if address == "" {
		w, ok := rp.wallets.Default()
		if !ok {
			return nil, fmt.Errorf("%w: no wallet registered", wallet.ErrWalletNotFound)
		}
		return w, nil
	}
	w, err := rp.wallets.Get(address)
	if err != nil {
		return nil, fmt.Errorf("getting wallet: %w", err)
	}
	return w, nil
}

func (rp *RequestProcessor) touch(ctx context.Context, sessionID string) {
	if err := rp.sessions.Touch(ctx, sessionID); err != nil {
		rp.log.Debug().Err(err).Str("session", sessionID).Msg("touching session")
	}
}
