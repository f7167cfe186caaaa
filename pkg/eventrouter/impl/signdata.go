package impl

import (
	"context"
	"encoding/base64"
	"encoding/hex"

	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

func (r *Router) handleSignData(
	ctx context.Context,
	e eventrouter.Event,
) (eventrouter.SignDataRequest, *tonconnect.Error, error) {
	w, err := r.resolveWallet(ctx, e)
	if err != nil {
		return eventrouter.SignDataRequest{}, nil, err
	}
	if w == nil {
		return eventrouter.SignDataRequest{}, notConnected(), nil
	}

	var payload tonconnect.SignDataPayload
	if err := e.DecodeParams(&payload); err != nil {
		return eventrouter.SignDataRequest{}, badRequest("invalid sign data payload: %s", err), nil
	}
	if perr := checkScope(w, payload.Network, payload.From); perr != nil {
		return eventrouter.SignDataRequest{}, perr, nil
	}

	preview := eventrouter.SignDataPreview{Type: payload.Type}
	switch payload.Type {
	case tonconnect.SignDataText:
		if payload.Text == "" {
			return eventrouter.SignDataRequest{}, badRequest("text is empty"), nil
		}
		preview.Text = payload.Text
		preview.Size = len(payload.Text)
	case tonconnect.SignDataBinary:
		data, err := base64.StdEncoding.DecodeString(payload.Bytes)
		if err != nil {
			return eventrouter.SignDataRequest{}, badRequest("invalid binary payload: %s", err), nil
		}
		if len(data) == 0 {
			return eventrouter.SignDataRequest{}, badRequest("binary payload is empty"), nil
		}
		preview.Size = len(data)
		preview.Hex = hex.EncodeToString(data)
	case tonconnect.SignDataCell:
		if payload.Schema == "" {
			return eventrouter.SignDataRequest{}, badRequest("cell payload has no schema"), nil
		}
		c, err := tonconnect.ParseBOC(payload.Cell)
		if err != nil {
			return eventrouter.SignDataRequest{}, badRequest("invalid cell payload: %s", err), nil
		}
		preview.Cell = previewCell(c)
	default:
		return eventrouter.SignDataRequest{}, badRequest("unknown sign data type %q", payload.Type), nil
	}

	return eventrouter.SignDataRequest{
		Request: requestOf(e, w.GetAddress()),
		Payload: payload,
		Preview: preview,
	}, nil, nil
}
