package impl

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/jetton"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	opComment          = 0x00000000
	opEncryptedComment = 0x2167da4b
	opJettonTransfer   = 0x0f8a7ea5
)

// previewCell decodes the well known message bodies and falls back to a raw
// dump for anything else. It never fails.
func previewCell(c *cell.Cell) *eventrouter.CellPreview {
	if c == nil || (c.BitsSize() == 0 && c.RefsNum() == 0) {
		return &eventrouter.CellPreview{Kind: eventrouter.CellKindEmpty}
	}

	slice := c.BeginParse()
	op, err := slice.LoadUInt(32)
	if err != nil {
		return rawPreview(c, nil)
	}

	switch op {
	case opComment:
		comment, err := slice.LoadStringSnake()
		if err != nil {
			return rawPreview(c, fmt.Errorf("decoding comment: %s", err))
		}
		return &eventrouter.CellPreview{Kind: eventrouter.CellKindComment, Comment: comment}
	case opEncryptedComment:
		data, err := slice.LoadBinarySnake()
		if err != nil {
			return rawPreview(c, fmt.Errorf("decoding encrypted comment: %s", err))
		}
		return &eventrouter.CellPreview{
			Kind:    eventrouter.CellKindEncrypted,
			Comment: base64.StdEncoding.EncodeToString(data),
		}
	case opJettonTransfer:
		var transfer jetton.TransferPayload
		if err := tlb.LoadFromCell(&transfer, c.BeginParse()); err != nil {
			return rawPreview(c, fmt.Errorf("decoding jetton transfer: %s", err))
		}
		return &eventrouter.CellPreview{
			Kind: eventrouter.CellKindJettonTransfer,
			Jetton: &eventrouter.JettonTransferPreview{
				QueryID:             transfer.QueryID,
				Amount:              transfer.Amount.Nano().String(),
				Destination:         addressString(transfer.Destination),
				ResponseDestination: addressString(transfer.ResponseDestination),
				ForwardTonAmount:    transfer.ForwardTONAmount.Nano().String(),
			},
		}
	default:
		return rawPreview(c, nil)
	}
}

func rawPreview(c *cell.Cell, err error) *eventrouter.CellPreview {
	p := &eventrouter.CellPreview{
		Kind: eventrouter.CellKindRaw,
		Hex:  hex.EncodeToString(c.ToBOC()),
	}
	if err != nil {
		p.Error = err.Error()
	}
	return p
}

func addressString(addr *address.Address) string {
	if addr == nil || addr.IsAddrNone() {
		return ""
	}
	return addr.String()
}
