package tonconnect

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	tonProofPrefix     = "ton-proof-item-v2/"
	tonConnectPrefix   = "ton-connect"
	signDataPrefix     = "ton-connect/sign-data/"
	signDataCellPrefix = 0x75569022
)

// ParseAddress parses user-friendly (standard or url-safe) and raw addresses.
func ParseAddress(s string) (*address.Address, error) {
	addr, err := address.ParseAddr(s)
	if err != nil {
		urlSafe := strings.NewReplacer("+", "-", "/", "_").Replace(s)
		addr, err = address.ParseAddr(urlSafe)
	}
	if err != nil {
		addr, err = address.ParseRawAddr(s)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %s", s, err)
	}
	return addr, nil
}

// RawAddress formats an address as <workchain>:<hex>.
func RawAddress(addr *address.Address) string {
	return fmt.Sprintf("%d:%s", addr.Workchain(), hex.EncodeToString(addr.Data()))
}

// NormalizeAddress returns the raw form of any parseable address.
func NormalizeAddress(s string) (string, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return RawAddress(addr), nil
}

// ParseBOC decodes a base64 bag of cells and returns its root cell.
func ParseBOC(b64 string) (*cell.Cell, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(b64)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %s", err)
	}
	c, err := cell.FromBOC(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing boc: %s", err)
	}
	return c, nil
}

// TonProofHash builds the digest a wallet signs to answer a ton_proof item.
func TonProofHash(addr *address.Address, domain string, timestamp int64, payload string) []byte {
	var msg bytes.Buffer
	msg.WriteString(tonProofPrefix)
	msg.Write(uint32BE(uint32(addr.Workchain())))
	msg.Write(addr.Data())
	msg.Write(uint32LE(uint32(len(domain))))
	msg.WriteString(domain)
	msg.Write(uint64LE(uint64(timestamp)))
	msg.WriteString(payload)
	msgHash := sha256.Sum256(msg.Bytes())

	var full bytes.Buffer
	full.Write([]byte{0xff, 0xff})
	full.WriteString(tonConnectPrefix)
	full.Write(msgHash[:])
	digest := sha256.Sum256(full.Bytes())
	return digest[:]
}

// SignDataHash builds the digest a wallet signs to answer a signData request.
func SignDataHash(addr *address.Address, domain string, timestamp int64, p SignDataPayload) ([]byte, error) {
	var prefix string
	var data []byte
	switch p.Type {
	case SignDataText:
		prefix, data = "txt", []byte(p.Text)
	case SignDataBinary:
		raw, err := base64.StdEncoding.DecodeString(p.Bytes)
		if err != nil {
			return nil, fmt.Errorf("decoding binary payload: %s", err)
		}
		prefix, data = "bin", raw
	case SignDataCell:
		return signDataCellHash(addr, domain, timestamp, p)
	default:
		return nil, fmt.Errorf("unknown sign data type %q", p.Type)
	}

	var msg bytes.Buffer
	msg.Write([]byte{0xff, 0xff})
	msg.WriteString(signDataPrefix)
	msg.Write(uint32BE(uint32(addr.Workchain())))
	msg.Write(addr.Data())
	msg.Write(uint32BE(uint32(len(domain))))
	msg.WriteString(domain)
	msg.Write(uint64BE(uint64(timestamp)))
	msg.WriteString(prefix)
	msg.Write(uint32BE(uint32(len(data))))
	msg.Write(data)
	digest := sha256.Sum256(msg.Bytes())
	return digest[:], nil
}

func signDataCellHash(addr *address.Address, domain string, timestamp int64, p SignDataPayload) ([]byte, error) {
	payload, err := ParseBOC(p.Cell)
	if err != nil {
		return nil, fmt.Errorf("parsing cell payload: %s", err)
	}
	domainCell := cell.BeginCell().MustStoreStringSnake(EncodeDNSDomain(domain)).EndCell()
	c := cell.BeginCell().
		MustStoreUInt(signDataCellPrefix, 32).
		MustStoreUInt(uint64(crc32.ChecksumIEEE([]byte(p.Schema))), 32).
		MustStoreUInt(uint64(timestamp), 64).
		MustStoreAddr(addr).
		MustStoreRef(domainCell).
		MustStoreRef(payload).
		EndCell()
	return c.Hash(), nil
}

// EncodeDNSDomain encodes a domain the way TON DNS stores it:
// labels in reverse order, each terminated by a zero byte.
func EncodeDNSDomain(domain string) string {
	labels := strings.Split(strings.TrimSuffix(domain, "."), ".")
	var b strings.Builder
	for i := len(labels) - 1; i >= 0; i-- {
		b.WriteString(labels[i])
		b.WriteByte(0)
	}
	return b.String()
}

func uint32BE(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func uint32LE(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func uint64BE(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
