package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// SessionsKey is the storage key holding every session.
const SessionsKey = "sessions"

// ErrSessionNotFound indicates there's no session with the provided id.
var ErrSessionNotFound = errors.New("session not found")

// Session binds a dApp connection to a wallet.
//
// ID is the dApp client id, i.e. the hex encoded X25519 public key the dApp
// uses on the bridge. The wallet side of the channel has its own keypair.
// A session with an empty WalletAddress is pending: the dApp paired with the
// wallet but the connect request wasn't approved yet.
type Session struct {
	ID             string `json:"id" msgpack:"id"`
	WalletAddress  string `json:"walletAddress,omitempty" msgpack:"walletAddress"`
	DAppName       string `json:"dAppName,omitempty" msgpack:"dAppName"`
	Domain         string `json:"domain,omitempty" msgpack:"domain"`
	URL            string `json:"url,omitempty" msgpack:"url"`
	IconURL        string `json:"iconUrl,omitempty" msgpack:"iconUrl"`
	PublicKey      string `json:"publicKey" msgpack:"publicKey"`
	PrivateKey     string `json:"privateKey" msgpack:"privateKey"`
	CreatedAt      int64  `json:"createdAt" msgpack:"createdAt"`
	LastActivityAt int64  `json:"lastActivityAt" msgpack:"lastActivityAt"`
}

// Bound reports whether the session is bound to a wallet.
func (s Session) Bound() bool {
	return s.WalletAddress != ""
}

// Seal encrypts msg for the dApp. The 24 byte nonce is prepended to the box.
func (s Session) Seal(msg []byte) ([]byte, error) {
	peer, priv, err := s.keys()
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %s", err)
	}
	return box.Seal(nonce[:], msg, &nonce, peer, priv), nil
}

// Open decrypts a message sent by the dApp.
func (s Session) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < 24+box.Overhead {
		return nil, fmt.Errorf("message too short")
	}
	peer, priv, err := s.keys()
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	msg, ok := box.Open(nil, sealed[24:], &nonce, peer, priv)
	if !ok {
		return nil, fmt.Errorf("decrypting message")
	}
	return msg, nil
}

func (s Session) keys() (peer, priv *[32]byte, err error) {
	if peer, err = decodeKey(s.ID); err != nil {
		return nil, nil, fmt.Errorf("decoding dApp public key: %s", err)
	}
	if priv, err = decodeKey(s.PrivateKey); err != nil {
		return nil, nil, fmt.Errorf("decoding session private key: %s", err)
	}
	return peer, priv, nil
}

// NewKeyPair generates a hex encoded X25519 keypair.
func NewKeyPair() (pub, priv string, err error) {
	pk, sk, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating keypair: %s", err)
	}
	return hex.EncodeToString(pk[:]), hex.EncodeToString(sk[:]), nil
}

func decodeKey(s string) (*[32]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes long, got %d", len(b))
	}
	var k [32]byte
	copy(k[:], b)
	return &k, nil
}

// DApp describes the dApp side of a session.
type DApp struct {
	Name    string
	Domain  string
	URL     string
	IconURL string
}

// Manager tracks dApp sessions.
type Manager interface {
	// PrepareSession creates a pending session for a dApp client id, or returns
	// the existing one.
	PrepareSession(ctx context.Context, clientID string) (Session, error)
	// CreateSession binds the dApp client id to a wallet, reusing the keys of a
	// pending session if there's one.
	CreateSession(ctx context.Context, clientID, walletAddress string, dApp DApp) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	// GetSessionIDsForWallet returns the ids of the sessions bound to the wallet.
	GetSessionIDsForWallet(ctx context.Context, walletAddress string) ([]string, error)
	ListSessions(ctx context.Context) ([]Session, error)
	RemoveSession(ctx context.Context, id string) error
	RemoveSessionsForWallet(ctx context.Context, walletAddress string) (int, error)
	// Touch refreshes the last activity timestamp.
	Touch(ctx context.Context, id string) error
}
