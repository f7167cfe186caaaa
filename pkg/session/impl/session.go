package impl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/pkg/session"
	"github.com/textileio/go-tonconnect/pkg/storage"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

type sessions map[string]session.Session

// Manager implements session.Manager on top of a storage.Adapter.
type Manager struct {
	log     zerolog.Logger
	adapter storage.Adapter
	codec   storage.Codec
	now     func() time.Time

	mu sync.Mutex
}

var _ session.Manager = (*Manager)(nil)

// NewManager returns a session manager persisting into adapter.
func NewManager(adapter storage.Adapter, codec storage.Codec) *Manager {
	if codec == nil {
		codec = storage.JSON
	}
	return &Manager{
		log:     logger.With().Str("component", "sessions").Logger(),
		adapter: adapter,
		codec:   codec,
		now:     time.Now,
	}
}

// PrepareSession implements session.Manager.
func (m *Manager) PrepareSession(ctx context.Context, clientID string) (session.Session, error) {
	if clientID == "" {
		return session.Session{}, fmt.Errorf("client id is empty")
	}

	var s session.Session
	err := m.mutate(ctx, func(all sessions) (bool, error) {
		if existing, ok := all[clientID]; ok {
			s = existing
			return false, nil
		}
		pub, priv, err := session.NewKeyPair()
		if err != nil {
			return false, err
		}
		now := m.now().UnixMilli()
		s = session.Session{
			ID:             clientID,
			PublicKey:      pub,
			PrivateKey:     priv,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		all[clientID] = s
		return true, nil
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("preparing session: %s", err)
	}
	return s, nil
}

// CreateSession implements session.Manager.
func (m *Manager) CreateSession(
	ctx context.Context,
	clientID, walletAddress string,
	dApp session.DApp,
) (session.Session, error) {
	if clientID == "" {
		return session.Session{}, fmt.Errorf("client id is empty")
	}
	addr, err := tonconnect.NormalizeAddress(walletAddress)
	if err != nil {
		return session.Session{}, fmt.Errorf("normalizing wallet address: %s", err)
	}

	var s session.Session
	err = m.mutate(ctx, func(all sessions) (bool, error) {
		now := m.now().UnixMilli()
		s = all[clientID]
		if s.PrivateKey == "" {
			pub, priv, err := session.NewKeyPair()
			if err != nil {
				return false, err
			}
			s.ID, s.PublicKey, s.PrivateKey, s.CreatedAt = clientID, pub, priv, now
		}
		s.WalletAddress = addr
		s.DAppName = dApp.Name
		s.Domain = dApp.Domain
		s.URL = dApp.URL
		s.IconURL = dApp.IconURL
		s.LastActivityAt = now
		all[clientID] = s
		return true, nil
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("creating session: %s", err)
	}

	m.log.Info().
		Str("session_id", s.ID).
		Str("wallet", s.WalletAddress).
		Str("dapp", s.DAppName).
		Msg("session created")
	return s, nil
}

// GetSession implements session.Manager.
func (m *Manager) GetSession(ctx context.Context, id string) (session.Session, error) {
	all, err := m.load(ctx)
	if err != nil {
		return session.Session{}, err
	}
	s, ok := all[id]
	if !ok {
		return session.Session{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	return s, nil
}

// GetSessionIDsForWallet implements session.Manager.
func (m *Manager) GetSessionIDsForWallet(ctx context.Context, walletAddress string) ([]string, error) {
	addr, err := tonconnect.NormalizeAddress(walletAddress)
	if err != nil {
		return nil, fmt.Errorf("normalizing wallet address: %s", err)
	}
	all, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for id, s := range all {
		if s.WalletAddress == addr {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListSessions implements session.Manager.
func (m *Manager) ListSessions(ctx context.Context) ([]session.Session, error) {
	all, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]session.Session, 0, len(all))
	for _, s := range all {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RemoveSession implements session.Manager.
func (m *Manager) RemoveSession(ctx context.Context, id string) error {
	err := m.mutate(ctx, func(all sessions) (bool, error) {
		if _, ok := all[id]; !ok {
			return false, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
		}
		delete(all, id)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("removing session: %w", err)
	}
	m.log.Info().Str("session_id", id).Msg("session removed")
	return nil
}

// RemoveSessionsForWallet implements session.Manager.
func (m *Manager) RemoveSessionsForWallet(ctx context.Context, walletAddress string) (int, error) {
	addr, err := tonconnect.NormalizeAddress(walletAddress)
	if err != nil {
		return 0, fmt.Errorf("normalizing wallet address: %s", err)
	}
	var removed int
	err = m.mutate(ctx, func(all sessions) (bool, error) {
		for id, s := range all {
			if s.WalletAddress == addr {
				delete(all, id)
				removed++
			}
		}
		return removed > 0, nil
	})
	if err != nil {
		return 0, fmt.Errorf("removing sessions: %s", err)
	}
	return removed, nil
}

// Touch implements session.Manager.
func (m *Manager) Touch(ctx context.Context, id string) error {
	err := m.mutate(ctx, func(all sessions) (bool, error) {
		s, ok := all[id]
		if !ok {
			return false, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
		}
		s.LastActivityAt = m.now().UnixMilli()
		all[id] = s
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

func (m *Manager) mutate(ctx context.Context, f func(sessions) (bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.load(ctx)
	if err != nil {
		return err
	}
	dirty, err := f(all)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	return storage.Set(ctx, m.adapter, m.codec, session.SessionsKey, all)
}

func (m *Manager) load(ctx context.Context) (sessions, error) {
	all, ok, err := storage.Get[sessions](ctx, m.adapter, m.codec, session.SessionsKey)
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	if !ok || all == nil {
		all = sessions{}
	}
	return all, nil
}
