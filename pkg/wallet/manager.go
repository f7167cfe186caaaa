package wallet

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

// Manager keeps the wallets registered in the process, keyed by their raw address.
type Manager struct {
	mu      sync.RWMutex
	order   []string
	wallets map[string]Wallet
	known   mapset.Set[string]
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{
		wallets: map[string]Wallet{},
		known:   mapset.NewThreadUnsafeSet[string](),
	}
}

// Register adds a wallet. Registering the same address twice fails.
func (m *Manager) Register(w Wallet) (string, error) {
	addr, err := tonconnect.NormalizeAddress(w.GetAddress())
	if err != nil {
		return "", fmt.Errorf("normalizing address: %s", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known.Add(addr) {
		return "", fmt.Errorf("wallet %s is already registered", addr)
	}
	m.wallets[addr] = w
	m.order = append(m.order, addr)
	return addr, nil
}

// Unregister removes a wallet.
func (m *Manager) Unregister(address string) error {
	addr, err := tonconnect.NormalizeAddress(address)
	if err != nil {
		return fmt.Errorf("normalizing address: %s", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known.Contains(addr) {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, addr)
	}
	m.known.Remove(addr)
	delete(m.wallets, addr)
	for i, a := range m.order {
		if a == addr {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the wallet registered under any form of address.
func (m *Manager) Get(address string) (Wallet, error) {
	addr, err := tonconnect.NormalizeAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, addr)
	}
	return w, nil
}

// Has reports whether a wallet is registered under the address.
func (m *Manager) Has(address string) bool {
	addr, err := tonconnect.NormalizeAddress(address)
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.known.Contains(addr)
}

// Default returns the first registered wallet.
func (m *Manager) Default() (Wallet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return nil, false
	}
	return m.wallets[m.order[0]], true
}

// Addresses returns the registered addresses in registration order.
func (m *Manager) Addresses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Len returns the number of registered wallets.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.known.Cardinality()
}
