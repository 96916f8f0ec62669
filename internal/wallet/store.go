// Package wallet manages operator credentials and trading settings, persisted
// as flat JSON files under a secure directory.
package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	ErrWalletExists   = errors.New("wallet already exists")
	ErrWalletNotFound = errors.New("wallet not found")
	ErrMissingKeys    = errors.New("missing required wallet information")
)

// DefaultPool is the liquidity pool assumed when a wallet doesn't name one.
const DefaultPool = "pump"

// Wallet holds one registered trading credential.
type Wallet struct {
	PublicKey  string  `json:"public_key"`
	PrivateKey string  `json:"private_key"`
	APIKey     string  `json:"api_key,omitempty"`
	Pool       string  `json:"pool,omitempty"`
	LastUsed   string  `json:"last_used,omitempty"`
	Balance    float64 `json:"balance,omitempty"`
}

// Settings are the trade-execution knobs shared by all wallets.
type Settings struct {
	Slippage    float64 `json:"slippage"`
	PriorityFee float64 `json:"priority_fee"`
}

// DefaultSettings returns the settings written when no file exists yet.
func DefaultSettings() Settings {
	return Settings{Slippage: 5, PriorityFee: 0.005}
}

type walletsFile struct {
	Wallets []Wallet `json:"wallets"`
}

// Store is the file-backed wallet and settings registry. All methods are safe
// for concurrent use; every mutation is flushed to disk before returning.
type Store struct {
	mu           sync.Mutex
	walletsPath  string
	settingsPath string
	wallets      []Wallet
	settings     Settings
}

// NewStore opens (or initializes) the wallet store under dir. Missing or
// invalid files are replaced with defaults, mirroring a fresh install.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secure dir: %w", err)
	}

	s := &Store{
		walletsPath:  filepath.Join(dir, "wallets.json"),
		settingsPath: filepath.Join(dir, "settings.json"),
		settings:     DefaultSettings(),
	}

	var wf walletsFile
	if loadJSON(s.walletsPath, &wf) {
		s.wallets = wf.Wallets
	}
	if s.wallets == nil {
		s.wallets = []Wallet{}
	}

	var st Settings
	if loadJSON(s.settingsPath, &st) {
		s.settings = st
	}

	if err := s.saveWallets(); err != nil {
		return nil, err
	}
	if err := s.saveSettings(); err != nil {
		return nil, err
	}

	return s, nil
}

// loadJSON reads the file into v, reporting whether it held valid JSON.
func loadJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// AddWallet registers a new credential. Public and private keys are required;
// the pool defaults to DefaultPool.
func (s *Store) AddWallet(w Wallet) error {
	if w.PublicKey == "" || w.PrivateKey == "" {
		return ErrMissingKeys
	}
	if w.Pool == "" {
		w.Pool = DefaultPool
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.wallets {
		if existing.PublicKey == w.PublicKey {
			return ErrWalletExists
		}
	}

	s.wallets = append(s.wallets, w)
	return s.saveWallets()
}

// RemoveWallet drops the wallet with the given public key. Removing an
// unknown key is a no-op, matching the permissive remove semantics of the
// operator surface.
func (s *Store) RemoveWallet(publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.wallets[:0]
	for _, w := range s.wallets {
		if w.PublicKey != publicKey {
			kept = append(kept, w)
		}
	}
	s.wallets = kept
	return s.saveWallets()
}

// Find returns the wallet with the given public key.
func (s *Store) Find(publicKey string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.wallets {
		if w.PublicKey == publicKey {
			return w, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

// Wallets returns a copy of all registered wallets.
func (s *Store) Wallets() []Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Wallet, len(s.wallets))
	copy(out, s.wallets)
	return out
}

// MarkUsed stamps the wallet's last_used time after a successful trade.
func (s *Store) MarkUsed(publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.wallets {
		if s.wallets[i].PublicKey == publicKey {
			s.wallets[i].LastUsed = time.Now().Format(time.RFC3339)
			return s.saveWallets()
		}
	}
	return ErrWalletNotFound
}

// Settings returns the current trading settings.
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings applies the provided fields, keeping the rest. Nil means
// leave unchanged.
func (s *Store) UpdateSettings(slippage, priorityFee *float64) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slippage != nil {
		s.settings.Slippage = *slippage
	}
	if priorityFee != nil {
		s.settings.PriorityFee = *priorityFee
	}
	return s.settings, s.saveSettings()
}

func (s *Store) saveWallets() error {
	return writeJSON(s.walletsPath, walletsFile{Wallets: s.wallets})
}

func (s *Store) saveSettings() error {
	return writeJSON(s.settingsPath, s.settings)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
