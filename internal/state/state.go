package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SymbolState is the outcome of the most recent cycle for one symbol.
type SymbolState struct {
	Symbol       string          `json:"symbol"`
	LastCycle    time.Time       `json:"last_cycle"`
	Signal       string          `json:"signal"`
	Phase        string          `json:"phase"`
	Result       string          `json:"result"`
	Current      decimal.Decimal `json:"current"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	BuyBackPrice decimal.Decimal `json:"buy_back_price"`
	LastError    string          `json:"last_error,omitempty"`
}

type Snapshot struct {
	RunID   string                 `json:"run_id"`
	LastRun time.Time              `json:"last_run"`
	Symbols map[string]SymbolState `json:"symbols"`
}

type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

func NewStore() *Store {
	return &Store{
		snapshot: Snapshot{
			Symbols: map[string]SymbolState{},
		},
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copy := s.snapshot
	copy.Symbols = make(map[string]SymbolState, len(s.snapshot.Symbols))
	for k, v := range s.snapshot.Symbols {
		copy.Symbols[k] = v
	}
	return copy
}

func (s *Store) Update(st SymbolState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Symbols[st.Symbol] = st
}

func (s *Store) Symbol(symbol string) (SymbolState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.snapshot.Symbols[symbol]
	return st, ok
}

// List returns symbol states ordered by symbol.
func (s *Store) List() []SymbolState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SymbolState, 0, len(s.snapshot.Symbols))
	for _, st := range s.snapshot.Symbols {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *Store) SetLastRun(runID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.RunID = runID
	s.snapshot.LastRun = t
}

func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := json.MarshalIndent(s.snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	if snapshot.Symbols == nil {
		snapshot.Symbols = map[string]SymbolState{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	return nil
}
