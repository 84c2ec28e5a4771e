// Package positions keeps open positions in memory and mirrors every
// mutation to a JSON file so a crash never loses track of held inventory.
package positions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/avivsh/polystrat/pkg/types"
)

// Store is a crash-safe map of primary token id to position. Every write
// goes through an atomic temp-file-and-rename so the file on disk is always
// a complete document.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*types.Position
	path      string
	logger    *zap.Logger
}

// Config holds store configuration.
type Config struct {
	// DataDir is the directory holding position files.
	DataDir string
	// Address is the account identifier; the file is named after its
	// first characters so multiple accounts never collide.
	Address string
	Logger  *zap.Logger
}

// NewStore creates the store and loads any existing snapshot. A corrupt
// file is renamed aside with a timestamp suffix and the store starts empty.
func NewStore(cfg *Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	addr := strings.ToLower(cfg.Address)
	addr = strings.TrimPrefix(addr, "0x")
	if len(addr) > 8 {
		addr = addr[:8]
	}

	s := &Store{
		positions: make(map[string]*types.Position),
		path:      filepath.Join(cfg.DataDir, fmt.Sprintf("positions_%s.json", addr)),
		logger:    cfg.Logger,
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read positions file: %w", err)
	}

	var loaded map[string]*types.Position
	if err := json.Unmarshal(data, &loaded); err != nil {
		backup := fmt.Sprintf("%s.corrupt_%s.json",
			strings.TrimSuffix(s.path, ".json"),
			time.Now().Format("20060102_150405"))
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			return fmt.Errorf("back up corrupt positions file: %w", renameErr)
		}
		s.logger.Error("positions-file-corrupt",
			zap.String("path", s.path),
			zap.String("backup", backup),
			zap.Error(err))
		return nil
	}

	s.positions = loaded
	if s.positions == nil {
		s.positions = make(map[string]*types.Position)
	}

	s.logger.Info("positions-loaded",
		zap.String("path", s.path),
		zap.Int("count", len(s.positions)))
	PositionsOpen.Set(float64(len(s.positions)))

	return nil
}

// persist writes the full map atomically. Callers hold the write lock.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.positions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp positions file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename positions file: %w", err)
	}

	PositionsOpen.Set(float64(len(s.positions)))
	return nil
}

// Add records a new position keyed by its primary token.
func (s *Store) Add(pos *types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pos.PrimaryToken()
	if key == "" {
		return types.NewDataIntegrityError("position has no legs")
	}
	s.positions[key] = pos
	return s.persist()
}

// Get returns the position holding tokenID as its primary leg.
func (s *Store) Get(tokenID string) (*types.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[tokenID]
	return pos, ok
}

// Has reports whether any leg of any open position touches tokenID.
func (s *Store) Has(tokenID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.positions[tokenID]; ok {
		return true
	}
	for _, pos := range s.positions {
		for _, leg := range pos.Legs {
			if leg.TokenID == tokenID {
				return true
			}
		}
	}
	return false
}

// Remove deletes a position and persists.
func (s *Store) Remove(tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[tokenID]; !ok {
		return nil
	}
	delete(s.positions, tokenID)
	return s.persist()
}

// Update applies fn to the position under the lock and persists the result.
func (s *Store) Update(tokenID string, fn func(*types.Position)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[tokenID]
	if !ok {
		return fmt.Errorf("position not found: %s", tokenID)
	}
	fn(pos)
	return s.persist()
}

// GetAll returns a snapshot copy of all positions.
func (s *Store) GetAll() []*types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out
}

// GetByStrategy returns snapshot copies of positions owned by a strategy.
func (s *Store) GetByStrategy(strategy string) []*types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Position, 0)
	for _, pos := range s.positions {
		if pos.Strategy == strategy {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out
}

// Count returns the number of tracked positions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// CommittedCapital sums the entry cost of every tracked position.
func (s *Store) CommittedCapital() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0.0
	for _, pos := range s.positions {
		total += pos.CommittedCapital()
	}
	return total
}

// Flush forces a persist of current state.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}
