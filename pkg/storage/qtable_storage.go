package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"solar-pump-rl/internal/rl"
	"solar-pump-rl/pkg/config"
	"solar-pump-rl/pkg/logger"
)

// FormatVersion is written into every persisted table
const FormatVersion = "1"

// ErrNoSavedTable is returned by Load when nothing has been persisted yet
var ErrNoSavedTable = errors.New("no saved q-table")

// TableDocument is the on-disk representation of a Q-table
type TableDocument struct {
	Version         string               `json:"version"`
	UpdatedAt       time.Time            `json:"updated_at"`
	ExplorationRate float64              `json:"exploration_rate"`
	StateCount      int                  `json:"state_count"`
	States          map[string][]float64 `json:"states"` // StateKey -> [OFF, ON]
}

// Snapshot is what gets persisted: the table plus the learner state needed to resume
type Snapshot struct {
	Table           *rl.QTable
	ExplorationRate float64
	UpdatedAt       time.Time
}

// Encode writes snap as JSON. Float values use the shortest representation
// that parses back to the identical float64.
func Encode(w io.Writer, snap Snapshot) error {
	doc := TableDocument{
		Version:         FormatVersion,
		UpdatedAt:       snap.UpdatedAt,
		ExplorationRate: snap.ExplorationRate,
		States:          make(map[string][]float64),
	}
	if snap.Table != nil {
		for _, key := range snap.Table.Keys() {
			row, _ := snap.Table.Lookup(key)
			doc.States[key.String()] = row[:]
		}
	}
	doc.StateCount = len(doc.States)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode q-table: %w", err)
	}
	return nil
}

// Decode reads a table written by Encode
func Decode(r io.Reader) (Snapshot, error) {
	var doc TableDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode q-table: %w", err)
	}
	if doc.Version != FormatVersion {
		return Snapshot{}, fmt.Errorf("unsupported q-table version %q", doc.Version)
	}

	table := rl.NewQTable()
	for raw, values := range doc.States {
		key, err := rl.ParseStateKey(raw)
		if err != nil {
			return Snapshot{}, err
		}
		if len(values) != rl.NumActions {
			return Snapshot{}, fmt.Errorf("state %s has %d q-values, want %d", raw, len(values), rl.NumActions)
		}
		var row rl.QValues
		copy(row[:], values)
		table.Set(key, row)
	}

	return Snapshot{
		Table:           table,
		ExplorationRate: doc.ExplorationRate,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}

// QTableStorage persists the Q-table under a fixed model name
type QTableStorage struct {
	config *config.ModelPersistenceConfig
	mutex  sync.Mutex
}

// NewQTableStorage creates a storage rooted at cfg.ModelsPath/cfg.ModelName
func NewQTableStorage(cfg *config.ModelPersistenceConfig) *QTableStorage {
	return &QTableStorage{config: cfg}
}

// Path returns the location of the current table
func (s *QTableStorage) Path() string {
	return filepath.Join(s.config.ModelsPath, s.config.ModelName, "current", "qtable.json")
}

func (s *QTableStorage) backupDir() string {
	return filepath.Join(s.config.ModelsPath, s.config.ModelName, "backups")
}

// Load reads the current table. A missing file yields ErrNoSavedTable.
func (s *QTableStorage) Load() (Snapshot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	f, err := os.Open(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, ErrNoSavedTable
		}
		return Snapshot{}, fmt.Errorf("failed to open q-table file: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// LoadOrEmpty loads the current table, falling back to an empty one when the
// file is missing or unreadable. fallbackRate seeds the exploration rate of
// the empty table.
func (s *QTableStorage) LoadOrEmpty(fallbackRate float64) Snapshot {
	snap, err := s.Load()
	switch {
	case err == nil:
		logger.GetLogger().WithFields(map[string]interface{}{
			"path":             s.Path(),
			"states":           snap.Table.Len(),
			"exploration_rate": snap.ExplorationRate,
		}).Info("Q-table loaded")
		return snap
	case errors.Is(err, ErrNoSavedTable):
		logger.GetLogger().Infof("No saved Q-table at %s, starting fresh", s.Path())
	default:
		logger.GetLogger().Warnf("Failed to load Q-table, starting fresh: %v", err)
	}
	return Snapshot{Table: rl.NewQTable(), ExplorationRate: fallbackRate}
}

// Save writes snap atomically and rotates backups. ctx bounds the operation.
func (s *QTableStorage) Save(ctx context.Context, snap Snapshot) error {
	if !s.config.Enabled {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("q-table save cancelled: %w", err)
	}

	currentPath := s.Path()
	if err := os.MkdirAll(filepath.Dir(currentPath), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	if s.config.BackupCount > 0 {
		if _, err := os.Stat(currentPath); err == nil {
			if err := s.createBackup(currentPath); err != nil {
				logger.GetLogger().Warnf("Failed to create backup: %v", err)
			}
		}
	}

	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}

	// Write to a temporary file first, then rename over the current one
	tempPath := currentPath + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp q-table file: %w", err)
	}
	if err := Encode(f, snap); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp q-table file: %w", err)
	}

	if err := ctx.Err(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("q-table save cancelled: %w", err)
	}

	if err := os.Rename(tempPath, currentPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp q-table file: %w", err)
	}

	logger.GetLogger().WithField("states", snap.Table.Len()).Debug("Q-table saved")
	return nil
}

// createBackup keeps at most one copy per minute and prunes to BackupCount
func (s *QTableStorage) createBackup(currentPath string) error {
	backupDir := s.backupDir()
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102_1504")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("qtable_%s.json", timestamp))
	if _, err := os.Stat(backupPath); err == nil {
		return nil
	}

	data, err := os.ReadFile(currentPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return err
	}

	return s.pruneBackups()
}

func (s *QTableStorage) pruneBackups() error {
	entries, err := os.ReadDir(s.backupDir())
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "qtable_") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for len(names) > s.config.BackupCount {
		if err := os.Remove(filepath.Join(s.backupDir(), names[0])); err != nil {
			return err
		}
		names = names[1:]
	}
	return nil
}

// Backups lists backup files, oldest first
func (s *QTableStorage) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			paths = append(paths, filepath.Join(s.backupDir(), e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
