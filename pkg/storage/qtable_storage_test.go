package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-pump-rl/internal/rl"
	"solar-pump-rl/pkg/config"
)

func newTestStorage(t *testing.T) *QTableStorage {
	t.Helper()
	return NewQTableStorage(&config.ModelPersistenceConfig{
		Enabled:     true,
		ModelName:   "test_qtable",
		ModelsPath:  t.TempDir(),
		BackupCount: 2,
		SaveTimeout: time.Second,
	})
}

func sampleTable() *rl.QTable {
	table := rl.NewQTable()
	table.Set(rl.StateKey{Tank: 3, PanelDelta: 4, Sun: 3, Cloud: 0, TimeOfDay: 1, LastAction: 1}, rl.QValues{0.1 + 0.2, -1.0 / 3.0})
	table.Set(rl.StateKey{Tank: 0, PanelDelta: 0, Sun: 0, Cloud: 2, TimeOfDay: 3, LastAction: 0}, rl.QValues{1e-300, 123456.789012345})
	table.Get(rl.StateKey{Tank: 7, PanelDelta: 1, Sun: 2, Cloud: 1, TimeOfDay: 2})
	return table
}

func TestEncodeDecodeIsExact(t *testing.T) {
	table := sampleTable()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Snapshot{Table: table, ExplorationRate: 0.4213}))

	snap, err := Decode(&buf)
	require.NoError(t, err)
	assert.True(t, table.Equal(snap.Table))
	assert.Equal(t, 0.4213, snap.ExplorationRate)
}

func TestDecodeRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", "{{{"},
		{"wrong version", `{"version":"99","states":{}}`},
		{"bad key", `{"version":"1","states":{"garbage":[0,0]}}`},
		{"long row", `{"version":"1","states":{"t1_p2_s3_c0_h1_a0":[1,2,3]}}`},
		{"short row", `{"version":"1","states":{"t1_p2_s3_c0_h1_a0":[1]}}`},
		{"null row", `{"version":"1","states":{"t1_p2_s3_c0_h1_a0":null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewBufferString(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	table := sampleTable()

	require.NoError(t, s.Save(context.Background(), Snapshot{Table: table, ExplorationRate: 0.05}))

	snap, err := s.Load()
	require.NoError(t, err)
	assert.True(t, table.Equal(snap.Table))
	assert.Equal(t, 0.05, snap.ExplorationRate)
	assert.False(t, snap.UpdatedAt.IsZero())

	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadMissingFile(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoSavedTable)

	snap := s.LoadOrEmpty(1.0)
	assert.Equal(t, 0, snap.Table.Len())
	assert.Equal(t, 1.0, snap.ExplorationRate)
}

func TestLoadCorruptFileFallsBackToEmpty(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("not a table"), 0644))

	_, err := s.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSavedTable)

	snap := s.LoadOrEmpty(0.7)
	assert.Equal(t, 0, snap.Table.Len())
	assert.Equal(t, 0.7, snap.ExplorationRate)
}

func TestSaveDisabledWritesNothing(t *testing.T) {
	s := newTestStorage(t)
	s.config.Enabled = false

	require.NoError(t, s.Save(context.Background(), Snapshot{Table: sampleTable()}))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoSavedTable)
}

func TestSaveCancelledContext(t *testing.T) {
	s := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Save(ctx, Snapshot{Table: sampleTable()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveRotatesBackups(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	backupDir := filepath.Join(s.config.ModelsPath, s.config.ModelName, "backups")
	require.NoError(t, os.MkdirAll(backupDir, 0755))
	for _, name := range []string{"qtable_20200101_0000.json", "qtable_20200101_0001.json", "qtable_20200101_0002.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(backupDir, name), []byte("{}"), 0644))
	}

	require.NoError(t, s.Save(ctx, Snapshot{Table: sampleTable()}))
	require.NoError(t, s.Save(ctx, Snapshot{Table: rl.NewQTable()}))

	backups, err := s.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "qtable_20200101_0002.json", filepath.Base(backups[0]))

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Table.Len())
}
