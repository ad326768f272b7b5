package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/scx1332/pipe-updater/internal/domain/update"
)

// TestFileRepository_Missing verifies List returns nothing for a missing file.
func TestFileRepository_Missing(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"), 0)

	records, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
}

// TestFileRepository_AppendList ensures records come back newest first and are trimmed to the limit.
func TestFileRepository_AppendList(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "history.json")
	repo := NewFileRepository(file, 3)

	started := time.Now().UTC().Truncate(time.Second)

	for i := range 5 {
		record := &domain.Record{
			ID:         fmt.Sprintf("run-%d", i),
			Target:     "lighthouse",
			Status:     domain.StatusSucceeded,
			StartedAt:  started,
			FinishedAt: started.Add(time.Duration(i) * time.Second),
			Downloaded: int64(i),
		}
		require.NoError(t, repo.Append(context.Background(), record))
	}

	records, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "run-4", records[0].ID)
	require.Equal(t, "run-2", records[2].ID)
	require.True(t, records[0].FinishedAt.Equal(started.Add(4*time.Second)))

	// A fresh repository reads the same file.
	records, err = NewFileRepository(file, 3).List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	require.Error(t, repo.Append(context.Background(), nil))
}

// TestFileRepository_Corrupt reports decode errors instead of dropping history.
func TestFileRepository_Corrupt(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0o600))

	_, err := NewFileRepository(file, 0).List(context.Background())
	require.Error(t, err)
}

// TestFileRepository_Get finds records by run ID.
func TestFileRepository_Get(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "history.json"), 0)

	_, err := repo.Get(context.Background(), "run-1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.Append(context.Background(), &domain.Record{ID: "run-1", Target: "geth", Status: domain.StatusFailed}))

	record, err := repo.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "geth", record.Target)
}
