package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"handbook-scraper/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func snapshot(version string, saved int) *models.Snapshot {
	return &models.Snapshot{
		GeneratedAt: "2025-01-01T00:00:00Z",
		Version:     version,
		Source:      models.SnapshotSource{StudyPeriod: "Semester 1", Year: 2025},
		Stats:       models.Stats{TotalFound: saved + 1, TotalSaved: saved, Skipped: 1},
	}
}

func TestRecordAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	require.Nil(t, latest)

	first, err := s.Record(ctx, snapshot("aaaaaaaaaaaa", 10), "data/handbook.json")
	require.NoError(t, err)
	second, err := s.Record(ctx, snapshot("bbbbbbbbbbbb", 12), "data/handbook.json")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []Run{second, first}, runs)

	latest, err = s.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "bbbbbbbbbbbb", latest.Version)
	require.Equal(t, models.Stats{TotalFound: 13, TotalSaved: 12, Skipped: 1}, latest.Stats)

	runs, err = s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open("sqlite", path)
	require.NoError(t, err)
	_, err = s.Record(context.Background(), snapshot("aaaaaaaaaaaa", 1), "out.json")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open("sqlite", path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestOpenRejectsBadInput(t *testing.T) {
	_, err := Open("postgres", "whatever")
	require.Error(t, err)
	_, err = Open("sqlite", "")
	require.Error(t, err)
}
