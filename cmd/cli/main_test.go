package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"handbook-scraper/internal/history"
	"handbook-scraper/internal/ioformats"
	"handbook-scraper/internal/models"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, "HANDBOOK_") {
			t.Setenv(k, "")
		}
	}
	root := newRootCmd()
	root.SetArgs(append([]string{"--config", ""}, args...))
	return root.Execute()
}

func writeTestSnapshot(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handbook.json")
	require.NoError(t, ioformats.WriteSnapshot(path, &models.Snapshot{
		Version: "0123456789ab",
		Items: []models.SubjectRecord{
			{Code: "MAST10006", Name: "Calculus 2", InstructorEmails: []string{"a@uni.edu"}},
		},
	}))
	return path
}

func TestExportCSV(t *testing.T) {
	snap := writeTestSnapshot(t)
	out := filepath.Join(t.TempDir(), "items.csv")

	require.NoError(t, execute(t, "export", "-o", snap, "--format", "csv", "-w", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "code,name,credit_points,availability,tables,instructor_emails\nMAST10006,Calculus 2,,,0,a@uni.edu\n", string(data))
}

func TestExportUnknownFormat(t *testing.T) {
	snap := writeTestSnapshot(t)
	out := filepath.Join(t.TempDir(), "x")
	err := execute(t, "export", "-o", snap, "--format", "xml", "-w", out)
	require.ErrorContains(t, err, "unknown format")
	require.NoFileExists(t, out)
}

func TestHistoryRequiresDSN(t *testing.T) {
	err := execute(t, "history")
	require.ErrorContains(t, err, "history is disabled")
}

func TestHistoryListsRuns(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open("sqlite", dsn)
	require.NoError(t, err)
	_, err = store.Record(context.Background(), &models.Snapshot{Version: "0123456789ab"}, "data/handbook.json")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	require.NoError(t, execute(t, "history", "--history-dsn", dsn, "-n", "5"))
}
