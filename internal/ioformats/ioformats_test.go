package ioformats

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"handbook-scraper/internal/models"
)

func TestReadCodesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,code\nCalculus 2,mast10006\nEmpty,\nAnalysis,MAST20026\n"), 0644))

	codes, err := ReadCodes(path)
	require.NoError(t, err)
	require.Equal(t, []string{"MAST10006", "MAST20026"}, codes)
}

func TestReadCodesCSVMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.csv")
	require.NoError(t, os.WriteFile(path, []byte("name\nCalculus\n"), 0644))

	_, err := ReadCodes(path)
	require.Error(t, err)
}

func TestReadCodesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{\"code\": \"comp10001\"}\n\nCOMP10002\n"), 0644))

	codes, err := ReadCodes(path)
	require.NoError(t, err)
	require.Equal(t, []string{"COMP10001", "COMP10002"}, codes)
}

func TestReadCodesUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.txt")
	require.NoError(t, os.WriteFile(path, []byte("mast10006\n"), 0644))

	codes, err := ReadCodes(path)
	require.NoError(t, err)
	require.Equal(t, []string{"MAST10006"}, codes)
}

func TestReadCodesHeaderOnlyCSV(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"codes.csv", "codes.txt", "codes"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("code\n"), 0644))

		codes, err := ReadCodes(path)
		require.ErrorIs(t, err, ErrNoCodes, name)
		require.Nil(t, codes, name)
	}
}

func TestReadCodesSniffsCSVWithoutExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allow")
	require.NoError(t, os.WriteFile(path, []byte("\ncode,name\ncomp10001,Foundations\nCOMP10001,dup\ncomp10002,More\n"), 0644))

	codes, err := ReadCodes(path)
	require.NoError(t, err)
	require.Equal(t, []string{"COMP10001", "COMP10002"}, codes)
}

func TestReadCodesMalformedObjectLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("COMP10001\n{\"code\": \n"), 0644))

	_, err := ReadCodes(path)
	require.ErrorContains(t, err, "line 2")
}

func sampleSnapshot() *models.Snapshot {
	points := 12.5
	return &models.Snapshot{
		GeneratedAt: "2025-01-01T00:00:00Z",
		Version:     "0123456789ab",
		Source:      models.SnapshotSource{SearchURL: "https://example.test/search", StudyPeriod: "Semester 1", Year: 2025},
		Stats:       models.Stats{TotalFound: 2, TotalSaved: 1, Skipped: 1},
		Items: []models.SubjectRecord{{
			Code:             "MAST10006",
			Name:             "Calculus 2 & more",
			Year:             2025,
			StudyPeriod:      "Semester 1",
			CreditPoints:     &points,
			Overview:         []string{"Intro"},
			Assessment:       models.Assessment{Tables: []models.AssessmentTable{}},
			InstructorEmails: []string{"a@uni.edu"},
			Availability:     "Semester 1\nSemester 2",
		}},
	}
}

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "handbook.json")
	snap := sampleSnapshot()

	require.NoError(t, WriteSnapshot(path, snap))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "\n  \"version\": \"0123456789ab\"")
	require.Contains(t, string(data), "Calculus 2 & more")
	require.Contains(t, string(data), "\"creditPoints\": 12.5")

	back, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, snap, back)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must not be left behind")
}

func TestNullCreditPoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handbook.json")
	snap := sampleSnapshot()
	snap.Items[0].CreditPoints = nil
	require.NoError(t, WriteSnapshot(path, snap))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "\"creditPoints\": null")
}

func TestWriteNDJSONAndCSV(t *testing.T) {
	items := sampleSnapshot().Items

	var nd bytes.Buffer
	require.NoError(t, WriteNDJSON(&nd, items))
	require.Equal(t, 1, strings.Count(nd.String(), "\n"))

	var c bytes.Buffer
	require.NoError(t, WriteCSV(&c, items))
	require.Equal(t,
		"code,name,credit_points,availability,tables,instructor_emails\nMAST10006,Calculus 2 & more,12.5,Semester 1; Semester 2,0,a@uni.edu\n",
		c.String())
}
