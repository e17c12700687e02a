package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "HANDBOOK_") {
			t.Setenv(key, "")
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, 3, cfg.Retries)
	require.Equal(t, 0, cfg.MaxPages)
	require.Equal(t, DefaultStudyPeriod, cfg.StudyPeriod)
	require.True(t, cfg.SemesterFilter())
	require.Contains(t, cfg.ResolvedSearchURL(), "study_periods%5B%5D=semester_1")
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "handbook.json5")
	err := os.WriteFile(file, []byte(`{
		// comments are allowed
		concurrency: 2,
		delay_ms: 10,
		output: "from-file.json",
		max_pages: 7,
	}`), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "handbook.local.json5"), []byte(`{ max_pages: 9 }`), 0644)
	require.NoError(t, err)

	t.Setenv("HANDBOOK_CONCURRENCY", "6")
	t.Setenv("HANDBOOK_OUTPUT", "from-env.json")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--output", "from-flag.json", "--all-periods"}))

	cfg, err := Load(file, fs)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.MaxPages, "local file overrides base file")
	require.Equal(t, 10, cfg.DelayMs, "file overrides default")
	require.Equal(t, 6, cfg.Concurrency, "env overrides file")
	require.Equal(t, "from-flag.json", cfg.Output, "flag overrides env")
	require.False(t, cfg.SemesterFilter())
}

func TestUnchangedFlagsDoNotOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HANDBOOK_DELAY_MS", "42")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	require.Equal(t, 42, cfg.DelayMs)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("HANDBOOK_CONCURRENCY", "many")
	_, err := Load("", nil)
	require.ErrorIs(t, err, ErrInvalid)

	t.Setenv("HANDBOOK_CONCURRENCY", "0")
	_, err = Load("", nil)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestReadFileParseError(t *testing.T) {
	file := filepath.Join(t.TempDir(), "handbook.json5")
	require.NoError(t, os.WriteFile(file, []byte("invalid { content"), 0644))

	cfg := Default()
	require.Error(t, ReadFile(file, &cfg))
}

func TestFileZeroValuesOverrideDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "handbook.json5")
	require.NoError(t, os.WriteFile(file, []byte(`{ delay_ms: 0, retries: 0, all_periods: true }`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handbook.local.json5"), []byte(`{ all_periods: false }`), 0644))

	cfg, err := Load(file, nil)
	require.NoError(t, err)
	require.Equal(t, 0, cfg.DelayMs)
	require.Equal(t, 0, cfg.Retries)
	require.False(t, cfg.AllPeriods)
	require.True(t, cfg.SemesterFilter())
	require.Equal(t, 4, cfg.Concurrency, "keys absent from both files keep their default")
}

func TestPeriodSlug(t *testing.T) {
	cfg := Default()
	cfg.StudyPeriod = "  Summer   Term "
	require.Equal(t, "summer_term", cfg.PeriodSlug())
}

func TestStudyPeriodIsCanonicalised(t *testing.T) {
	clearEnv(t)
	t.Setenv("HANDBOOK_STUDY_PERIOD", "  summer   term ")
	t.Setenv("HANDBOOK_RESPECT_ROBOTS", "true")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "Summer Term", cfg.StudyPeriod)
	require.True(t, cfg.RespectRobots)
	require.Equal(t, "Year Long", CanonicalPeriod("YEAR LONG"))
}
