package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf)

	log.Debug("lease", "acquired")
	log.LogHold("ACQUIRE", "clasico", "buyer-1", "2 seats")

	out := buf.String()
	assert.Contains(t, out, "DEBUG [LEASE     ] acquired (logger_test.go:")
	assert.Contains(t, out, "INFO  [HOLD      ] [ACQUIRE] event=clasico session=buyer-1 - 2 seats")
}

func TestNew_WritesJSONFileAboveMinLevel(t *testing.T) {
	dir := t.TempDir()
	log, err := New(dir, WARN)
	require.NoError(t, err)
	log.out = &bytes.Buffer{}

	log.Info("HOLD", "dropped")
	log.Warn("ledger", "retrying")
	log.Error("LEDGER", "gave up")
	log.Close()

	name := filepath.Join(dir, "seat-holds-"+time.Now().UTC().Format("2006-01-02")+".log")
	entries := readEntries(t, name)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[0].Level)
	assert.Equal(t, "LEDGER", entries[0].Category)
	assert.Equal(t, "retrying", entries[0].Message)
	assert.Equal(t, "ERROR", entries[1].Level)
	assert.Contains(t, entries[1].Caller, "logger_test.go:")
}

func TestRotatesOnNewDay(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 30, 23, 59, 0, 0, time.UTC)

	log, err := New(dir, DEBUG)
	require.NoError(t, err)
	log.out = &bytes.Buffer{}
	log.nowFunc = func() time.Time { return now }

	log.Info("SWEEP", "before midnight")
	now = now.Add(2 * time.Minute)
	log.Info("SWEEP", "after midnight")
	log.Close()

	before := readEntries(t, filepath.Join(dir, "seat-holds-2026-05-30.log"))
	after := readEntries(t, filepath.Join(dir, "seat-holds-2026-05-31.log"))
	require.Len(t, before, 1)
	require.Len(t, after, 1)
	assert.Equal(t, "before midnight", before[0].Message)
	assert.Equal(t, "after midnight", after[0].Message)
}

func TestClosedLoggerStopsWritingFiles(t *testing.T) {
	dir := t.TempDir()
	log, err := New(dir, DEBUG)
	require.NoError(t, err)
	var buf bytes.Buffer
	log.out = &buf

	log.Close()
	log.Info("APP", "shutting down")

	assert.Contains(t, buf.String(), "shutting down")
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Empty(t, readEntries(t, filepath.Join(dir, files[0].Name())))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARN"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
	assert.Equal(t, "ERROR", ERROR.String())
}
