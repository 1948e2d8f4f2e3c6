package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	SetLevel("DEBUG")
	require.Equal(t, slog.LevelDebug, levelVar.Level())
	SetLevel("warn")
	require.Equal(t, slog.LevelWarn, levelVar.Level())
	SetLevel("bogus")
	require.Equal(t, slog.LevelInfo, levelVar.Level())
}

func TestInit_WritesDebugToFile(t *testing.T) {
	prev := L
	t.Cleanup(func() {
		L = prev
		SetLevel("info")
	})

	dir := filepath.Join(t.TempDir(), "logs")
	closer, err := Init("error", dir)
	require.NoError(t, err)

	require.True(t, L.Enabled(context.Background(), slog.LevelDebug))
	L.Debug("reveal meta", "user_name", "姜维")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, LogFile))
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "reveal meta"))
	require.True(t, strings.Contains(string(data), "姜维"))
}

func TestNextRotation(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)

	before := time.Date(2024, 5, 1, 1, 59, 0, 0, loc)
	require.Equal(t, time.Date(2024, 5, 1, 2, 0, 0, 0, loc), nextRotation(before))

	at := time.Date(2024, 5, 1, 2, 0, 0, 0, loc)
	require.Equal(t, time.Date(2024, 5, 2, 2, 0, 0, 0, loc), nextRotation(at))

	evening := time.Date(2024, 12, 31, 23, 0, 0, 0, loc)
	require.Equal(t, time.Date(2025, 1, 1, 2, 0, 0, 0, loc), nextRotation(evening))
}

func TestRotatingFile_RotateKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	rf := newRotatingFile(filepath.Join(dir, LogFile))

	_, err := rf.Write([]byte("before\n"))
	require.NoError(t, err)
	require.NoError(t, rf.Rotate())
	_, err = rf.Write([]byte("after\n"))
	require.NoError(t, err)
	require.NoError(t, rf.Close())
	require.NoError(t, rf.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	data, err := os.ReadFile(filepath.Join(dir, LogFile))
	require.NoError(t, err)
	require.Equal(t, "after\n", string(data))
}
