package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// LogFile is the name of the debug log written under the configured log dir.
const LogFile = "character_dialogue.log"

var levelVar = new(slog.LevelVar)

var L = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	levelVar.Set(parseLevel(lvl))
}

func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init sets the console level and, when dir is not empty, tees every record
// at debug level into dir/character_dialogue.log. The file is rotated daily at
// RotateHour local time. The returned closer stops rotation and releases the
// file.
func Init(lvl, dir string) (io.Closer, error) {
	SetLevel(lvl)
	console := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar})
	if dir == "" {
		L = slog.New(console)
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rf := newRotatingFile(filepath.Join(dir, LogFile))
	file := slog.NewJSONHandler(rf, &slog.HandlerOptions{Level: slog.LevelDebug})
	L = slog.New(slogmulti.Fanout(console, file))
	go rf.run()
	return rf, nil
}
