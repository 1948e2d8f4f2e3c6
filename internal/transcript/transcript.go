// Package transcript writes a finished dialogue to a timestamped text file:
// a header, the persona metadata as indented JSON, a second header, then the
// message list as indented JSON.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/comigor/persona-dialogue/internal/domain"
)

const (
	MetaHeader    = "# 人物人设:"
	HistoryHeader = "# 对话记录:"

	fileSuffix = "_dialogue_perseverance.txt"
	timeLayout = "20060102150405"

	// numbered names tried when the plain one is taken
	maxNameAttempts = 100
)

// ErrMalformedTranscript is returned by Read when a file lacks either header.
var ErrMalformedTranscript = errors.New("malformed transcript file")

// FileName returns the transcript file name for a session ending at t.
func FileName(t time.Time) string {
	return t.Format(timeLayout) + fileSuffix
}

// numberedName is FileName for n == 1 and "<stamp>-<n>_dialogue_perseverance.txt"
// after that.
func numberedName(t time.Time, n int) string {
	if n <= 1 {
		return FileName(t)
	}
	return fmt.Sprintf("%s-%d%s", t.Format(timeLayout), n, fileSuffix)
}

// create opens a new transcript file under dir. It never reuses an existing
// file: dialogues ending in the same second get numbered names.
func create(dir string, at time.Time) (*os.File, string, error) {
	for n := 1; n <= maxNameAttempts; n++ {
		path := filepath.Join(dir, numberedName(at, n))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free transcript name for %s", FileName(at))
}

// Writer persists transcripts under Dir.
type Writer struct {
	Dir string
	Now func() time.Time
}

// NewWriter creates a Writer that stamps files with the local wall clock.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, Now: time.Now}
}

// Write stores meta and history and returns the file path.
func (w *Writer) Write(meta domain.CharacterMeta, history []domain.TextMessage) (string, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	return Write(w.Dir, meta, history, now())
}

// Write stores meta and history in a new file in dir, named after at, and
// returns the path.
func Write(dir string, meta domain.CharacterMeta, history []domain.TextMessage, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to ensure transcript dir: %w", err)
	}
	if history == nil {
		history = []domain.TextMessage{}
	}

	metaJSON, err := marshalIndent(meta)
	if err != nil {
		return "", fmt.Errorf("encode meta: %w", err)
	}
	historyJSON, err := marshalIndent(history)
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(MetaHeader + "\n")
	buf.Write(metaJSON)
	buf.WriteString("\n" + HistoryHeader + "\n")
	buf.Write(historyJSON)

	f, path, err := create(dir, at)
	if err != nil {
		return "", fmt.Errorf("create transcript: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return "", fmt.Errorf("write transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}

// marshalIndent encodes v with 4-space indentation and leaves non-ASCII text
// readable.
func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Read parses a file produced by Write.
func Read(path string) (domain.CharacterMeta, []domain.TextMessage, error) {
	var meta domain.CharacterMeta
	f, err := os.Open(path)
	if err != nil {
		return meta, nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var metaBuf, historyBuf bytes.Buffer
	var cur *bytes.Buffer
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for s.Scan() {
		switch line := s.Text(); {
		case line == MetaHeader && cur == nil:
			cur = &metaBuf
		case line == HistoryHeader && cur == &metaBuf:
			cur = &historyBuf
		case cur != nil:
			cur.WriteString(line)
			cur.WriteByte('\n')
		}
	}
	if err := s.Err(); err != nil {
		return meta, nil, fmt.Errorf("scan transcript: %w", err)
	}
	if cur != &historyBuf {
		return meta, nil, ErrMalformedTranscript
	}

	if err := json.Unmarshal(metaBuf.Bytes(), &meta); err != nil {
		return meta, nil, fmt.Errorf("%w: meta: %v", ErrMalformedTranscript, err)
	}
	var history []domain.TextMessage
	if err := json.Unmarshal(historyBuf.Bytes(), &history); err != nil {
		return meta, nil, fmt.Errorf("%w: history: %v", ErrMalformedTranscript, err)
	}
	return meta, history, nil
}
