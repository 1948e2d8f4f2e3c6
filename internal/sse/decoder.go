// Package sse decodes the event stream returned by the character chat
// endpoint into text fragments.
//
// Only two fields matter: "event" lines set the current event type and "data"
// lines carry text. Data is emitted only while the current event is "add";
// other events (finish, error, interrupted) silence the stream until the next
// "add".
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/comigor/persona-dialogue/internal/logger"
)

const (
	FieldEvent = "event"
	FieldData  = "data"
	EventAdd   = "add"
)

var (
	// ErrMalformedStreamLine is returned for a non-blank line without a ':' separator.
	ErrMalformedStreamLine = errors.New("malformed stream line")
	// ErrStreamConsumed is returned when a one-shot stream is iterated twice.
	ErrStreamConsumed = errors.New("stream already consumed")
)

const maxLineSize = 10 * 1024 * 1024

// Decode returns the text fragments carried by r. The sequence stops at EOF or
// at the first error, which is yielded as the final element.
func Decode(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s := bufio.NewScanner(r)
		s.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		var lastEvent string
		lineNo := 0
		for s.Scan() {
			lineNo++
			line := s.Bytes()
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			field, value, ok := bytes.Cut(line, []byte{':'})
			if !ok {
				yield("", fmt.Errorf("%w: line %d: %q", ErrMalformedStreamLine, lineNo, truncate(line)))
				return
			}
			switch string(field) {
			case FieldEvent:
				if ev := string(value); ev != lastEvent && ev != EventAdd {
					logger.L.Debug("stream event halts text output", "event", ev, "line", lineNo)
				}
				lastEvent = string(value)
			case FieldData:
				if lastEvent == EventAdd && !yield(string(value), nil) {
					return
				}
			}
		}
		if err := s.Err(); err != nil {
			yield("", fmt.Errorf("read stream: %w", err))
		}
	}
}

// Once wraps seq so that only its first iteration produces values; later
// iterations yield ErrStreamConsumed.
func Once(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	used := false
	return func(yield func(string, error) bool) {
		if used {
			yield("", ErrStreamConsumed)
			return
		}
		used = true
		seq(yield)
	}
}

// Collect drains seq and joins its fragments.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var sb strings.Builder
	for frag, err := range seq {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(frag)
	}
	return sb.String(), nil
}

func truncate(line []byte) []byte {
	if len(line) > 80 {
		return line[:80]
	}
	return line
}
