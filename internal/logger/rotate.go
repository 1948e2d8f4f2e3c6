package logger

import (
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotateHour is the local hour at which the log file is rotated every day.
const RotateHour = 2

// rotatingFile is the debug log sink. lumberjack rotates on size; run adds
// the daily rotation.
type rotatingFile struct {
	*lumberjack.Logger
	stop chan struct{}
	once sync.Once
}

func newRotatingFile(path string) *rotatingFile {
	return &rotatingFile{
		Logger: &lumberjack.Logger{
			Filename:  path,
			MaxSize:   100, // megabytes
			LocalTime: true,
		},
		stop: make(chan struct{}),
	}
}

func (f *rotatingFile) run() {
	for {
		timer := time.NewTimer(time.Until(nextRotation(time.Now())))
		select {
		case <-f.stop:
			timer.Stop()
			return
		case <-timer.C:
			if err := f.Rotate(); err != nil {
				L.Error("failed to rotate log file", "error", err)
			}
		}
	}
}

// Close stops the daily rotation and closes the current file.
func (f *rotatingFile) Close() error {
	f.once.Do(func() { close(f.stop) })
	return f.Logger.Close()
}

// nextRotation returns the first RotateHour:00 strictly after now.
func nextRotation(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), RotateHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
