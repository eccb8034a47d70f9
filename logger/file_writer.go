package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const dateLayout = "2006-01-02"

var errWriterClosed = errors.New("log writer is closed")

// DailyFileWriter is an io.Writer appending to {service}_{date}.log in a
// directory, switching files on the first write of a new day. A background
// goroutine checks hourly so idle servers also roll over. Safe for concurrent use.
type DailyFileWriter struct {
	service string
	dir     string
	now     func() time.Time

	mu       sync.Mutex
	file     *os.File
	currDate string

	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// NewDailyFileWriter opens today's log file in logDir and starts the hourly
// rotation check. The directory must already exist.
//
// Parameters:
//   - service: Service name used in log file names
//   - logDir: Directory path for log files
//
// Returns:
//   - The new DailyFileWriter, or an error if the initial file could not be opened
func NewDailyFileWriter(service string, logDir string) (*DailyFileWriter, error) {
	w := &DailyFileWriter{
		service: service,
		dir:     logDir,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := w.rotate(true); err != nil {
		return nil, fmt.Errorf("initial rotation failed: %w", err)
	}

	go w.autoRotate()
	return w, nil
}

// Write implements io.Writer.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, errWriterClosed
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || w.now().Format(dateLayout) != w.currDate {
		if err := w.rotateLocked(false); err != nil {
			return 0, fmt.Errorf("rotation failed: %w", err)
		}
	}

	return w.file.Write(p)
}

// ForceRotate reopens the log file for the current date, e.g. after an
// external tool moved it away (SIGHUP).
func (w *DailyFileWriter) ForceRotate() error {
	return w.rotate(true)
}

// CurrentLogFile returns the path of the file currently written to, or "".
func (w *DailyFileWriter) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}

	return w.path(w.currDate)
}

// Close stops the rotation goroutine and closes the current file. Subsequent
// writes fail. It is safe to call multiple times.
func (w *DailyFileWriter) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	close(w.stop)
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

func (w *DailyFileWriter) autoRotate() {
	defer close(w.done)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			_ = w.rotate(false)
		}
	}
}

func (w *DailyFileWriter) rotate(force bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked(force)
}

// rotateLocked switches to the file for the current date; caller holds w.mu.
func (w *DailyFileWriter) rotateLocked(force bool) error {
	if w.closed.Load() {
		return errWriterClosed
	}

	date := w.now().Format(dateLayout)
	if !force && w.file != nil && date == w.currDate {
		return nil
	}

	file, err := os.OpenFile(w.path(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", w.path(date), err)
	}

	if w.file != nil {
		_ = w.file.Close()
	}

	w.file = file
	w.currDate = date
	return nil
}

func (w *DailyFileWriter) path(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, date))
}
