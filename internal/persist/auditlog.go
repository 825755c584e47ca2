package persist

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"bubbleboard/internal/metrics"
	"bubbleboard/internal/model"
)

const auditQueueSize = 1024

type logEntry struct {
	target string
	path   string
	line   string
	done   chan struct{}
}

// AuditLog appends human-readable lines to the public and email logs.
// All file writes happen on one background goroutine; callers never block
// on disk and never see write errors.
type AuditLog struct {
	publicPath string
	emailPath  string
	logger     zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan logEntry
	stopped chan struct{}
}

// NewAuditLog starts the background writer.
func NewAuditLog(publicPath, emailPath string, logger zerolog.Logger) *AuditLog {
	a := &AuditLog{
		publicPath: publicPath,
		emailPath:  emailPath,
		logger:     logger.With().Str("component", "auditlog").Logger(),
		queue:      make(chan logEntry, auditQueueSize),
		stopped:    make(chan struct{}),
	}
	go a.run()
	return a
}

// PublicPath returns the public log location.
func (a *AuditLog) PublicPath() string { return a.publicPath }

// EmailPath returns the email log location.
func (a *AuditLog) EmailPath() string { return a.emailPath }

// AppendPublic queues line for the public log.
func (a *AuditLog) AppendPublic(line string) {
	a.enqueue(logEntry{target: "public_log", path: a.publicPath, line: line})
}

// AppendEmail queues line for the email-only log.
func (a *AuditLog) AppendEmail(line string) {
	a.enqueue(logEntry{target: "email_log", path: a.emailPath, line: line})
}

func (a *AuditLog) enqueue(e logEntry) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warn().Str("target", e.target).Msg("audit log closed, line dropped")
		return
	}

	select {
	case a.queue <- e:
	default:
		metrics.PersistenceFailures.WithLabelValues(e.target).Inc()
		a.logger.Warn().Str("target", e.target).Msg("audit queue full, line dropped")
	}
}

// Flush waits until every line queued before the call has been written.
func (a *AuditLog) Flush() {
	done := make(chan struct{})

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return
	}
	a.queue <- logEntry{done: done}
	a.mu.RUnlock()

	<-done
}

// Close drains the queue and stops the writer.
func (a *AuditLog) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.stopped
}

func (a *AuditLog) run() {
	defer close(a.stopped)
	for e := range a.queue {
		if e.done != nil {
			close(e.done)
			continue
		}
		if err := appendLine(e.path, e.line); err != nil {
			metrics.PersistenceFailures.WithLabelValues(e.target).Inc()
			a.logger.Error().Err(err).Str("target", e.target).Str("path", e.path).Msg("failed to append log line")
		}
	}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("write log: %w", err)
	}
	return f.Close()
}

// PublicLine formats m for the public log.
func PublicLine(m model.Message) string {
	var b strings.Builder
	b.WriteString(EmailLine(m))
	if m.IP != nil {
		b.WriteString(" | IP: ")
		b.WriteString(*m.IP)
	}
	return b.String()
}

// EmailLine formats m for the email log. IP is omitted.
func EmailLine(m model.Message) string {
	line := "[" + model.FormatTime(m.Time) + "] " + m.Text
	if m.Email != nil {
		line += " | Email: " + *m.Email
	}
	return line
}

// ReadTail returns the content of path, limited to the last maxBytes bytes
// and starting on a line boundary. A missing file reads as empty.
func ReadTail(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	if size <= maxBytes {
		return io.ReadAll(f)
	}

	// read one extra byte to know whether the window already starts a line
	offset := size - maxBytes - 1
	buf := make([]byte, maxBytes+1)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if buf[0] == '\n' {
		return buf[1:], nil
	}
	i := bytes.IndexByte(buf[1:], '\n')
	if i < 0 {
		return []byte{}, nil
	}
	return buf[1+i+1:], nil
}
