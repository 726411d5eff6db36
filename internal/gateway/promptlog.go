package gateway

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// promptLogger writes every outbound request body (in the upstream
// dialect) and every unary upstream response body to a rolling log,
// a supplemented feature grounded on the teacher's workflow/nodes logging
// helpers (internal/service/workflow/nodes/log.go) generalized from a
// single workflow node's message log into a per-request prompt/response
// trace. Mode "file" appends one tab-separated line (timestamp, kind,
// model, direction, body) per entry to a dated file "<baseName>-<date>.log";
// mode "console" logs via slog instead.
type promptLogger struct {
	mode     string
	baseName string

	mu   sync.Mutex
	file *os.File
	day  string
}

func newPromptLogger(mode, baseName string) *promptLogger {
	return &promptLogger{mode: mode, baseName: baseName}
}

func (l *promptLogger) log(kind, model, direction string, body []byte) {
	switch l.mode {
	case "console":
		slog.Info("prompt log", "kind", kind, "model", model, "direction", direction, "body", string(body))
	case "file":
		l.writeFile(kind, model, direction, body)
	}
}

func (l *promptLogger) writeFile(kind, model, direction string, body []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := time.Now().Format("2006-01-02")
	if l.file == nil || l.day != day {
		if l.file != nil {
			l.file.Close()
		}
		path := fmt.Sprintf("%s-%s.log", l.baseName, day)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			slog.Error("prompt log file open failed", "path", path, "error", err)
			return
		}
		l.file = f
		l.day = day
	}

	line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\n", time.Now().Format(time.RFC3339), kind, model, direction, string(body))
	if _, err := l.file.WriteString(line); err != nil {
		slog.Error("prompt log write failed", "error", err)
	}
}
