package llm

import (
	"fmt"
	"os"
	"sync"
	"time"

	"loopcast/internal/logger"
)

// auditLog appends stripped reasoning prefixes to a local file. Best-effort:
// audit failures never fail a generation call.
type auditLog struct {
	mu   sync.Mutex
	path string
}

func newAuditLog(path string) *auditLog {
	return &auditLog{path: path}
}

func (a *auditLog) write(reasoning string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn("audit log open failed", "error", err.Error())
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "--- %s ---\n%s\n\n", time.Now().Format(time.RFC3339), reasoning)
}
