package fabric

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/dancxjo/psyche/internal/fastclock"
)

// dependsPollInterval is how often a blocked pipe checks for its
// dependencies' socket files
const dependsPollInterval = time.Second

// WaitForDependencies blocks, polling os.Stat on each path in deps, until
// every one exists or ctx is canceled. A missing dependency only blocks the
// caller — never the orchestrator as a whole — which is why this is called
// from within each pipe's own goroutine rather than at startup.
func WaitForDependencies(ctx context.Context, deps []string, logger *slog.Logger) error {
	if len(deps) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(fastclock.Interval(dependsPollInterval))
	defer ticker.Stop()

	for {
		if allExist(deps) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			logger.Debug("pipe waiting on dependencies", "deps", deps)
		}
	}
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
