// Package fallback implements the local durable sink for writes that cannot
// reach the remote service. Queued writes carry a generated protocol number
// and exist for manual or future reconciliation; no read-back sync protocol
// is provided.
package fallback

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrega363/kiro2/internal/remote"
)

// QueuedWrite is one write waiting for reconciliation.
type QueuedWrite struct {
	Protocol string        `json:"protocol"`
	Resource string        `json:"resource"`
	Record   remote.Record `json:"record"`
	QueuedAt time.Time     `json:"queuedAt"`
}

// Store is a best-effort append-only file store. Each queued write is one
// JSON line; the file survives process restarts.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewStore creates a store writing to path, creating parent directories as
// needed.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, fmt.Errorf("fallback store path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create fallback directory: %w", err)
	}
	return &Store{path: path, logger: logger.Named("fallback_store")}, nil
}

// Enqueue appends a write to the store.
func (s *Store) Enqueue(w QueuedWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.QueuedAt.IsZero() {
		w.QueuedAt = time.Now()
	}

	line, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal queued write: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open fallback store: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to fallback store: %w", err)
	}

	s.logger.Info("write queued for reconciliation",
		zap.String("protocol", w.Protocol),
		zap.String("resource", w.Resource),
	)
	return nil
}

// List returns all queued writes, oldest first. Unreadable lines are skipped;
// the store is best effort.
func (s *Store) List() ([]QueuedWrite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open fallback store: %w", err)
	}
	defer f.Close()

	var writes []QueuedWrite
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var w QueuedWrite
		if err := json.Unmarshal(scanner.Bytes(), &w); err != nil {
			s.logger.Warn("skipping unreadable queued write", zap.Error(err))
			continue
		}
		writes = append(writes, w)
	}
	if err := scanner.Err(); err != nil {
		return writes, fmt.Errorf("read fallback store: %w", err)
	}
	return writes, nil
}
