// Package notify carries degraded-mode notices from the data access layer to
// UI collaborators. Notices are transient and non-blocking: they are meant
// for an auto-dismissing notification, never a blocking dialog.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind classifies a notice.
type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Notice is one structured degraded-mode signal.
type Notice struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier fans notices out to subscribers and keeps a bounded ring of recent
// notices for pull-based consumers. Publishing never blocks: a subscriber
// that cannot keep up simply misses the notice.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Notice
	nextID int

	recent []Notice
	max    int

	logger *zap.Logger
}

// NewNotifier creates a notifier retaining up to maxRecent notices.
func NewNotifier(maxRecent int, logger *zap.Logger) *Notifier {
	if maxRecent <= 0 {
		maxRecent = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		subs:   make(map[int]chan Notice),
		max:    maxRecent,
		logger: logger.Named("notifier"),
	}
}

// Publish emits a notice to all subscribers without blocking.
func (n *Notifier) Publish(kind Kind, message string) {
	notice := Notice{Kind: kind, Message: message, Time: time.Now()}

	n.mu.Lock()
	n.recent = append(n.recent, notice)
	if len(n.recent) > n.max {
		n.recent = n.recent[len(n.recent)-n.max:]
	}
	subs := make([]chan Notice, 0, len(n.subs))
	for _, ch := range n.subs {
		subs = append(subs, ch)
	}
	n.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- notice:
		default:
			// Slow subscriber; drop rather than block the data path.
		}
	}

	n.logger.Info("notice published",
		zap.String("kind", string(kind)),
		zap.String("message", message),
	)
}

// Subscribe registers a listener. The returned cancel function removes the
// subscription and closes the channel.
func (n *Notifier) Subscribe() (<-chan Notice, func()) {
	ch := make(chan Notice, 8)

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if _, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(ch)
		}
		n.mu.Unlock()
	}
	return ch, cancel
}

// Recent returns a copy of the retained notices, oldest first.
func (n *Notifier) Recent() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Notice, len(n.recent))
	copy(out, n.recent)
	return out
}
