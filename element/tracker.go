package element

import (
	"fmt"
	"log/slog"
	"sync"
)

// Tracker hands out delegates and accounts for their release. It is safe
// for concurrent use; a single tracker may serve several evaluations.
type Tracker struct {
	mu       sync.Mutex
	logger   *slog.Logger
	acquired int
	released int
	doubles  int
	live     map[*Delegate]struct{}
}

// NewTracker creates a tracker. If logger is nil, slog.Default() is used.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger: logger,
		live:   make(map[*Delegate]struct{}),
	}
}

// Root returns a delegate for the root of a snapshot. The caller owns it.
func (t *Tracker) Root(n *Node) *Delegate {
	return t.acquire(n, 0, 0)
}

func (t *Tracker) acquire(n *Node, depth, index int) *Delegate {
	d := &Delegate{node: n, depth: depth, index: index, tracker: t}
	t.mu.Lock()
	t.acquired++
	t.live[d] = struct{}{}
	t.mu.Unlock()
	return d
}

func (t *Tracker) release(d *Delegate) {
	t.mu.Lock()
	t.released++
	delete(t.live, d)
	t.mu.Unlock()
}

func (t *Tracker) doubleRelease(d *Delegate) {
	t.mu.Lock()
	t.doubles++
	t.mu.Unlock()
	t.logger.Error("element delegate released twice", "element_id", d.node.ID)
}

// Stats is a snapshot of tracker counters.
type Stats struct {
	Acquired       int `json:"acquired"`
	Released       int `json:"released"`
	Outstanding    int `json:"outstanding"`
	DoubleReleases int `json:"double_releases"`
}

// Stats returns the current counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Acquired:       t.acquired,
		Released:       t.released,
		Outstanding:    len(t.live),
		DoubleReleases: t.doubles,
	}
}

// Check returns an error if any delegate is unreleased or was released
// more than once.
func (t *Tracker) Check() error {
	s := t.Stats()
	if s.Outstanding == 0 && s.DoubleReleases == 0 {
		return nil
	}
	return fmt.Errorf("element: %d delegates outstanding, %d double releases", s.Outstanding, s.DoubleReleases)
}
