package relay

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HydraXdev/HydraX-v2-sub002/protocol"
)

// PendingTrade is a submitted signal awaiting its trade_result.
type PendingTrade struct {
	Command     protocol.Command
	SubmittedAt time.Time
}

// pendingRegistry correlates outstanding signal ids to their submission
// metadata. The dispatcher inserts from caller goroutines and the listener
// removes or expires from its own goroutine, so every access takes the lock.
type pendingRegistry struct {
	mu      sync.Mutex
	entries map[string]PendingTrade
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{entries: make(map[string]PendingTrade)}
}

// insert registers a signal before its command is written to the channel.
// A duplicate id is rejected; at most one pending entry exists per signal.
func (p *pendingRegistry) insert(signalID string, cmd protocol.Command, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[signalID]; ok {
		return fmt.Errorf("signal %s already pending", signalID)
	}
	p.entries[signalID] = PendingTrade{Command: cmd, SubmittedAt: at}
	return nil
}

// take removes and returns the entry for signalID, if present. Each entry
// is removed exactly once: by a matching trade_result, by an agent error
// carrying the signal id, or by TTL expiry.
func (p *pendingRegistry) take(signalID string) (PendingTrade, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[signalID]
	if ok {
		delete(p.entries, signalID)
	}
	return entry, ok
}

type expiredTrade struct {
	SignalID string
	PendingTrade
}

// expire removes every entry submitted before deadline and returns them,
// oldest first.
func (p *pendingRegistry) expire(deadline time.Time) []expiredTrade {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []expiredTrade
	for id, entry := range p.entries {
		if entry.SubmittedAt.Before(deadline) {
			out = append(out, expiredTrade{SignalID: id, PendingTrade: entry})
			delete(p.entries, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// contains reports whether signalID is still outstanding.
func (p *pendingRegistry) contains(signalID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[signalID]
	return ok
}

func (p *pendingRegistry) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// signalIDs returns the outstanding ids, sorted for stable inspection.
func (p *pendingRegistry) signalIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
