// Package outbox implements spec §4.4's per-peer outbox: an ordered
// list of messages queued while a peer is offline, drained in enqueue
// order once the peer transitions online. Directly grounded on the
// teacher's MessageQueue (internal/chat/queue.go), generalized from a
// server-side offline-delivery queue to the Peer Engine's client-side
// outbox.
package outbox

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wisp-chat/wisp/internal/protocol"
)

// Entry is spec §3's Outbox entry: a send that could not go out
// immediately because the receiver was offline.
type Entry struct {
	ReceiverID  string
	Plaintext   []byte
	Type        protocol.MessageType
	EnqueuedAt  time.Time
}

// Outbox is a per-peer FIFO of Entry, owned by exactly one task per
// spec §5 (mailbox-style access via a guarding mutex).
type Outbox struct {
	mu     sync.Mutex
	queue  map[string][]Entry
	logger zerolog.Logger
}

// New creates an empty Outbox.
func New(logger zerolog.Logger) *Outbox {
	return &Outbox{
		queue:  make(map[string][]Entry),
		logger: logger.With().Str("component", "outbox").Logger(),
	}
}

// Enqueue appends entry to peerID's pending list.
// Complexity: O(1) amortized.
func (o *Outbox) Enqueue(peerID string, entry Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.queue[peerID] = append(o.queue[peerID], entry)
	o.logger.Debug().
		Str("peer_id", peerID).
		Int("queue_size", len(o.queue[peerID])).
		Msg("message queued for offline peer")
}

// Drain removes and returns every pending entry for peerID, in
// enqueue order. Returns nil if nothing is pending.
// Complexity: O(1).
func (o *Outbox) Drain(peerID string) []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := o.queue[peerID]
	if len(entries) == 0 {
		return nil
	}
	delete(o.queue, peerID)

	o.logger.Info().
		Str("peer_id", peerID).
		Int("count", len(entries)).
		Msg("drained outbox")

	return entries
}

// Pending returns the number of entries currently queued for peerID.
func (o *Outbox) Pending(peerID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue[peerID])
}

// ClearPeer drops peerID's outbox entirely, used by spec §4.4's
// clearPeer when the peer's session state is forgotten.
func (o *Outbox) ClearPeer(peerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.queue, peerID)
}
