// Package history implements spec §4.4's per-peer History: an
// ascending-timestamp-ordered, id-deduplicated list of messages
// exchanged with one peer. Same ownership/locking shape as
// internal/outbox (grounded on the teacher's MessageQueue), but
// insert-sorted rather than FIFO, per spec §9's Open Question
// resolution: "sorted-by-timestamp with dedup by id".
package history

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wisp-chat/wisp/internal/protocol"
)

// Message is spec §3's Message entity, held client-side after the
// decrypt pipeline has run (or been skipped for a plaintext fallback).
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Plaintext  []byte
	Timestamp  string
	Type       protocol.MessageType
	Status     protocol.MessageStatus
	Encrypted  bool
}

// History holds one ascending-timestamp list of Message per peer.
type History struct {
	mu      sync.Mutex
	byPeer  map[string][]Message
	seenIDs map[string]map[string]struct{}
	logger  zerolog.Logger
}

// New creates an empty History.
func New(logger zerolog.Logger) *History {
	return &History{
		byPeer:  make(map[string][]Message),
		seenIDs: make(map[string]map[string]struct{}),
		logger:  logger.With().Str("component", "history").Logger(),
	}
}

// Append inserts msg into peerID's history, maintaining ascending-
// timestamp order and deduplicating by message id. Appending a
// duplicate id is a no-op.
// Complexity: O(n) for the insertion scan.
func (h *History) Append(peerID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.seenIDs[peerID] == nil {
		h.seenIDs[peerID] = make(map[string]struct{})
	}
	if _, dup := h.seenIDs[peerID][msg.ID]; dup {
		return
	}
	h.seenIDs[peerID][msg.ID] = struct{}{}

	list := h.byPeer[peerID]
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].Timestamp > msg.Timestamp
	})
	list = append(list, Message{})
	copy(list[idx+1:], list[idx:])
	list[idx] = msg
	h.byPeer[peerID] = list
}

// Recent returns a snapshot copy of peerID's history, oldest first.
func (h *History) Recent(peerID string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	src := h.byPeer[peerID]
	out := make([]Message, len(src))
	copy(out, src)
	return out
}

// ClearPeer drops all history for peerID, used on clearPeer per spec
// §3's lifecycle rules.
func (h *History) ClearPeer(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byPeer, peerID)
	delete(h.seenIDs, peerID)
}
