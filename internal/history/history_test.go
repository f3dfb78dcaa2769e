package history

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/wisp-chat/wisp/internal/protocol"
)

func TestAppend_MaintainsAscendingOrder(t *testing.T) {
	h := New(zerolog.Nop())

	h.Append("peer-1", Message{ID: "m2", Timestamp: "2026-07-29T00:00:02Z", Plaintext: []byte("second")})
	h.Append("peer-1", Message{ID: "m1", Timestamp: "2026-07-29T00:00:01Z", Plaintext: []byte("first")})
	h.Append("peer-1", Message{ID: "m3", Timestamp: "2026-07-29T00:00:03Z", Plaintext: []byte("third")})

	msgs := h.Recent("peer-1")
	assert.Len(t, msgs, 3)
	assert.Equal(t, "first", string(msgs[0].Plaintext))
	assert.Equal(t, "second", string(msgs[1].Plaintext))
	assert.Equal(t, "third", string(msgs[2].Plaintext))
}

func TestAppend_DeduplicatesByID(t *testing.T) {
	h := New(zerolog.Nop())

	h.Append("peer-1", Message{ID: "m1", Timestamp: "2026-07-29T00:00:01Z", Plaintext: []byte("original")})
	h.Append("peer-1", Message{ID: "m1", Timestamp: "2026-07-29T00:00:01Z", Plaintext: []byte("duplicate")})

	msgs := h.Recent("peer-1")
	assert.Len(t, msgs, 1)
	assert.Equal(t, "original", string(msgs[0].Plaintext))
}

func TestRecent_ReturnsSnapshotCopy(t *testing.T) {
	h := New(zerolog.Nop())
	h.Append("peer-1", Message{ID: "m1", Timestamp: "t1", Type: protocol.MessageText})

	snap := h.Recent("peer-1")
	snap[0].Plaintext = []byte("mutated")

	again := h.Recent("peer-1")
	assert.NotEqual(t, []byte("mutated"), again[0].Plaintext)
}

func TestClearPeer(t *testing.T) {
	h := New(zerolog.Nop())
	h.Append("peer-1", Message{ID: "m1", Timestamp: "t1"})
	h.ClearPeer("peer-1")
	assert.Empty(t, h.Recent("peer-1"))

	// re-adding the same id after clear must not be treated as a dup
	h.Append("peer-1", Message{ID: "m1", Timestamp: "t1"})
	assert.Len(t, h.Recent("peer-1"), 1)
}
