package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequester struct {
	list []UserListEntry
	err  error
	hits int
}

func (f *fakeRequester) RequestUsersList(ctx context.Context) ([]UserListEntry, error) {
	f.hits++
	return f.list, f.err
}

func TestMergeUserList_ReplacesOnlineSetAndEmitsEvents(t *testing.T) {
	events := make(chan StatusEvent, 8)
	d := New(nil, events)

	d.MergeUserList([]UserListEntry{
		{UserID: "UA", Online: true, SigningPubKey: make([]byte, 32), AgreementPubKey: make([]byte, 32)},
		{UserID: "UB", Online: false},
	})

	assert.True(t, d.IsOnline("UA"))
	assert.False(t, d.IsOnline("UB"))

	ev := <-events
	assert.Equal(t, "UA", ev.UserID)
	assert.True(t, ev.Online)

	// UA drops out of the next authoritative list -> goes offline
	d.MergeUserList([]UserListEntry{
		{UserID: "UB", Online: true},
	})
	assert.False(t, d.IsOnline("UA"))
	assert.True(t, d.IsOnline("UB"))
}

func TestMergeStatus_UpdatesSingleEntry(t *testing.T) {
	events := make(chan StatusEvent, 4)
	d := New(nil, events)

	d.MergeStatus("UA", true)
	assert.True(t, d.IsOnline("UA"))
	ev := <-events
	assert.Equal(t, StatusEvent{UserID: "UA", Online: true}, ev)

	// No change -> no event.
	d.MergeStatus("UA", true)
	select {
	case <-events:
		t.Fatal("expected no event for unchanged status")
	default:
	}
}

func TestEnsureKeysFor_UsesCacheFirst(t *testing.T) {
	d := New(nil, nil)
	d.MergeUserList([]UserListEntry{
		{UserID: "UA", SigningPubKey: make([]byte, 32), AgreementPubKey: make([]byte, 32)},
	})

	ok, err := d.EnsureKeysFor(context.Background(), "UA")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureKeysFor_RefreshesViaRequester(t *testing.T) {
	req := &fakeRequester{list: []UserListEntry{
		{UserID: "UB", SigningPubKey: make([]byte, 32), AgreementPubKey: make([]byte, 32)},
	}}
	d := New(req, nil)

	ok, err := d.EnsureKeysFor(context.Background(), "UB")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, req.hits)
}

func TestEnsureKeysFor_MissingAfterRefresh(t *testing.T) {
	req := &fakeRequester{list: nil}
	d := New(req, nil)

	ok, err := d.EnsureKeysFor(context.Background(), "UNKNOWN")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvariant_OnlineMembershipMatchesRecord(t *testing.T) {
	d := New(nil, nil)
	d.MergeStatus("UA", true)

	rec, ok := d.Get("UA")
	require.True(t, ok)
	assert.Equal(t, d.IsOnline("UA"), rec.Online)
}
