// Package directory implements spec §4.3's Peer Directory: an
// in-memory cache of peer public keys and online flags, primed by the
// hub's user-list frames. It never talks to the transport directly —
// ensureKeysFor asks an injected Requester interface, keeping
// directory below Connection Manager in the dependency graph spec §2
// describes (Peer Directory / Outbox ← Hub Client Protocol ←
// Connection Manager).
package directory

import (
	"context"
	"sync"
	"time"
)

// PeerRecord is spec §3's PeerRecord entity.
type PeerRecord struct {
	UserID           string
	Nickname         string
	SigningPubKey    []byte
	AgreementPubKey  []byte
	Online           bool
	LastSeen         time.Time
}

// HasKeys reports whether both public keys are present.
func (p PeerRecord) HasKeys() bool {
	return len(p.SigningPubKey) == 32 && len(p.AgreementPubKey) == 32
}

// UserListEntry is the minimal shape mergeUserList consumes from a
// users_list frame.
type UserListEntry struct {
	UserID          string
	Nickname        string
	SigningPubKey   []byte
	AgreementPubKey []byte
	Online          bool
	LastSeen        time.Time
}

// StatusEvent is emitted whenever a peer's online flag changes.
type StatusEvent struct {
	UserID string
	Online bool
}

// Requester lets ensureKeysFor ask the Connection Manager for a fresh
// directory without importing it. A single round of get_users /
// users_list is expected; implementations should honor the caller's
// context deadline (spec §4.5's request() timeout).
type Requester interface {
	RequestUsersList(ctx context.Context) ([]UserListEntry, error)
}

// Directory holds the peer table and emits status events on change.
type Directory struct {
	mu        sync.Mutex
	peers     map[string]*PeerRecord
	online    map[string]struct{}
	events    chan StatusEvent
	requester Requester
}

// New creates an empty Directory. events may be nil if the caller does
// not need status notifications.
func New(requester Requester, events chan StatusEvent) *Directory {
	return &Directory{
		peers:     make(map[string]*PeerRecord),
		online:    make(map[string]struct{}),
		events:    events,
		requester: requester,
	}
}

// MergeUserList replaces the online set entirely from the frame (the
// list is authoritative), upserts keys, and emits one status event per
// changed flag.
func (d *Directory) MergeUserList(list []UserListEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	newOnline := make(map[string]struct{}, len(list))
	for _, entry := range list {
		if entry.Online {
			newOnline[entry.UserID] = struct{}{}
		}

		rec, existed := d.peers[entry.UserID]
		wasOnline := existed && rec.Online
		if !existed {
			rec = &PeerRecord{UserID: entry.UserID}
			d.peers[entry.UserID] = rec
		}
		rec.Nickname = entry.Nickname
		if len(entry.SigningPubKey) == 32 {
			rec.SigningPubKey = entry.SigningPubKey
		}
		if len(entry.AgreementPubKey) == 32 {
			rec.AgreementPubKey = entry.AgreementPubKey
		}
		rec.Online = entry.Online
		rec.LastSeen = entry.LastSeen

		if wasOnline != entry.Online {
			d.emit(StatusEvent{UserID: entry.UserID, Online: entry.Online})
		}
	}

	// Anything previously online but absent from the authoritative
	// list transitions offline.
	for userID := range d.online {
		if _, stillOnline := newOnline[userID]; !stillOnline {
			if rec, ok := d.peers[userID]; ok && rec.Online {
				rec.Online = false
				d.emit(StatusEvent{UserID: userID, Online: false})
			}
		}
	}

	d.online = newOnline
}

// MergeStatus updates a single entry's online flag and emits one
// status event if it changed.
func (d *Directory) MergeStatus(userID string, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.peers[userID]
	if !ok {
		rec = &PeerRecord{UserID: userID}
		d.peers[userID] = rec
	}

	changed := rec.Online != online
	rec.Online = online
	if online {
		d.online[userID] = struct{}{}
	} else {
		delete(d.online, userID)
	}

	if changed {
		d.emit(StatusEvent{UserID: userID, Online: online})
	}
}

// Get returns a copy of the cached record for userID.
func (d *Directory) Get(userID string) (PeerRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.peers[userID]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// IsOnline reports whether userID is currently marked online.
func (d *Directory) IsOnline(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.online[userID]
	return ok
}

// EnsureKeysFor returns cached keys for userID if present, else issues
// a get_users round-trip through the Requester and blocks until it
// resolves (bounded by ctx). Returns true only when both keys are
// present afterwards.
func (d *Directory) EnsureKeysFor(ctx context.Context, userID string) (bool, error) {
	if rec, ok := d.Get(userID); ok && rec.HasKeys() {
		return true, nil
	}

	if d.requester == nil {
		return false, nil
	}

	list, err := d.requester.RequestUsersList(ctx)
	if err != nil {
		return false, err
	}
	d.MergeUserList(list)

	rec, ok := d.Get(userID)
	return ok && rec.HasKeys(), nil
}

// ClearPeer forgets userID's whole record (keys included) and its online
// flag. History and outbox are not touched here; they are cleared through
// their own packages.
func (d *Directory) ClearPeer(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, userID)
	delete(d.online, userID)
}

// emit must be called with d.mu held.
func (d *Directory) emit(ev StatusEvent) {
	if d.events == nil {
		return
	}
	select {
	case d.events <- ev:
	default:
	}
}
