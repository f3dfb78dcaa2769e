// Package hub implements spec §4.7's Session Hub: the authenticated
// routing server peers connect to over one framed WebSocket each. It
// tracks the user directory, verifies signatures, relays ciphertext
// and call-signaling frames, and owns no message content at rest —
// ephemeral mode never persists a Message for offline delivery.
//
// Grounded on the teacher's internal/network/signaling/server.go: one
// goroutine per connection reading frames into a switch, a mutex-
// guarded registry, and a buffered per-peer send channel drained by a
// write pump — generalized from a per-channel P2P room to a single
// flat user directory with call-signaling state.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wisp-chat/wisp/internal/cryptoengine"
	"github.com/wisp-chat/wisp/internal/identity"
	"github.com/wisp-chat/wisp/internal/observability"
	"github.com/wisp-chat/wisp/internal/protocol"
)

// connState is spec §4.7's per-connection state machine.
type connState string

const (
	stateNew           connState = "new"
	stateRegistered    connState = "registered"
	stateAuthenticated connState = "authenticated"
	stateClosed        connState = "closed"
)

const sendBuffer = 128

// HubUser is spec §3's HubUser entity: the server's record of one
// registered identity.
type HubUser struct {
	ID              string
	SigningPubKey   []byte
	AgreementPubKey []byte
	Nickname        string
	Online          bool
	LastSeen        time.Time
}

// CallStatus enumerates spec §4.7's call record states.
type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallConnected CallStatus = "connected"
	CallEnded     CallStatus = "ended"
)

// Call is spec §3's Call entity, keyed by call_id.
type Call struct {
	ID          string
	InitiatorID string
	CalleeID    string
	Status      CallStatus
	CreatedAt   time.Time
	EndedAt     time.Time
}

// PresencePublisher lets multiple hub processes behind a load balancer
// rebroadcast presence to peers attached to a different process. Left
// unset (nil), the hub runs single-process with no fan-out — the
// default, matching the Non-goal of no federation.
type PresencePublisher interface {
	PublishStatus(ctx context.Context, userID string, online bool) error
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger

	mu    sync.Mutex
	state connState
	user  *HubUser

	closeOnce sync.Once
}

func (c *client) enqueue(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("hub: client send buffer full")
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Config tunes hub behavior (spec §4.7's call-purge delay and §4.6's
// auth freshness window, both sourced from internal/config at
// construction).
type Config struct {
	AuthFreshnessWindow time.Duration
	CallPurgeDelay      time.Duration
}

// DefaultConfig matches spec's stated defaults: 5-minute auth
// freshness, 60-second call purge.
func DefaultConfig() Config {
	return Config{
		AuthFreshnessWindow: 5 * time.Minute,
		CallPurgeDelay:      60 * time.Second,
	}
}

// Hub is the Session Hub's full in-memory state.
type Hub struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	presence PresencePublisher

	upgrader websocket.Upgrader

	bootstrap *BootstrapManager

	mu           sync.RWMutex
	users        map[string]*HubUser
	socketByUser map[string]*client
	calls        map[string]*Call
}

// New creates an empty Hub. metrics may be nil (metrics become no-ops
// are simply skipped); presence may be nil (single-process mode).
func New(cfg Config, metrics *observability.Metrics, presence PresencePublisher, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger.With().Str("component", "hub").Logger(),
		metrics:  metrics,
		presence: presence,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		users:        make(map[string]*HubUser),
		socketByUser: make(map[string]*client),
		calls:        make(map[string]*Call),
	}
}

// SetBootstrap attaches a bootstrap-token manager, enabling the
// device-pairing endpoint served alongside the WebSocket upgrade. Leaving
// it unset keeps bootstrap pairing disabled.
func (h *Hub) SetBootstrap(mgr *BootstrapManager) {
	h.bootstrap = mgr
}

// IssueBootstrapToken mints a fresh device-pairing token. It returns an
// error if no BootstrapManager has been attached via SetBootstrap.
func (h *Hub) IssueBootstrapToken() (string, time.Time, error) {
	if h.bootstrap == nil {
		return "", time.Time{}, fmt.Errorf("hub: bootstrap pairing is not enabled")
	}
	return h.bootstrap.IssueToken()
}

// Handler returns the HTTP handler that upgrades to the framed
// WebSocket transport and drives one connection's lifecycle.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error().Err(err).Msg("websocket upgrade failed")
			h.countConn("rejected")
			return
		}
		h.countConn("accepted")
		h.handleConnection(conn)
	}
}

func (h *Hub) countConn(outcome string) {
	if h.metrics != nil {
		h.metrics.ConnectionsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Hub) handleConnection(conn *websocket.Conn) {
	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: h.logger,
		state:  stateNew,
	}

	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
		defer h.metrics.ActiveConnections.Dec()
	}

	go c.writePump()
	defer c.close()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.onDisconnect(c)
			return
		}

		typ, err := protocol.PeekType(data)
		if err != nil {
			h.logger.Warn().Err(err).Msg("dropped malformed frame")
			h.countDropped("malformed")
			continue
		}
		if h.metrics != nil {
			h.metrics.FramesReceived.WithLabelValues(string(typ)).Inc()
		}

		c.mu.Lock()
		state := c.state
		c.mu.Unlock()

		if state != stateAuthenticated && typ != protocol.TypeRegister && typ != protocol.TypeAuth && typ != protocol.TypePing {
			h.sendError(c, "must authenticate before sending this frame type")
			continue
		}

		h.route(c, typ, data)
	}
}

func (c *client) writePump() {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (h *Hub) countDropped(reason string) {
	if h.metrics != nil {
		h.metrics.FramesDropped.WithLabelValues(reason).Inc()
	}
}

func (h *Hub) route(c *client, typ protocol.FrameType, data []byte) {
	switch typ {
	case protocol.TypePing:
		_ = c.enqueue(protocol.PongFrame{Type: protocol.TypePong})

	case protocol.TypeRegister:
		h.handleRegister(c, data)
	case protocol.TypeAuth:
		h.handleAuth(c, data)
	case protocol.TypeSendMessage:
		h.handleSendMessage(c, data)
	case protocol.TypeGetHistory:
		h.handleGetHistory(c, data)
	case protocol.TypeMarkRead:
		h.handleMarkRead(c, data)
	case protocol.TypeGetUsers:
		h.handleGetUsers(c)
	case protocol.TypeAddToChat:
		h.handleAddToChat(c, data)
	case protocol.TypeCallInitiate:
		h.handleCallInitiate(c, data)
	case protocol.TypeCallAccept:
		h.handleCallAccept(c, data)
	case protocol.TypeCallCandidate:
		h.handleCallCandidate(c, data)
	case protocol.TypeCallEnd:
		h.handleCallEnd(c, data)
	case protocol.TypeCallRestart:
		h.handleCallRestart(c, data)
	case protocol.TypeCallRestartAnswer:
		h.handleCallRestartAnswer(c, data)

	default:
		h.logger.Debug().Str("type", string(typ)).Msg("ignoring unknown frame type")
		h.countDropped("unknown_type")
	}
}

// --- register / auth ---

func (h *Hub) handleRegister(c *client, data []byte) {
	var f protocol.RegisterFrame
	if err := protocol.Decode(data, &f); err != nil || len(f.PublicSigningKey) != 32 || len(f.PublicEncryptionKey) != 32 {
		h.sendError(c, "invalid register payload")
		return
	}

	id := identity.DeriveUserID(f.PublicSigningKey)

	h.mu.Lock()
	user, existed := h.users[id]
	if existed {
		// Duplicate registration: only accept if the signing key matches
		// what is already on file — otherwise this is someone else's id
		// collision space and must be rejected.
		if string(user.SigningPubKey) != string(f.PublicSigningKey) {
			h.mu.Unlock()
			h.sendError(c, "registration key mismatch")
			return
		}
		user.AgreementPubKey = f.PublicEncryptionKey
		if f.Nickname != "" {
			user.Nickname = f.Nickname
		}
	} else {
		user = &HubUser{
			ID:              id,
			SigningPubKey:   f.PublicSigningKey,
			AgreementPubKey: f.PublicEncryptionKey,
			Nickname:        f.Nickname,
		}
		h.users[id] = user
	}
	h.mu.Unlock()

	c.mu.Lock()
	c.user = user
	c.state = stateRegistered
	c.mu.Unlock()

	_ = c.enqueue(protocol.RegisterSuccessFrame{
		Type:   protocol.TypeRegisterSuccess,
		UserID: id,
		User: protocol.HubUserView{
			ID: id, SigningPubKey: user.SigningPubKey, AgreementPubKey: user.AgreementPubKey,
			Nickname: user.Nickname,
		},
	})

	(&observability.LogEvent{Logger: h.logger, Action: "register", Entity: "peer", ID: id}).Success("peer registered")
}

func (h *Hub) handleAuth(c *client, data []byte) {
	var f protocol.AuthFrame
	if err := protocol.Decode(data, &f); err != nil {
		h.countAuth("malformed")
		h.sendError(c, "invalid auth payload")
		return
	}

	h.mu.RLock()
	user, ok := h.users[f.UserID]
	h.mu.RUnlock()
	if !ok {
		h.countAuth("unknown_user")
		h.sendError(c, "unknown user")
		return
	}

	ts, err := time.Parse(time.RFC3339, f.Timestamp)
	if err != nil {
		h.countAuth("stale_timestamp")
		h.sendError(c, "invalid timestamp")
		return
	}
	// spec §8: now − timestamp must fall in [0, freshness window] — both
	// future-dated and stale timestamps are rejected.
	if d := time.Since(ts); d < 0 || d > h.cfg.AuthFreshnessWindow {
		h.countAuth("stale_timestamp")
		h.sendError(c, "timestamp outside freshness window")
		return
	}

	valid, err := cryptoengine.Verify([]byte(f.Timestamp), f.Signature, user.SigningPubKey)
	if err != nil || !valid {
		h.countAuth("bad_signature")
		h.sendError(c, "signature verification failed")
		return
	}

	h.mu.Lock()
	user.Online = true
	user.LastSeen = time.Now().UTC()
	h.socketByUser[f.UserID] = c
	h.mu.Unlock()

	peerLogger := observability.NewLoggerMiddleware(h.logger).WithPeerID(f.UserID)

	c.mu.Lock()
	c.user = user
	c.state = stateAuthenticated
	c.logger = peerLogger
	c.mu.Unlock()

	h.countAuth("success")
	if h.metrics != nil {
		h.metrics.AuthSuccesses.Inc()
		h.metrics.OnlineUsers.Set(float64(h.onlineCountSnapshot()))
	}

	h.broadcastStatus(f.UserID, true, c)
	_ = c.enqueue(protocol.AuthSuccessFrame{Type: protocol.TypeAuthSuccess, UserID: f.UserID, Success: true})

	(&observability.LogEvent{Logger: peerLogger, Action: "authenticate", Entity: "peer", ID: f.UserID}).Success("peer authenticated")
}

func (h *Hub) countAuth(result string) {
	if h.metrics == nil {
		return
	}
	h.metrics.AuthAttempts.WithLabelValues(result).Inc()
	if result != "success" {
		h.metrics.AuthFailures.WithLabelValues(result).Inc()
	}
}

// onlineCountLocked assumes h.mu is already held (read or write).
func (h *Hub) onlineCountLocked() int {
	n := 0
	for _, u := range h.users {
		if u.Online {
			n++
		}
	}
	return n
}

// onlineCountSnapshot acquires its own read lock.
func (h *Hub) onlineCountSnapshot() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineCountLocked()
}

// --- messaging ---

func (h *Hub) handleSendMessage(c *client, data []byte) {
	var f protocol.SendMessageFrame
	if err := protocol.Decode(data, &f); err != nil {
		h.sendError(c, "invalid send_message payload")
		return
	}

	sender := c.userID()
	msg := protocol.WireMessage{
		ID:               uuid.NewString(),
		SenderID:         sender,
		ReceiverID:       f.ReceiverID,
		EncryptedContent: f.EncryptedContent,
		MessageType:      f.MessageType,
		Signature:        f.Signature,
		Timestamp:        time.Now().UTC().Format(time.RFC3339Nano),
	}

	delivery := "queued"
	if target, online := h.clientFor(f.ReceiverID); online {
		_ = target.enqueue(protocol.NewMessageFrame{Type: protocol.TypeNewMessage, Message: msg})
		delivery = "immediate"
	}
	// Ephemeral policy: no persistence for offline delivery. The sender
	// still gets an acknowledgement either way, so its local echo state
	// is consistent.
	if h.metrics != nil {
		h.metrics.MessagesRelayed.WithLabelValues(delivery).Inc()
	}

	_ = c.enqueue(protocol.MessageSentFrame{Type: protocol.TypeMessageSent, Message: msg})

	convLogger := observability.NewLoggerMiddleware(h.logger).WithConversationID(conversationID(sender, f.ReceiverID))
	convLogger.Debug().Str("delivery", delivery).Str("message_id", msg.ID).Msg("relayed message")
}

// conversationID returns a stable, order-independent identifier for the
// two-party DM thread between a and b, for log correlation only.
func conversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

func (h *Hub) handleGetHistory(c *client, data []byte) {
	var f protocol.GetHistoryFrame
	if err := protocol.Decode(data, &f); err != nil {
		h.sendError(c, "invalid get_history payload")
		return
	}
	// Ephemeral mode: the hub stores nothing, so history is always
	// empty — the frame is retained only for protocol parity.
	_ = c.enqueue(protocol.MessageHistoryFrame{
		Type: protocol.TypeMessageHistory, Messages: []protocol.WireMessage{}, OtherUserID: f.OtherUserID,
	})
}

func (h *Hub) handleMarkRead(c *client, data []byte) {
	var f protocol.MarkReadFrame
	if err := protocol.Decode(data, &f); err != nil {
		h.sendError(c, "invalid mark_read payload")
		return
	}
	_ = c.enqueue(protocol.MessageMarkedReadFrame{Type: protocol.TypeMessageMarkedRead, MessageID: f.MessageID, Success: true})
}

func (h *Hub) handleGetUsers(c *client) {
	caller := c.userID()

	h.mu.RLock()
	views := make([]protocol.HubUserView, 0, len(h.users))
	for id, u := range h.users {
		if id == caller {
			continue
		}
		view := protocol.HubUserView{
			ID: u.ID, SigningPubKey: u.SigningPubKey, AgreementPubKey: u.AgreementPubKey,
			Nickname: u.Nickname, Online: u.Online,
		}
		if !u.LastSeen.IsZero() {
			view.LastSeen = u.LastSeen.Format(time.RFC3339)
		}
		views = append(views, view)
	}
	h.mu.RUnlock()

	_ = c.enqueue(protocol.UsersListFrame{Type: protocol.TypeUsersList, Users: views})
}

func (h *Hub) handleAddToChat(c *client, data []byte) {
	var f protocol.AddToChatFrame
	if err := protocol.Decode(data, &f); err != nil {
		h.sendError(c, "invalid add_to_chat payload")
		return
	}

	caller := c.userID()
	if f.TargetUserID == caller {
		h.sendError(c, "cannot add yourself to chat")
		return
	}

	h.mu.RLock()
	target, ok := h.users[f.TargetUserID]
	h.mu.RUnlock()
	if !ok {
		h.sendError(c, "target user does not exist")
		return
	}

	if targetClient, online := h.clientFor(f.TargetUserID); online {
		callerView, _ := h.userView(caller)
		_ = targetClient.enqueue(protocol.ChatAddedFrame{Type: protocol.TypeChatAdded, UserID: caller, Nickname: callerView.Nickname})
	}

	view := protocol.HubUserView{ID: target.ID, SigningPubKey: target.SigningPubKey, AgreementPubKey: target.AgreementPubKey, Nickname: target.Nickname, Online: target.Online}
	_ = c.enqueue(protocol.AddToChatSuccessFrame{Type: protocol.TypeAddToChatSuccess, TargetUser: view})
}

func (h *Hub) userView(id string) (protocol.HubUserView, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	u, ok := h.users[id]
	if !ok {
		return protocol.HubUserView{}, false
	}
	return protocol.HubUserView{ID: u.ID, SigningPubKey: u.SigningPubKey, AgreementPubKey: u.AgreementPubKey, Nickname: u.Nickname, Online: u.Online}, true
}

// --- call signaling ---

func (h *Hub) handleCallInitiate(c *client, data []byte) {
	var f protocol.CallInitiateFrame
	if err := protocol.Decode(data, &f); err != nil {
		h.sendError(c, "invalid call_initiate payload")
		return
	}
	caller := c.userID()

	target, online := h.clientFor(f.To)
	if !online {
		h.sendError(c, "Recipient is offline")
		if h.metrics != nil {
			h.metrics.CallsInitiated.WithLabelValues("callee_offline").Inc()
		}
		return
	}

	h.mu.Lock()
	h.calls[f.CallID] = &Call{ID: f.CallID, InitiatorID: caller, CalleeID: f.To, Status: CallInitiated, CreatedAt: time.Now().UTC()}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.CallsInitiated.WithLabelValues("forwarded").Inc()
		h.metrics.CallsActive.Set(float64(h.activeCallCountSnapshot()))
	}

	ts := time.Now().UTC().Format(time.RFC3339)
	_ = target.enqueue(protocol.CallOfferFrame{Type: protocol.TypeCallOffer, From: caller, Offer: f.Offer, CallID: f.CallID, Timestamp: ts})
}

func (h *Hub) handleCallAccept(c *client, data []byte) {
	var f protocol.CallAcceptFrame
	if err := protocol.Decode(data, &f); err != nil {
		h.sendError(c, "invalid call_accept payload")
		return
	}
	caller := c.userID()

	call, ok := h.callFor(f.CallID)
	if !ok || call.CalleeID != caller {
		h.sendError(c, "not a participant in this call")
		return
	}

	h.mu.Lock()
	call.Status = CallConnected
	h.mu.Unlock()

	initiator, online := h.clientFor(call.InitiatorID)
	if !online {
		h.sendError(c, "Recipient is offline")
		return
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	_ = initiator.enqueue(protocol.CallAnswerFrame{Type: protocol.TypeCallAnswer, From: caller, Answer: f.Answer, CallID: f.CallID, Timestamp: ts})
}

func (h *Hub) handleCallCandidate(c *client, data []byte) {
	var f protocol.CallCandidateFrame
	if err := protocol.Decode(data, &f); err != nil {
		h.sendError(c, "invalid call_candidate payload")
		return
	}
	h.relayToOtherParticipant(c, f.CallID, func(to *client, from string, ts string) error {
		return to.enqueue(protocol.CallCandidateOutFrame{Type: protocol.TypeCallCandidate, From: from, Candidate: f.Candidate, CallID: f.CallID, Timestamp: ts})
	})
}

func (h *Hub) handleCallEnd(c *client, data []byte) {
	var f protocol.CallEndFrame
	if err := protocol.Decode(data, &f); err != nil {
		h.sendError(c, "invalid call_end payload")
		return
	}

	call, ok := h.callFor(f.CallID)
	if !ok {
		h.sendError(c, "unknown call")
		return
	}
	caller := c.userID()
	if call.InitiatorID != caller && call.CalleeID != caller {
		h.sendError(c, "not a participant in this call")
		return
	}

	h.mu.Lock()
	call.Status = CallEnded
	call.EndedAt = time.Now().UTC()
	h.mu.Unlock()

	if h.metrics != nil {
		if !call.CreatedAt.IsZero() {
			h.metrics.CallDuration.Observe(call.EndedAt.Sub(call.CreatedAt).Seconds())
		}
		h.metrics.CallsActive.Set(float64(h.activeCallCountSnapshot()))
	}

	other := call.InitiatorID
	if caller == call.InitiatorID {
		other = call.CalleeID
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	if target, online := h.clientFor(other); online {
		_ = target.enqueue(protocol.CallEndOutFrame{Type: protocol.TypeCallEnd, From: caller, CallID: f.CallID, Timestamp: ts})
	}

	callID := f.CallID
	time.AfterFunc(h.cfg.CallPurgeDelay, func() {
		h.mu.Lock()
		delete(h.calls, callID)
		h.mu.Unlock()
	})
}

func (h *Hub) handleCallRestart(c *client, data []byte) {
	var f protocol.CallRestartFrame
	if err := protocol.Decode(data, &f); err != nil {
		h.sendError(c, "invalid call_restart payload")
		return
	}
	h.relayToOtherParticipant(c, f.CallID, func(to *client, from string, ts string) error {
		return to.enqueue(protocol.CallRestartOutFrame{Type: protocol.TypeCallRestart, From: from, Offer: f.Offer, CallID: f.CallID, Timestamp: ts})
	})
}

func (h *Hub) handleCallRestartAnswer(c *client, data []byte) {
	var f protocol.CallRestartAnswerFrame
	if err := protocol.Decode(data, &f); err != nil {
		h.sendError(c, "invalid call_restart_answer payload")
		return
	}
	h.relayToOtherParticipant(c, f.CallID, func(to *client, from string, ts string) error {
		return to.enqueue(protocol.CallRestartAnswerOutFrame{Type: protocol.TypeCallRestartAnswer, From: from, Answer: f.Answer, CallID: f.CallID, Timestamp: ts})
	})
}

func (h *Hub) relayToOtherParticipant(c *client, callID string, send func(to *client, from, ts string) error) {
	call, ok := h.callFor(callID)
	if !ok {
		h.sendError(c, "unknown call")
		return
	}
	caller := c.userID()
	other := call.InitiatorID
	if caller == call.InitiatorID {
		other = call.CalleeID
	} else if caller != call.CalleeID {
		h.sendError(c, "not a participant in this call")
		return
	}

	target, online := h.clientFor(other)
	if !online {
		h.sendError(c, "Recipient is offline")
		return
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	_ = send(target, caller, ts)
}

func (h *Hub) callFor(callID string) (*Call, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	call, ok := h.calls[callID]
	return call, ok
}

// activeCallCountSnapshot acquires its own read lock.
func (h *Hub) activeCallCountSnapshot() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, call := range h.calls {
		if call.Status != CallEnded {
			n++
		}
	}
	return n
}

// --- shared helpers ---

func (h *Hub) clientFor(userID string) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.socketByUser[userID]
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	online := c.user != nil && c.user.Online
	c.mu.Unlock()
	return c, online
}

func (h *Hub) broadcastStatus(userID string, online bool, except *client) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.socketByUser))
	for id, target := range h.socketByUser {
		if id == userID || target == except {
			continue
		}
		targets = append(targets, target)
	}
	h.mu.RUnlock()

	for _, target := range targets {
		_ = target.enqueue(protocol.UserStatusUpdateFrame{Type: protocol.TypeUserStatusUpdate, UserID: userID, IsOnline: online})
		if h.metrics != nil {
			h.metrics.FramesRouted.WithLabelValues(string(protocol.TypeUserStatusUpdate)).Inc()
		}
	}

	if h.presence != nil {
		go func() {
			if err := h.presence.PublishStatus(context.Background(), userID, online); err != nil {
				h.logger.Warn().Err(err).Msg("presence fan-out publish failed")
			}
		}()
	}
}

// ApplyRemoteStatus rebroadcasts a presence event received from a sibling
// hub process (via RedisPresence.Run) to this process's own connected
// peers, without re-publishing it — that would echo the event back and
// forth between processes forever.
func (h *Hub) ApplyRemoteStatus(userID string, online bool) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.socketByUser))
	for id, target := range h.socketByUser {
		if id == userID {
			continue
		}
		targets = append(targets, target)
	}
	h.mu.RUnlock()

	for _, target := range targets {
		_ = target.enqueue(protocol.UserStatusUpdateFrame{Type: protocol.TypeUserStatusUpdate, UserID: userID, IsOnline: online})
	}
}

func (h *Hub) onDisconnect(c *client) {
	c.mu.Lock()
	user := c.user
	c.state = stateClosed
	peerLogger := c.logger
	c.mu.Unlock()

	if user == nil {
		return
	}

	h.mu.Lock()
	if h.socketByUser[user.ID] == c {
		delete(h.socketByUser, user.ID)
	}
	user.Online = false
	user.LastSeen = time.Now().UTC()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.OnlineUsers.Set(float64(h.onlineCountSnapshot()))
	}

	h.broadcastStatus(user.ID, false, nil)

	(&observability.LogEvent{Logger: peerLogger, Action: "disconnect", Entity: "peer", ID: user.ID}).Success("peer disconnected")
}

func (h *Hub) sendError(c *client, message string) {
	_ = c.enqueue(protocol.ErrorFrame{Type: protocol.TypeError, Message: message})
	h.countDropped("rejected")
	c.mu.Lock()
	logger := c.logger
	c.mu.Unlock()
	(&observability.LogEvent{Logger: logger, Action: "dispatch", Entity: "frame"}).Warning(message)
}

func (c *client) userID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

// UserCount returns the number of known (ever-registered) users.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// OnlineCount returns the number of currently authenticated users.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineCountLocked()
}
