// Package peerengine implements spec §4.6's Hub Client Protocol: it
// drives register/auth/send/receive/history/presence/call flows over
// a Connection Manager, using the Crypto Engine to encrypt/decrypt and
// the Peer Directory/Outbox/History to track state. This is the
// client-side counterpart to internal/hub.
package peerengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wisp-chat/wisp/internal/connection"
	"github.com/wisp-chat/wisp/internal/cryptoengine"
	"github.com/wisp-chat/wisp/internal/directory"
	"github.com/wisp-chat/wisp/internal/errs"
	"github.com/wisp-chat/wisp/internal/history"
	"github.com/wisp-chat/wisp/internal/identity"
	"github.com/wisp-chat/wisp/internal/outbox"
	"github.com/wisp-chat/wisp/internal/protocol"
)

// CallEventKind enumerates the call-signaling notifications surfaced
// to the caller (spec §4.6's call signaling client side).
type CallEventKind string

const (
	CallOfferReceived          CallEventKind = "offer"
	CallAnswerReceived         CallEventKind = "answer"
	CallCandidateReceived      CallEventKind = "candidate"
	CallEndedReceived          CallEventKind = "ended"
	CallRestartReceived        CallEventKind = "restart"
	CallRestartAnswerReceived  CallEventKind = "restart_answer"
)

// CallEvent is one inbound call-signaling notification.
type CallEvent struct {
	Kind      CallEventKind
	From      string
	CallID    string
	Offer     string
	Answer    string
	Candidate string
}

// Engine drives the client-side protocol flows over one Connection
// Manager. It owns no transport details itself.
type Engine struct {
	idMgr   *identity.Manager
	conn    *connection.Manager
	dir     *directory.Directory
	outbox  *outbox.Outbox
	history *history.History
	logger  zerolog.Logger

	cryptoEngine *cryptoengine.Engine
	identity     *identity.Identity

	messages chan history.Message
	errorsCh chan error
	calls    chan CallEvent

	unsub func()
}

// New wires an Engine around an already-constructed Connection
// Manager. Call Start to begin consuming inbound frames.
func New(idMgr *identity.Manager, conn *connection.Manager, dir *directory.Directory, ob *outbox.Outbox, hist *history.History, logger zerolog.Logger) *Engine {
	return &Engine{
		idMgr:    idMgr,
		conn:     conn,
		dir:      dir,
		outbox:   ob,
		history:  hist,
		logger:   logger.With().Str("component", "peer_engine").Logger(),
		messages: make(chan history.Message, 64),
		errorsCh: make(chan error, 16),
		calls:    make(chan CallEvent, 16),
	}
}

// SetDirectory attaches the Peer Directory after construction. The
// directory's own constructor needs the Engine as its Requester, so
// callers outside this package build the Engine with a nil directory
// first, construct the directory around the Engine, then call this.
func (e *Engine) SetDirectory(dir *directory.Directory) { e.dir = dir }

// Directory returns the attached Peer Directory, or nil if none was set.
func (e *Engine) Directory() *directory.Directory { return e.dir }

// Messages streams every appended-to-history message (local echoes and
// received messages alike).
func (e *Engine) Messages() <-chan history.Message { return e.messages }

// Errors streams hub error frames (as *errs.ProtocolError) and failures
// of outbox resends. Auth and vault errors are not sent here: they are
// returned to the caller of the failing operation, and a failed
// re-authentication after a reconnect is only logged.
func (e *Engine) Errors() <-chan error { return e.errorsCh }

// Calls streams inbound call-signaling notifications.
func (e *Engine) Calls() <-chan CallEvent { return e.calls }

// RequestUsersList implements directory.Requester by round-tripping a
// get_users / users_list exchange through the Connection Manager.
func (e *Engine) RequestUsersList(ctx context.Context) ([]directory.UserListEntry, error) {
	frame, err := e.conn.Request(ctx, protocol.GetUsersFrame{Type: protocol.TypeGetUsers}, protocol.TypeUsersList, 0)
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}

	var list protocol.UsersListFrame
	if err := protocol.Decode(frame.Raw, &list); err != nil {
		return nil, err
	}

	out := make([]directory.UserListEntry, 0, len(list.Users))
	for _, u := range list.Users {
		var lastSeen time.Time
		if u.LastSeen != "" {
			lastSeen, _ = time.Parse(time.RFC3339, u.LastSeen)
		}
		out = append(out, directory.UserListEntry{
			UserID:          u.ID,
			Nickname:        u.Nickname,
			SigningPubKey:   u.SigningPubKey,
			AgreementPubKey: u.AgreementPubKey,
			Online:          u.Online,
			LastSeen:        lastSeen,
		})
	}
	return out, nil
}

// Start loads/generates the identity, subscribes to inbound frames,
// and begins dispatching them. Must be called before any protocol
// operation.
func (e *Engine) Start(ctx context.Context) error {
	id, err := e.idMgr.EnsureIdentity(ctx)
	if err != nil {
		return err
	}
	e.identity = id

	eng, err := id.Engine()
	if err != nil {
		return err
	}
	e.cryptoEngine = eng

	ch, unsub := e.conn.Subscribe(128)
	e.unsub = unsub
	go e.dispatchLoop(ch)

	e.conn.SetReauthenticator(func(ctx context.Context) error {
		if e.identity == nil {
			return nil
		}
		return e.Authenticate(ctx)
	})

	return nil
}

// Stop unsubscribes from the Connection Manager.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
}

// Register sends register{signingPub, agreementPub, nickname} and
// waits for register_success.
func (e *Engine) Register(ctx context.Context, nickname string) error {
	frame := protocol.RegisterFrame{
		Type:                protocol.TypeRegister,
		PublicSigningKey:    e.cryptoEngine.SigningPublicKey(),
		PublicEncryptionKey: e.cryptoEngine.AgreementPublicKey(),
		Nickname:            nickname,
	}

	resp, err := e.conn.Request(ctx, frame, protocol.TypeRegisterSuccess, 15*time.Second)
	if err != nil {
		return &errs.AuthError{Reason: fmt.Sprintf("register request failed: %v", err)}
	}
	if resp == nil {
		return &errs.AuthError{Reason: "register timed out"}
	}

	var success protocol.RegisterSuccessFrame
	if err := protocol.Decode(resp.Raw, &success); err != nil {
		return err
	}
	return nil
}

// Authenticate computes timestamp = now(), signs it, and sends
// auth{userId, signature, timestamp}, per spec §4.6.
func (e *Engine) Authenticate(ctx context.Context) error {
	ts := time.Now().UTC().Format(time.RFC3339)
	sig, err := e.cryptoEngine.Sign([]byte(ts))
	if err != nil {
		return err
	}

	frame := protocol.AuthFrame{
		Type:      protocol.TypeAuth,
		UserID:    e.identity.UserID,
		Signature: sig,
		Timestamp: ts,
	}

	resp, err := e.conn.Request(ctx, frame, protocol.TypeAuthSuccess, 0)
	if err != nil {
		return &errs.AuthError{Reason: fmt.Sprintf("auth request failed: %v", err)}
	}
	if resp == nil {
		return &errs.AuthError{Reason: "auth timed out"}
	}

	var success protocol.AuthSuccessFrame
	if err := protocol.Decode(resp.Raw, &success); err != nil {
		return err
	}
	if !success.Success {
		return &errs.AuthError{Reason: "hub rejected authentication"}
	}
	return nil
}

// Send implements spec §4.6's Send flow.
func (e *Engine) Send(ctx context.Context, receiverID string, plaintext []byte, msgType protocol.MessageType) error {
	now := time.Now().UTC()
	localID := fmt.Sprintf("local-%d", now.UnixMilli())

	local := history.Message{
		ID:         localID,
		SenderID:   e.identity.UserID,
		ReceiverID: receiverID,
		Plaintext:  plaintext,
		Timestamp:  now.Format(time.RFC3339Nano),
		Type:       msgType,
		Status:     protocol.StatusSending,
		Encrypted:  true,
	}
	e.history.Append(receiverID, local)
	e.emitMessage(local)

	if !e.dir.IsOnline(receiverID) {
		e.outbox.Enqueue(receiverID, outbox.Entry{
			ReceiverID: receiverID,
			Plaintext:  plaintext,
			Type:       msgType,
			EnqueuedAt: now,
		})
		return nil
	}

	return e.sendNow(ctx, receiverID, plaintext, msgType, now)
}

func (e *Engine) sendNow(ctx context.Context, receiverID string, plaintext []byte, msgType protocol.MessageType, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)

	ok, err := e.dir.EnsureKeysFor(ctx, receiverID)
	if err != nil {
		return err
	}

	var encryptedContent string
	var signature []byte

	if ok {
		peer, _ := e.dir.Get(receiverID)
		env, err := e.cryptoEngine.Encrypt(plaintext, peer.AgreementPubKey)
		if err != nil {
			return err
		}
		envJSON, err := protocol.Encode(protocol.CiphertextEnvelope{
			EncryptedData: env.Ciphertext,
			Nonce:         env.Nonce,
			MAC:           env.MAC,
			Signature:     env.Signature,
		})
		if err != nil {
			return err
		}
		encryptedContent = string(envJSON)
		signature = env.Signature
	} else {
		// Deliberate degradation per spec §4.6: fall back to plaintext
		// with a detached signature when keys are unavailable.
		sig, err := e.cryptoEngine.Sign(plaintext)
		if err != nil {
			return err
		}
		encryptedContent = string(plaintext)
		signature = sig
	}

	frame := protocol.SendMessageFrame{
		Type:             protocol.TypeSendMessage,
		ReceiverID:       receiverID,
		EncryptedContent: encryptedContent,
		MessageType:      msgType,
		Signature:        signature,
		Timestamp:        ts,
	}
	return e.conn.Send(frame)
}

// DrainOutbox is invoked when the directory reports a peer transition
// offline → online; it resends every queued entry with its original
// timestamp, in enqueue order (spec §4.4's outbox drain policy).
func (e *Engine) DrainOutbox(ctx context.Context, peerID string) {
	entries := e.outbox.Drain(peerID)
	for _, entry := range entries {
		if err := e.sendNow(ctx, entry.ReceiverID, entry.Plaintext, entry.Type, entry.EnqueuedAt); err != nil {
			e.emitError(err)
		}
	}
}

// GetHistory requests get_history{userId, otherUserId, limit, before}.
func (e *Engine) GetHistory(ctx context.Context, otherUserID string, limit int, before string) ([]history.Message, error) {
	frame := protocol.GetHistoryFrame{
		Type:        protocol.TypeGetHistory,
		UserID:      e.identity.UserID,
		OtherUserID: otherUserID,
		Limit:       limit,
		Before:      before,
	}
	resp, err := e.conn.Request(ctx, frame, protocol.TypeMessageHistory, 0)
	if err != nil || resp == nil {
		return nil, err
	}

	var hist protocol.MessageHistoryFrame
	if err := protocol.Decode(resp.Raw, &hist); err != nil {
		return nil, err
	}

	out := make([]history.Message, 0, len(hist.Messages))
	for _, wm := range hist.Messages {
		msg, ok := e.decodeWireMessage(wm)
		if !ok {
			continue
		}
		e.history.Append(otherUserID, msg)
		out = append(out, msg)
	}
	return out, nil
}

// MarkRead sends mark_read{messageId}.
func (e *Engine) MarkRead(messageID string) error {
	return e.conn.Send(protocol.MarkReadFrame{Type: protocol.TypeMarkRead, MessageID: messageID})
}

// AddToChat sends add_to_chat{target_user_id}.
func (e *Engine) AddToChat(targetUserID string) error {
	return e.conn.Send(protocol.AddToChatFrame{Type: protocol.TypeAddToChat, TargetUserID: targetUserID})
}

// CallInitiate emits call_initiate{to, offer, call_id}.
func (e *Engine) CallInitiate(to, offer, callID string) error {
	return e.conn.Send(protocol.CallInitiateFrame{Type: protocol.TypeCallInitiate, To: to, Offer: offer, CallID: callID})
}

// CallAccept emits call_accept{to, answer, call_id}.
func (e *Engine) CallAccept(to, answer, callID string) error {
	return e.conn.Send(protocol.CallAcceptFrame{Type: protocol.TypeCallAccept, To: to, Answer: answer, CallID: callID})
}

// CallCandidate emits call_candidate{to, candidate, call_id}.
func (e *Engine) CallCandidate(to, candidate, callID string) error {
	return e.conn.Send(protocol.CallCandidateFrame{Type: protocol.TypeCallCandidate, To: to, Candidate: candidate, CallID: callID})
}

// CallEnd emits call_end{to, call_id}.
func (e *Engine) CallEnd(to, callID string) error {
	return e.conn.Send(protocol.CallEndFrame{Type: protocol.TypeCallEnd, To: to, CallID: callID})
}

// CallRestart emits call_restart{to, offer, call_id}.
func (e *Engine) CallRestart(to, offer, callID string) error {
	return e.conn.Send(protocol.CallRestartFrame{Type: protocol.TypeCallRestart, To: to, Offer: offer, CallID: callID})
}

// CallRestartAnswer emits call_restart_answer{to, answer, call_id}.
func (e *Engine) CallRestartAnswer(to, answer, callID string) error {
	return e.conn.Send(protocol.CallRestartAnswerFrame{Type: protocol.TypeCallRestartAnswer, To: to, Answer: answer, CallID: callID})
}

// ResetSession deletes the identity from the Key Vault. The Peer
// Directory, Outbox and History are not cleared. The caller is
// responsible for reconnecting afterwards.
func (e *Engine) ResetSession(ctx context.Context) error {
	return e.idMgr.DeleteIdentity(ctx)
}

func (e *Engine) dispatchLoop(ch <-chan connection.InboundFrame) {
	for frame := range ch {
		e.handleFrame(frame)
	}
}

func (e *Engine) handleFrame(frame connection.InboundFrame) {
	switch frame.Type {
	case protocol.TypeNewMessage:
		var f protocol.NewMessageFrame
		if err := protocol.Decode(frame.Raw, &f); err != nil {
			e.logger.Warn().Err(err).Msg("dropped malformed new_message")
			return
		}
		e.ingestMessage(f.Message)

	case protocol.TypeMessageSent:
		var f protocol.MessageSentFrame
		if err := protocol.Decode(frame.Raw, &f); err != nil {
			e.logger.Warn().Err(err).Msg("dropped malformed message_sent")
			return
		}
		e.ingestMessage(f.Message)

	case protocol.TypeUsersList:
		var f protocol.UsersListFrame
		if err := protocol.Decode(frame.Raw, &f); err != nil {
			e.logger.Warn().Err(err).Msg("dropped malformed users_list")
			return
		}
		entries := make([]directory.UserListEntry, 0, len(f.Users))
		for _, u := range f.Users {
			entries = append(entries, directory.UserListEntry{
				UserID: u.ID, Nickname: u.Nickname,
				SigningPubKey: u.SigningPubKey, AgreementPubKey: u.AgreementPubKey,
				Online: u.Online,
			})
		}
		e.dir.MergeUserList(entries)

	case protocol.TypeUserStatusUpdate:
		var f protocol.UserStatusUpdateFrame
		if err := protocol.Decode(frame.Raw, &f); err != nil {
			e.logger.Warn().Err(err).Msg("dropped malformed user_status_update")
			return
		}
		wasOnline := e.dir.IsOnline(f.UserID)
		e.dir.MergeStatus(f.UserID, f.IsOnline)
		if !wasOnline && f.IsOnline {
			go e.DrainOutbox(context.Background(), f.UserID)
		}

	case protocol.TypeCallOffer:
		var f protocol.CallOfferFrame
		if protocol.Decode(frame.Raw, &f) == nil {
			e.emitCall(CallEvent{Kind: CallOfferReceived, From: f.From, CallID: f.CallID, Offer: f.Offer})
		}
	case protocol.TypeCallAnswer:
		var f protocol.CallAnswerFrame
		if protocol.Decode(frame.Raw, &f) == nil {
			e.emitCall(CallEvent{Kind: CallAnswerReceived, From: f.From, CallID: f.CallID, Answer: f.Answer})
		}
	case protocol.TypeCallCandidate:
		var f protocol.CallCandidateOutFrame
		if protocol.Decode(frame.Raw, &f) == nil {
			e.emitCall(CallEvent{Kind: CallCandidateReceived, From: f.From, CallID: f.CallID, Candidate: f.Candidate})
		}
	case protocol.TypeCallEnd:
		var f protocol.CallEndOutFrame
		if protocol.Decode(frame.Raw, &f) == nil {
			e.emitCall(CallEvent{Kind: CallEndedReceived, From: f.From, CallID: f.CallID})
		}
	case protocol.TypeCallRestart:
		var f protocol.CallRestartOutFrame
		if protocol.Decode(frame.Raw, &f) == nil {
			e.emitCall(CallEvent{Kind: CallRestartReceived, From: f.From, CallID: f.CallID, Offer: f.Offer})
		}
	case protocol.TypeCallRestartAnswer:
		var f protocol.CallRestartAnswerOutFrame
		if protocol.Decode(frame.Raw, &f) == nil {
			e.emitCall(CallEvent{Kind: CallRestartAnswerReceived, From: f.From, CallID: f.CallID, Answer: f.Answer})
		}

	case protocol.TypeError:
		var f protocol.ErrorFrame
		if protocol.Decode(frame.Raw, &f) == nil {
			e.emitError(&errs.ProtocolError{Reason: f.Message})
		}

	case protocol.TypePong, protocol.TypeRegisterSuccess, protocol.TypeAuthSuccess,
		protocol.TypeMessageHistory, protocol.TypeMessageMarkedRead,
		protocol.TypeChatAdded, protocol.TypeAddToChatSuccess:
		// Handled by Request() correlation or a higher-level caller;
		// nothing further to do on the broadcast path.

	default:
		e.logger.Debug().Str("type", string(frame.Type)).Msg("unhandled frame type")
	}
}

// ingestMessage implements spec §4.6's Receive flow.
func (e *Engine) ingestMessage(wm protocol.WireMessage) {
	if wm.SenderID == e.identity.UserID {
		var env protocol.CiphertextEnvelope
		if json.Unmarshal([]byte(wm.EncryptedContent), &env) == nil {
			if _, err := e.tryDecrypt(wm, env); err != nil {
				return // discard silently: echo of our own undecryptable ciphertext
			}
		}
	}

	msg, ok := e.decodeWireMessage(wm)
	if !ok {
		return // discard silently: tampered/undecryptable ciphertext, spec §7's IntegrityError policy
	}
	e.history.Append(counterpart(wm, e.identity.UserID), msg)
	e.emitMessage(msg)
}

// decodeWireMessage reports ok=false when wm.EncryptedContent parses as a
// CiphertextEnvelope but fails to decrypt (tampering, unknown sender keys,
// wrong recipient) — spec §7 requires that case be discarded and logged,
// never surfaced to history as a fallback plaintext.
func (e *Engine) decodeWireMessage(wm protocol.WireMessage) (history.Message, bool) {
	msg := history.Message{
		ID:         wm.ID,
		SenderID:   wm.SenderID,
		ReceiverID: wm.ReceiverID,
		Timestamp:  wm.Timestamp,
		Type:       wm.MessageType,
		Status:     protocol.StatusDelivered,
	}

	var env protocol.CiphertextEnvelope
	if json.Unmarshal([]byte(wm.EncryptedContent), &env) == nil {
		plaintext, err := e.tryDecrypt(wm, env)
		if err != nil {
			e.logger.Warn().Err(err).Str("sender_id", wm.SenderID).Msg("discarding undecryptable message envelope")
			return history.Message{}, false
		}
		msg.Plaintext = plaintext
		msg.Encrypted = true
		return msg, true
	}

	// Plain (non-JSON) string: accept as plaintext, unencrypted.
	msg.Plaintext = []byte(wm.EncryptedContent)
	msg.Encrypted = false
	return msg, true
}

func (e *Engine) tryDecrypt(wm protocol.WireMessage, env protocol.CiphertextEnvelope) ([]byte, error) {
	senderID := wm.SenderID
	peer, ok := e.dir.Get(senderID)
	if !ok || !peer.HasKeys() {
		return nil, &errs.CryptoError{Kind: errs.CryptoMissingIdentity}
	}
	return e.cryptoEngine.Decrypt(&cryptoengine.Envelope{
		Ciphertext: env.EncryptedData,
		Nonce:      env.Nonce,
		MAC:        env.MAC,
		Signature:  env.Signature,
	}, peer.AgreementPubKey, peer.SigningPubKey)
}

func counterpart(wm protocol.WireMessage, selfID string) string {
	if wm.SenderID == selfID {
		return wm.ReceiverID
	}
	return wm.SenderID
}

func (e *Engine) emitMessage(msg history.Message) {
	select {
	case e.messages <- msg:
	default:
	}
}

func (e *Engine) emitError(err error) {
	select {
	case e.errorsCh <- err:
	default:
	}
}

func (e *Engine) emitCall(ev CallEvent) {
	select {
	case e.calls <- ev:
	default:
	}
}
