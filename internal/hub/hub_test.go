package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisp-chat/wisp/internal/cryptoengine"
	"github.com/wisp-chat/wisp/internal/protocol"
)

func wsURL(httpURL string) string { return "ws" + strings.TrimPrefix(httpURL, "http") }

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CallPurgeDelay = 50 * time.Millisecond
	h := New(cfg, nil, nil, zerolog.Nop())
	srv := httptest.NewServer(h.Handler())
	return h, srv
}

type testPeer struct {
	t      *testing.T
	conn   *websocket.Conn
	engine *cryptoengine.Engine
	userID string
}

func dialPeer(t *testing.T, srv *httptest.Server) *testPeer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)

	agreePriv, agreePub, err := cryptoengine.GenerateAgreementKeyPair()
	require.NoError(t, err)
	signPriv, signPub, err := cryptoengine.GenerateSigningKeyPair()
	require.NoError(t, err)
	eng, err := cryptoengine.New(agreePriv, agreePub, signPriv, signPub)
	require.NoError(t, err)

	return &testPeer{t: t, conn: conn, engine: eng}
}

func (p *testPeer) send(v interface{}) {
	require.NoError(p.t, p.conn.WriteJSON(v))
}

func (p *testPeer) recv(timeout time.Duration) (protocol.FrameType, []byte) {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	typ, err := protocol.PeekType(data)
	require.NoError(p.t, err)
	return typ, data
}

func (p *testPeer) register() {
	p.send(protocol.RegisterFrame{
		Type:                protocol.TypeRegister,
		PublicSigningKey:    p.engine.SigningPublicKey(),
		PublicEncryptionKey: p.engine.AgreementPublicKey(),
		Nickname:            "peer",
	})
	typ, data := p.recv(time.Second)
	require.Equal(p.t, protocol.TypeRegisterSuccess, typ)

	var resp protocol.RegisterSuccessFrame
	require.NoError(p.t, json.Unmarshal(data, &resp))
	p.userID = resp.UserID
}

func (p *testPeer) authenticate() {
	ts := time.Now().UTC().Format(time.RFC3339)
	sig, err := p.engine.Sign([]byte(ts))
	require.NoError(p.t, err)

	p.send(protocol.AuthFrame{Type: protocol.TypeAuth, UserID: p.userID, Signature: sig, Timestamp: ts})
	typ, data := p.recv(time.Second)
	require.Equal(p.t, protocol.TypeAuthSuccess, typ)

	var resp protocol.AuthSuccessFrame
	require.NoError(p.t, json.Unmarshal(data, &resp))
	require.True(p.t, resp.Success)
}

func TestRegisterThenAuth_Succeeds(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()
	assert.NotEmpty(t, alice.userID)
	alice.authenticate()
}

func TestAuth_RejectsStaleTimestamp(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()

	ts := time.Now().Add(-10 * time.Minute).UTC().Format(time.RFC3339)
	sig, err := alice.engine.Sign([]byte(ts))
	require.NoError(t, err)

	alice.send(protocol.AuthFrame{Type: protocol.TypeAuth, UserID: alice.userID, Signature: sig, Timestamp: ts})
	typ, _ := alice.recv(time.Second)
	assert.Equal(t, protocol.TypeError, typ)
}

func TestAuth_RejectsFutureDatedTimestamp(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()

	ts := time.Now().Add(10 * time.Minute).UTC().Format(time.RFC3339)
	sig, err := alice.engine.Sign([]byte(ts))
	require.NoError(t, err)

	alice.send(protocol.AuthFrame{Type: protocol.TypeAuth, UserID: alice.userID, Signature: sig, Timestamp: ts})
	typ, _ := alice.recv(time.Second)
	assert.Equal(t, protocol.TypeError, typ)
}

func TestAuth_RejectsBadSignature(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()

	ts := time.Now().UTC().Format(time.RFC3339)
	alice.send(protocol.AuthFrame{Type: protocol.TypeAuth, UserID: alice.userID, Signature: make([]byte, 64), Timestamp: ts})
	typ, _ := alice.recv(time.Second)
	assert.Equal(t, protocol.TypeError, typ)
}

func TestSendMessage_DeliversImmediatelyWhenOnline(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()
	alice.authenticate()

	bob := dialPeer(t, srv)
	defer bob.conn.Close()
	bob.register()
	bob.authenticate()
	// Drain bob's user_status_update for alice going online earlier is a
	// no-op here since bob joined after alice; alice instead gets one
	// for bob going online.
	typ, _ := alice.recv(time.Second)
	assert.Equal(t, protocol.TypeUserStatusUpdate, typ)

	alice.send(protocol.SendMessageFrame{
		Type: protocol.TypeSendMessage, ReceiverID: bob.userID,
		EncryptedContent: "ciphertext-blob", MessageType: protocol.MessageText,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})

	typ, data := alice.recv(time.Second)
	require.Equal(t, protocol.TypeMessageSent, typ)
	var sent protocol.MessageSentFrame
	require.NoError(t, json.Unmarshal(data, &sent))
	assert.NotEmpty(t, sent.Message.ID)

	typ, data = bob.recv(time.Second)
	require.Equal(t, protocol.TypeNewMessage, typ)
	var newMsg protocol.NewMessageFrame
	require.NoError(t, json.Unmarshal(data, &newMsg))
	assert.Equal(t, "ciphertext-blob", newMsg.Message.EncryptedContent)
}

func TestSendMessage_AcksEvenWhenReceiverOffline(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()
	alice.authenticate()

	alice.send(protocol.SendMessageFrame{
		Type: protocol.TypeSendMessage, ReceiverID: "NOBODYHOME0000000",
		EncryptedContent: "x", MessageType: protocol.MessageText,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})

	typ, _ := alice.recv(time.Second)
	assert.Equal(t, protocol.TypeMessageSent, typ)
}

func TestGetHistory_AlwaysEmpty(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()
	alice.authenticate()

	alice.send(protocol.GetHistoryFrame{Type: protocol.TypeGetHistory, UserID: alice.userID, OtherUserID: "X", Limit: 50})
	typ, data := alice.recv(time.Second)
	require.Equal(t, protocol.TypeMessageHistory, typ)

	var resp protocol.MessageHistoryFrame
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Empty(t, resp.Messages)
}

func TestGetUsers_ExcludesCaller(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()
	alice.authenticate()

	bob := dialPeer(t, srv)
	defer bob.conn.Close()
	bob.register()
	bob.authenticate()
	_, _ = alice.recv(time.Second) // bob's online status_update

	alice.send(protocol.GetUsersFrame{Type: protocol.TypeGetUsers})
	typ, data := alice.recv(time.Second)
	require.Equal(t, protocol.TypeUsersList, typ)

	var resp protocol.UsersListFrame
	require.NoError(t, json.Unmarshal(data, &resp))
	for _, u := range resp.Users {
		assert.NotEqual(t, alice.userID, u.ID)
	}
}

func TestCallSignaling_HappyPathAndPurge(t *testing.T) {
	h, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()
	alice.authenticate()

	bob := dialPeer(t, srv)
	defer bob.conn.Close()
	bob.register()
	bob.authenticate()
	_, _ = alice.recv(time.Second) // bob online

	alice.send(protocol.CallInitiateFrame{Type: protocol.TypeCallInitiate, To: bob.userID, Offer: "offer-blob", CallID: "C1"})
	typ, data := bob.recv(time.Second)
	require.Equal(t, protocol.TypeCallOffer, typ)
	var offer protocol.CallOfferFrame
	require.NoError(t, json.Unmarshal(data, &offer))
	assert.Equal(t, alice.userID, offer.From)

	bob.send(protocol.CallAcceptFrame{Type: protocol.TypeCallAccept, To: alice.userID, Answer: "answer-blob", CallID: "C1"})
	typ, data = alice.recv(time.Second)
	require.Equal(t, protocol.TypeCallAnswer, typ)
	var answer protocol.CallAnswerFrame
	require.NoError(t, json.Unmarshal(data, &answer))
	assert.Equal(t, bob.userID, answer.From)

	alice.send(protocol.CallEndFrame{Type: protocol.TypeCallEnd, To: bob.userID, CallID: "C1"})
	typ, _ = bob.recv(time.Second)
	assert.Equal(t, protocol.TypeCallEnd, typ)

	time.Sleep(100 * time.Millisecond)
	_, stillPresent := h.callFor("C1")
	assert.False(t, stillPresent)
}

func TestCallInitiate_ErrorsWhenCalleeOffline(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()
	alice.authenticate()

	alice.send(protocol.CallInitiateFrame{Type: protocol.TypeCallInitiate, To: "OFFLINEUSER00000", Offer: "o", CallID: "C2"})
	typ, _ := alice.recv(time.Second)
	assert.Equal(t, protocol.TypeError, typ)
}

func TestUnauthenticatedConnection_RejectsNonBootstrapFrames(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()

	alice.send(protocol.GetUsersFrame{Type: protocol.TypeGetUsers})
	typ, _ := alice.recv(time.Second)
	assert.Equal(t, protocol.TypeError, typ)
}

type fakePresencePublisher struct {
	mu        sync.Mutex
	published []presenceEvent
}

func (f *fakePresencePublisher) PublishStatus(ctx context.Context, userID string, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, presenceEvent{UserID: userID, Online: online})
	return nil
}

func TestAuth_PublishesPresenceWhenBackplaneAttached(t *testing.T) {
	cfg := DefaultConfig()
	fake := &fakePresencePublisher{}
	h := New(cfg, nil, fake, zerolog.Nop())
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()
	alice.authenticate()

	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return len(fake.published) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestApplyRemoteStatus_BroadcastsToLocalPeers(t *testing.T) {
	h, srv := newTestHub(t)
	defer srv.Close()

	alice := dialPeer(t, srv)
	defer alice.conn.Close()
	alice.register()
	alice.authenticate()

	h.ApplyRemoteStatus("REMOTEUSER0000000", true)

	typ, data := alice.recv(time.Second)
	require.Equal(t, protocol.TypeUserStatusUpdate, typ)
	var upd protocol.UserStatusUpdateFrame
	require.NoError(t, json.Unmarshal(data, &upd))
	assert.Equal(t, "REMOTEUSER0000000", upd.UserID)
	assert.True(t, upd.IsOnline)
}
