// Package protocol defines wisp's wire frames: JSON-shaped objects
// with a mandatory "type" field (spec §6). Unlike the teacher's
// binary length-prefixed + msgpack envelope (pkg/protocol/messages.go)
// and its nested generic Payload (internal/network/signaling/
// signaling.go), wisp's frames are flat JSON text — every field a
// frame type carries lives at the top level, matching spec §6
// exactly. Binary fields are plain []byte struct fields: encoding/json
// base64-encodes them automatically, satisfying "Binary fields base64"
// without a manual encode step.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/wisp-chat/wisp/internal/errs"
)

// FrameType is the exhaustive set of recognized "type" values from
// spec §6.
type FrameType string

// Client → Hub frame types.
const (
	TypeRegister          FrameType = "register"
	TypeAuth              FrameType = "auth"
	TypeSendMessage       FrameType = "send_message"
	TypeGetHistory        FrameType = "get_history"
	TypeMarkRead          FrameType = "mark_read"
	TypeGetUsers          FrameType = "get_users"
	TypeAddToChat         FrameType = "add_to_chat"
	TypeCallInitiate      FrameType = "call_initiate"
	TypeCallAccept        FrameType = "call_accept"
	TypeCallCandidate     FrameType = "call_candidate"
	TypeCallEnd           FrameType = "call_end"
	TypeCallRestart       FrameType = "call_restart"
	TypeCallRestartAnswer FrameType = "call_restart_answer"
	TypePing              FrameType = "ping"
)

// Hub → Client frame types.
const (
	TypeRegisterSuccess  FrameType = "register_success"
	TypeAuthSuccess      FrameType = "auth_success"
	TypeNewMessage       FrameType = "new_message"
	TypeMessageSent      FrameType = "message_sent"
	TypeMessageHistory   FrameType = "message_history"
	TypeMessageMarkedRead FrameType = "message_marked_read"
	TypeUsersList        FrameType = "users_list"
	TypeUserStatusUpdate FrameType = "user_status_update"
	TypeChatAdded        FrameType = "chat_added"
	TypeAddToChatSuccess FrameType = "add_to_chat_success"
	TypeCallOffer        FrameType = "call_offer"
	TypeCallAnswer       FrameType = "call_answer"
	TypePong             FrameType = "pong"
	TypeError            FrameType = "error"
)

// MessageType enumerates spec §3's Message.type values.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// MessageStatus enumerates spec §3's Message.status values.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// header is the minimal shape used only to peek at "type" before
// deciding which concrete struct to unmarshal into.
type header struct {
	Type FrameType `json:"type"`
}

// PeekType extracts the mandatory "type" field without committing to a
// concrete payload struct. A missing or empty type is a ProtocolError.
func PeekType(data []byte) (FrameType, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return "", &errs.ProtocolError{Reason: fmt.Sprintf("malformed frame: %v", err)}
	}
	if h.Type == "" {
		return "", &errs.ProtocolError{Reason: "missing required field: type"}
	}
	return h.Type, nil
}

// Encode marshals a frame payload to wire bytes.
func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &errs.ProtocolError{Reason: fmt.Sprintf("encode failed: %v", err)}
	}
	return data, nil
}

// Decode unmarshals wire bytes into a concrete frame payload struct.
func Decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &errs.ProtocolError{Reason: fmt.Sprintf("decode failed: %v", err)}
	}
	return nil
}

// CiphertextEnvelope is the wire shape of spec §6's "Ciphertext
// envelope JSON", carried inside send_message's encryptedContent.
// []byte fields are base64-encoded by encoding/json automatically.
type CiphertextEnvelope struct {
	EncryptedData []byte `json:"encryptedData"`
	Nonce         []byte `json:"nonce"`
	MAC           []byte `json:"mac"`
	Signature     []byte `json:"signature"`
}

// WireMessage is the shape of the "message" object relayed inside
// new_message / message_sent / message_history. The hub never
// populates Plaintext — only the Peer Engine derives it after
// decryption, locally, so this wire shape matches what the hub
// actually sees and relays: opaque encrypted content plus metadata.
type WireMessage struct {
	ID              string      `json:"id"`
	SenderID        string      `json:"senderId"`
	ReceiverID      string      `json:"receiverId"`
	EncryptedContent string     `json:"encryptedContent"`
	MessageType     MessageType `json:"messageType"`
	Signature       []byte      `json:"signature,omitempty"`
	Timestamp       string      `json:"timestamp"`
}

// --- Client → Hub frame payloads ---

type RegisterFrame struct {
	Type               FrameType `json:"type"`
	PublicSigningKey   []byte    `json:"publicSigningKey"`
	PublicEncryptionKey []byte   `json:"publicEncryptionKey"`
	Nickname           string    `json:"nickname,omitempty"`
}

type AuthFrame struct {
	Type      FrameType `json:"type"`
	UserID    string    `json:"userId"`
	Signature []byte    `json:"signature"`
	Timestamp string    `json:"timestamp"`
}

type SendMessageFrame struct {
	Type             FrameType   `json:"type"`
	ReceiverID       string      `json:"receiverId"`
	EncryptedContent string      `json:"encryptedContent"`
	MessageType      MessageType `json:"messageType"`
	Signature        []byte      `json:"signature"`
	Timestamp        string      `json:"timestamp"`
}

type GetHistoryFrame struct {
	Type         FrameType `json:"type"`
	UserID       string    `json:"userId"`
	OtherUserID  string    `json:"otherUserId"`
	Limit        int       `json:"limit"`
	Before       string    `json:"before,omitempty"`
}

type MarkReadFrame struct {
	Type      FrameType `json:"type"`
	MessageID string    `json:"messageId"`
}

type GetUsersFrame struct {
	Type FrameType `json:"type"`
}

type AddToChatFrame struct {
	Type         FrameType `json:"type"`
	TargetUserID string    `json:"target_user_id"`
}

type CallInitiateFrame struct {
	Type   FrameType `json:"type"`
	To     string    `json:"to"`
	Offer  string    `json:"offer"`
	CallID string    `json:"call_id"`
}

type CallAcceptFrame struct {
	Type   FrameType `json:"type"`
	To     string    `json:"to"`
	Answer string    `json:"answer"`
	CallID string    `json:"call_id"`
}

type CallCandidateFrame struct {
	Type      FrameType `json:"type"`
	To        string    `json:"to"`
	Candidate string    `json:"candidate"`
	CallID    string    `json:"call_id"`
}

type CallEndFrame struct {
	Type   FrameType `json:"type"`
	To     string    `json:"to"`
	CallID string    `json:"call_id"`
}

type CallRestartFrame struct {
	Type   FrameType `json:"type"`
	To     string    `json:"to"`
	Offer  string    `json:"offer"`
	CallID string    `json:"call_id"`
}

type CallRestartAnswerFrame struct {
	Type   FrameType `json:"type"`
	To     string    `json:"to"`
	Answer string    `json:"answer"`
	CallID string    `json:"call_id"`
}

type PingFrame struct {
	Type FrameType `json:"type"`
}

// --- Hub → Client frame payloads ---

type HubUserView struct {
	ID               string `json:"id"`
	SigningPubKey    []byte `json:"signingPubKey"`
	AgreementPubKey  []byte `json:"agreementPubKey"`
	Nickname         string `json:"nickname,omitempty"`
	Online           bool   `json:"online"`
	LastSeen         string `json:"lastSeen,omitempty"`
}

type RegisterSuccessFrame struct {
	Type   FrameType   `json:"type"`
	UserID string      `json:"userId"`
	User   HubUserView `json:"user"`
}

type AuthSuccessFrame struct {
	Type    FrameType `json:"type"`
	UserID  string    `json:"userId"`
	Success bool      `json:"success"`
}

type NewMessageFrame struct {
	Type    FrameType   `json:"type"`
	Message WireMessage `json:"message"`
}

type MessageSentFrame struct {
	Type    FrameType   `json:"type"`
	Message WireMessage `json:"message"`
}

type MessageHistoryFrame struct {
	Type        FrameType     `json:"type"`
	Messages    []WireMessage `json:"messages"`
	OtherUserID string        `json:"otherUserId"`
}

type MessageMarkedReadFrame struct {
	Type      FrameType `json:"type"`
	MessageID string    `json:"messageId"`
	Success   bool      `json:"success"`
}

type UsersListFrame struct {
	Type  FrameType     `json:"type"`
	Users []HubUserView `json:"users"`
}

type UserStatusUpdateFrame struct {
	Type     FrameType `json:"type"`
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
}

type ChatAddedFrame struct {
	Type     FrameType `json:"type"`
	UserID   string    `json:"user_id"`
	Nickname string    `json:"nickname,omitempty"`
}

type AddToChatSuccessFrame struct {
	Type         FrameType   `json:"type"`
	TargetUser   HubUserView `json:"target_user"`
}

type CallOfferFrame struct {
	Type      FrameType `json:"type"`
	From      string    `json:"from"`
	Offer     string    `json:"offer"`
	CallID    string    `json:"call_id"`
	Timestamp string    `json:"timestamp"`
}

type CallAnswerFrame struct {
	Type      FrameType `json:"type"`
	From      string    `json:"from"`
	Answer    string    `json:"answer"`
	CallID    string    `json:"call_id"`
	Timestamp string    `json:"timestamp"`
}

type CallCandidateOutFrame struct {
	Type      FrameType `json:"type"`
	From      string    `json:"from"`
	Candidate string    `json:"candidate"`
	CallID    string    `json:"call_id"`
	Timestamp string    `json:"timestamp"`
}

type CallEndOutFrame struct {
	Type      FrameType `json:"type"`
	From      string    `json:"from"`
	CallID    string    `json:"call_id"`
	Timestamp string    `json:"timestamp"`
}

type CallRestartOutFrame struct {
	Type      FrameType `json:"type"`
	From      string    `json:"from"`
	Offer     string    `json:"offer"`
	CallID    string    `json:"call_id"`
	Timestamp string    `json:"timestamp"`
}

type CallRestartAnswerOutFrame struct {
	Type      FrameType `json:"type"`
	From      string    `json:"from"`
	Answer    string    `json:"answer"`
	CallID    string    `json:"call_id"`
	Timestamp string    `json:"timestamp"`
}

type PongFrame struct {
	Type FrameType `json:"type"`
}

type ErrorFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}
