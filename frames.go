package campuslink

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Frame type constants
// ============================================================================

// Server -> client frame types.
const (
	frameMessage     = "message"
	frameTyping      = "typing"
	frameUserStatus  = "user_status"
	frameReadReceipt = "read_receipt"
	framePong        = "pong"
	frameError       = "error"
)

// Client -> server frame types.
const (
	frameSendMessage = "message"
	frameSendTyping  = "typing"
	frameMarkRead    = "read"
	framePing        = "ping"
)

// Presence status values carried by user_status frames.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ============================================================================
// Envelope
// ============================================================================

// Envelope holds the frame type and the raw JSON bytes for deferred parsing
// into a concrete frame struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw frame and extracts only the "type"
// field so the rest of the payload can be decoded once the type is known.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("campuslink: malformed frame: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("campuslink: frame missing \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ============================================================================
// Server -> client frames
// ============================================================================

// MessageFrame wraps a chat message delivered in real time.
type MessageFrame struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// TypingFrame signals that a user started or stopped typing in a
// conversation.
type TypingFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// UserStatusFrame announces a presence change for a user.
type UserStatusFrame struct {
	Type      string `json:"type"`
	UserID    int64  `json:"user_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ReadReceiptFrame tells participants that a user has read a conversation.
type ReadReceiptFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
}

// ErrorFrame carries a server-reported application error.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ============================================================================
// Client -> server frames
// ============================================================================

type sendMessageFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
}

type sendTypingFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type markReadFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
}

type pingFrame struct {
	Type string `json:"type"`
}
