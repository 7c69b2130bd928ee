package campuslink

// ============================================================================
// Shared REST / realtime payload types
// ============================================================================

// UserBasic is the compact user representation embedded in messages and
// participant lists.
type UserBasic struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is a chat message, both as delivered over the realtime connection
// and as returned by the REST history endpoints.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	Sender         *UserBasic `json:"sender,omitempty"`
	Content        string     `json:"content"`
	CreatedAt      string     `json:"created_at"`
	UpdatedAt      string     `json:"updated_at,omitempty"`
	IsEdited       bool       `json:"is_edited"`
	IsDeleted      bool       `json:"is_deleted"`
}

// Conversation types.
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Participant is one member of a conversation.
type Participant struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	User       *UserBasic `json:"user,omitempty"`
	JoinedAt   string     `json:"joined_at"`
	LeftAt     string     `json:"left_at,omitempty"`
	LastReadAt string     `json:"last_read_at,omitempty"`
	IsActive   bool       `json:"is_active"`
}

// Conversation is a direct or group chat.
type Conversation struct {
	ID           int64         `json:"id"`
	Type         string        `json:"type"`
	Name         string        `json:"name,omitempty"`
	Avatar       string        `json:"avatar,omitempty"`
	CreatedByID  int64         `json:"created_by_id,omitempty"`
	CreatedAt    string        `json:"created_at"`
	UpdatedAt    string        `json:"updated_at,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
}

// ConversationList is a paginated conversation listing.
type ConversationList struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	Page          int            `json:"page"`
	PageSize      int            `json:"page_size"`
}

// MessageList is a paginated message history page.
type MessageList struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// User is the full profile returned by the auth endpoints.
type User struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Slug       string `json:"slug,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	Status     string `json:"status,omitempty"`
	Occupation string `json:"occupation,omitempty"`
	Location   string `json:"location,omitempty"`
	Bio        string `json:"bio,omitempty"`
	IsBot      bool   `json:"is_bot"`
	JoinDate   string `json:"joinDate,omitempty"`
}

// Token is the credential pair issued by the auth endpoints.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         *User  `json:"user,omitempty"`
}

// ============================================================================
// Request options
// ============================================================================

// RegisterOptions creates a new account.
type RegisterOptions struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ConversationCreateOptions starts a direct or group conversation.
type ConversationCreateOptions struct {
	Type           string  `json:"type"`
	Name           string  `json:"name,omitempty"`
	ParticipantIDs []int64 `json:"participant_ids"`
}

// PageOptions selects a page of a listing endpoint.
type PageOptions struct {
	Page     int
	PageSize int
}

// ============================================================================
// API errors
// ============================================================================

// APIError is an error response from the REST API.
type APIError struct {
	StatusCode int    `json:"-"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return e.Detail
}
