package store

import "time"

// Roles of a chat turn as persisted in the history log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is the durable shadow of one user's live connection. It is created
// on connect, mutated on each user turn and on disconnect, and expires after
// the retention window if untouched.
type Session struct {
	UserID         string     `json:"user_id"`
	ClientIP       string     `json:"ip"`
	ConnectTime    time.Time  `json:"connect_time"`
	DisconnectTime *time.Time `json:"disconnect_time,omitempty"`
	TotalMessages  int        `json:"total_messages"`
}

// Context carries everything the agent may want to recall about a user
// across conversations. Created lazily on the first update.
type Context struct {
	UserID            string            `json:"user_id"`
	FirstContact      time.Time         `json:"first_contact"`
	LastUpdated       time.Time         `json:"last_updated"`
	ConversationCount int               `json:"conversation_count"`
	Company           string            `json:"company,omitempty"`
	IsCorporate       bool              `json:"is_corporate"`
	Preferences       map[string]string `json:"preferences"`
	ViewedCourses     []string          `json:"viewed_courses"`
}

// ContextUpdate is a shallow patch applied by UpdateContext. Nil pointer
// fields leave the stored value untouched; Preferences entries are merged
// key by key; ViewedCourses are appended with duplicates dropped.
type ContextUpdate struct {
	Company       *string
	IsCorporate   *bool
	Preferences   map[string]string
	ViewedCourses []string
}

// HistoryEntry is one role-tagged turn of a conversation.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
}
