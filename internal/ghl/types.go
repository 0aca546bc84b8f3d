package ghl

// APIVersion is the versioned-API header value required on every business
// call.
const APIVersion = "2021-07-28"

// CredentialSet is the authentication state for one location. It is owned by
// the Client and mutated only by the refresh path.
type CredentialSet struct {
	AccessToken  string
	RefreshToken string
	LocationID   string
	// ExpiresIn is the advisory TTL in seconds reported with the last
	// refresh. Expiry is discovered reactively via 401s, not tracked.
	ExpiresIn int
}

// TokenResponse is the token triple returned by the authorization server for
// both the refresh_token and authorization_code grants.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Conversation is a messaging thread with one contact.
type Conversation struct {
	ID              string `json:"id"`
	ContactID       string `json:"contactId"`
	LocationID      string `json:"locationId"`
	FullName        string `json:"fullName,omitempty"`
	ContactName     string `json:"contactName,omitempty"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	LastMessageBody string `json:"lastMessageBody,omitempty"`
	LastMessageDate int64  `json:"lastMessageDate,omitempty"`
	UnreadCount     int    `json:"unreadCount,omitempty"`
	Starred         bool   `json:"starred,omitempty"`
}

// ConversationList is the payload of a conversation search.
type ConversationList struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// ConversationQuery narrows a conversation search.
type ConversationQuery struct {
	Limit  int
	Query  string
	Status string
}

// Message is a single inbound or outbound message in a conversation.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId,omitempty"`
	Body           string `json:"body,omitempty"`
	Type           string `json:"type,omitempty"`
	MessageType    string `json:"messageType,omitempty"`
	Direction      string `json:"direction,omitempty"`
	Status         string `json:"status,omitempty"`
	DateAdded      string `json:"dateAdded,omitempty"`
}

// MessageList is a page of messages for one conversation.
type MessageList struct {
	Messages      []Message `json:"messages"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	NextPage      bool      `json:"nextPage,omitempty"`
}

// SendMessageRequest sends an outbound message to a contact.
type SendMessageRequest struct {
	ContactID string `json:"contactId"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}

// SendMessageResult identifies the message and conversation created by a
// send.
type SendMessageResult struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// Contact is a CRM contact record.
type Contact struct {
	ID          string   `json:"id"`
	LocationID  string   `json:"locationId,omitempty"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	ContactName string   `json:"contactName,omitempty"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// ContactList is a page of contacts from a list or search call.
type ContactList struct {
	Contacts []Contact `json:"contacts"`
	Count    int       `json:"count,omitempty"`
	Total    int       `json:"total,omitempty"`
}

// CreateContactRequest creates a contact in the configured location.
type CreateContactRequest struct {
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Source    string   `json:"source,omitempty"`
}
