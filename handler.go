package wren

import (
	"time"

	"github.com/wren-im/go-wren/ids"
)

// Normalized system message types emitted by the dispatcher. Handlers never
// see backend event type strings; membership changes that add this client are
// indistinguishable from conversation creation and are normalized to
// SystemNewConversation.
const (
	SystemNewConversation    = "system.new-conversation"
	SystemMemberJoin         = "system.member-join"
	SystemMemberLeave        = "system.member-leave"
	SystemRemoved            = "system.removed"
	SystemConversationDelete = "system.conversation-delete"
	SystemConversationRename = "system.conversation-rename"
)

// A SystemMessage is the dispatcher's normalized output for non-message
// events, decoupled from the wire event shape.
type SystemMessage struct {
	ID           ids.ID
	From         ids.QualifiedID
	Type         string
	Time         time.Time
	Conversation *Conversation
	Users        []ids.QualifiedID
}

// A Message is one decrypted application message. Plaintext is the decoded
// message envelope; turning it into typed message objects is the host's
// concern.
type Message struct {
	EventID      ids.ID
	From         ids.QualifiedID
	Sender       string
	Conversation ids.QualifiedID
	Time         time.Time
	Plaintext    []byte
}

// Handler receives normalized output from the event dispatcher. Handlers may
// trigger new sends; re-entrant calls back into the client are legal.
type Handler interface {
	OnMessage(c *Client, msg *Message)
	OnNewConversation(c *Client, m *SystemMessage)
	OnMemberJoin(c *Client, m *SystemMessage)
	OnMemberLeave(c *Client, m *SystemMessage)
	OnRemoved(c *Client, m *SystemMessage)
	OnConversationDelete(c *Client, m *SystemMessage)
	OnConversationRename(c *Client, m *SystemMessage)

	// OnConnectRequest decides whether a connection request or update should
	// be accepted. Returning true makes the client accept the connection and
	// emit a new-conversation message for the resulting one-to-one.
	OnConnectRequest(c *Client, from, to ids.QualifiedID, status string) bool
}

// BaseHandler is a no-op Handler for embedding, so handlers only implement
// the callbacks they care about.
type BaseHandler struct{}

func (BaseHandler) OnMessage(c *Client, msg *Message) {}

func (BaseHandler) OnNewConversation(c *Client, m *SystemMessage) {}

func (BaseHandler) OnMemberJoin(c *Client, m *SystemMessage) {}

func (BaseHandler) OnMemberLeave(c *Client, m *SystemMessage) {}

func (BaseHandler) OnRemoved(c *Client, m *SystemMessage) {}

func (BaseHandler) OnConversationDelete(c *Client, m *SystemMessage) {}

func (BaseHandler) OnConversationRename(c *Client, m *SystemMessage) {}
func (BaseHandler) OnConnectRequest(c *Client, from, to ids.QualifiedID, status string) bool {
	return false
}
