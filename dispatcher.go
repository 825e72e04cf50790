package wren

import (
	"fmt"

	"github.com/wren-im/go-wren/ids"
)

// ProcessEvent classifies one inbound event, selects the decryption path by
// event type and emits normalized output to the handler. Each event is an
// independent unit of failure: an error here is fatal to this event only and
// must not abort the event stream. Unrecognized event types are logged and
// dropped, never an error.
func (c *Client) ProcessEvent(ev *Event) error {
	switch ev.Type {
	case EventOtrMessageAdd:
		data, ok := ev.Data.(*MessageData)
		if !ok {
			return malformed(ev)
		}
		c.log.Infof("otr-message-add: from %s:%s", ev.From, data.Sender)
		plaintext, err := c.session.Decrypt(ev.From, data.Sender, data.Ciphertext)
		if err != nil {
			return fmt.Errorf("wren: decrypting pairwise message: %w", err)
		}
		c.handler.OnMessage(c, c.message(ev, data.Sender, plaintext))
	case EventMlsMessageAdd:
		data, ok := ev.Data.(*MessageData)
		if !ok {
			return malformed(ev)
		}
		conv, err := c.backend.Conversation()
		if err != nil {
			return err
		}
		if len(conv.GroupID) == 0 {
			return fmt.Errorf("wren: group message for conversation %s without group id", ev.Conversation)
		}
		c.log.Infof("mls-message-add: from %s in group %x", ev.From, conv.GroupID)
		plaintext, err := c.group.Decrypt(conv.GroupID, data.Ciphertext)
		if err != nil {
			return fmt.Errorf("wren: decrypting group message: %w", err)
		}
		c.handler.OnMessage(c, c.message(ev, data.Sender, plaintext))
	case EventMlsWelcome:
		data, ok := ev.Data.(*MessageData)
		if !ok {
			return malformed(ev)
		}
		c.log.Infof("mls-welcome: in %s", ev.Conversation)
		groupID, err := c.group.ProcessWelcome(data.Ciphertext)
		if err != nil {
			return fmt.Errorf("wren: processing welcome: %w", err)
		}
		c.log.Debugf("joined group %x", groupID)
		c.checkKeyPackages()
		c.handler.OnNewConversation(c, c.systemMessage(ev, SystemNewConversation))
	case EventMemberJoin:
		data, ok := ev.Data.(*MemberData)
		if !ok {
			return malformed(ev)
		}
		others, hadSelf := withoutSelf(data.UserIDs, c.self)
		if hadSelf {
			// Being added to a conversation looks the same as the
			// conversation being created.
			conv, err := c.backend.Conversation()
			if err != nil {
				return err
			}
			conv.Members = appendSelf(conv.Members, c.self)
			m := c.systemMessage(ev, SystemNewConversation)
			m.Conversation = conv
			c.handler.OnNewConversation(c, m)
			return nil
		}

		c.validatePreKeys(len(others))
		c.checkKeyPackages()

		m := c.systemMessage(ev, SystemMemberJoin)
		m.Users = data.UserIDs
		c.handler.OnMemberJoin(c, m)
	case EventMemberLeave:
		data, ok := ev.Data.(*MemberData)
		if !ok {
			return malformed(ev)
		}
		others, hadSelf := withoutSelf(data.UserIDs, c.self)
		if hadSelf {
			m := c.systemMessage(ev, SystemRemoved)
			m.Users = data.UserIDs
			c.handler.OnRemoved(c, m)
			return nil
		}
		if len(others) == 0 {
			return nil
		}
		m := c.systemMessage(ev, SystemMemberLeave)
		m.Users = data.UserIDs
		c.handler.OnMemberLeave(c, m)
	case EventDelete:
		c.handler.OnConversationDelete(c, c.systemMessage(ev, SystemConversationDelete))
	case EventCreate:
		data, ok := ev.Data.(*ConversationData)
		if !ok {
			return malformed(ev)
		}
		m := c.systemMessage(ev, SystemNewConversation)
		m.Conversation.Members = appendSelf(m.Conversation.Members, c.self)

		c.validatePreKeys(len(data.Members))
		c.checkKeyPackages()

		c.handler.OnNewConversation(c, m)
	case EventRename:
		c.handler.OnConversationRename(c, c.systemMessage(ev, SystemConversationRename))
	case EventConnection:
		data, ok := ev.Data.(*ConnectionData)
		if !ok {
			return malformed(ev)
		}
		c.log.Debugf("connection: from %s to %s status %s", data.From, data.To, data.Status)
		if !c.handler.OnConnectRequest(c, data.From, data.To, data.Status) {
			return nil
		}
		if err := c.backend.AcceptConnection(data.From); err != nil {
			return err
		}
		m := &SystemMessage{
			ID:           ev.ID,
			From:         data.From,
			Type:         SystemNewConversation,
			Time:         ev.Time,
			Conversation: &Conversation{ID: data.Conversation},
		}
		c.handler.OnNewConversation(c, m)
	default:
		c.log.Debugf("unknown event: %s", ev.Type)
	}
	return nil
}

func (c *Client) message(ev *Event, sender string, plaintext []byte) *Message {
	return &Message{
		EventID:      ev.ID,
		From:         ev.From,
		Sender:       sender,
		Conversation: ev.Conversation,
		Time:         ev.Time,
		Plaintext:    plaintext,
	}
}

func (c *Client) systemMessage(ev *Event, typ string) *SystemMessage {
	m := &SystemMessage{
		ID:           ev.ID,
		From:         ev.From,
		Type:         typ,
		Time:         ev.Time,
		Conversation: &Conversation{ID: ev.Conversation},
	}
	if data, ok := ev.Data.(*ConversationData); ok {
		m.Conversation.Name = data.Name
		m.Conversation.Creator = data.Creator
		m.Conversation.Members = data.Members
	}
	return m
}

func malformed(ev *Event) error {
	return fmt.Errorf("wren: malformed %s event", ev.Type)
}

func withoutSelf(users []ids.QualifiedID, self ids.QualifiedID) ([]ids.QualifiedID, bool) {
	others := make([]ids.QualifiedID, 0, len(users))
	hadSelf := false
	for _, user := range users {
		if user == self {
			hadSelf = true
			continue
		}
		others = append(others, user)
	}
	return others, hadSelf
}

func appendSelf(members []ids.QualifiedID, self ids.QualifiedID) []ids.QualifiedID {
	for _, member := range members {
		if member == self {
			return members
		}
	}
	return append(members, self)
}
