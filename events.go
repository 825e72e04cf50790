package wren

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wren-im/go-wren/ids"
)

// Backend event types this core recognizes.
const (
	EventOtrMessageAdd = "conversation.otr-message-add"
	EventMlsMessageAdd = "conversation.mls-message-add"
	EventMlsWelcome    = "conversation.mls-welcome"
	EventMemberJoin    = "conversation.member-join"
	EventMemberLeave   = "conversation.member-leave"
	EventDelete        = "conversation.delete"
	EventCreate        = "conversation.create"
	EventRename        = "conversation.rename"
	EventConnection    = "user.connection"
)

// Payload is the type-dependent part of an event, one variant per event
// category. Events with an unrecognized type carry a nil payload and are
// dropped by the dispatcher rather than failing.
type Payload interface {
	payload()
}

// MessageData carries a ciphertext: a pairwise message, a group message or a
// welcome blob, depending on the event type.
type MessageData struct {
	Sender     string
	Ciphertext []byte
}

type MemberData struct {
	UserIDs []ids.QualifiedID
}

type ConversationData struct {
	Name    string
	Creator ids.QualifiedID
	Members []ids.QualifiedID
}

type ConnectionData struct {
	From         ids.QualifiedID
	To           ids.QualifiedID
	Status       string
	Conversation ids.QualifiedID
}

func (*MessageData) payload()      {}
func (*MemberData) payload()       {}
func (*ConversationData) payload() {}
func (*ConnectionData) payload()   {}

// An Event is one inbound backend event. Constructed fresh per event and
// never mutated after dispatch.
type Event struct {
	ID           ids.ID
	Type         string
	From         ids.QualifiedID
	Conversation ids.QualifiedID
	Time         time.Time
	Data         Payload
}

type wireEvent struct {
	ID           ids.ID          `json:"id"`
	Type         string          `json:"type"`
	From         ids.QualifiedID `json:"from"`
	Conversation ids.QualifiedID `json:"conversation"`
	Time         time.Time       `json:"time"`
	Data         json.RawMessage `json:"data"`
}

type wireData struct {
	Sender  string            `json:"sender"`
	Text    []byte            `json:"text"`
	UserIDs []ids.QualifiedID `json:"user_ids"`
	Name    *string           `json:"name"`
	Creator ids.QualifiedID   `json:"creator"`
	Members []ids.QualifiedID `json:"members"`
}

type wireConnection struct {
	From         *ids.QualifiedID `json:"from"`
	To           *ids.QualifiedID `json:"to"`
	Status       string           `json:"status"`
	Conversation ids.QualifiedID  `json:"conversation"`
}

// ParseEvent decodes one backend event. Parsing fails closed: an event with
// an unrecognized type parses successfully with a nil payload, while a
// recognized type missing a required field is an error fatal to that single
// event only.
func ParseEvent(raw []byte) (*Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("wren: decoding event: %w", err)
	}

	ev := &Event{
		ID:           wire.ID,
		Type:         wire.Type,
		From:         wire.From,
		Conversation: wire.Conversation,
		Time:         wire.Time,
	}

	switch wire.Type {
	case EventOtrMessageAdd, EventMlsMessageAdd, EventMlsWelcome:
		var data wireData
		if err := unmarshalData(wire, &data); err != nil {
			return nil, err
		}
		if len(data.Text) == 0 {
			return nil, fmt.Errorf("wren: %s event without ciphertext", wire.Type)
		}
		if wire.Type == EventOtrMessageAdd && data.Sender == "" {
			return nil, fmt.Errorf("wren: %s event without sending device", wire.Type)
		}
		ev.Data = &MessageData{Sender: data.Sender, Ciphertext: data.Text}
	case EventMemberJoin, EventMemberLeave:
		var data wireData
		if err := unmarshalData(wire, &data); err != nil {
			return nil, err
		}
		if data.UserIDs == nil {
			return nil, fmt.Errorf("wren: %s event without user ids", wire.Type)
		}
		ev.Data = &MemberData{UserIDs: data.UserIDs}
	case EventCreate, EventRename:
		var data wireData
		if err := unmarshalData(wire, &data); err != nil {
			return nil, err
		}
		if wire.Type == EventRename && data.Name == nil {
			return nil, fmt.Errorf("wren: rename event without name")
		}
		payload := &ConversationData{Creator: data.Creator, Members: data.Members}
		if data.Name != nil {
			payload.Name = *data.Name
		}
		ev.Data = payload
	case EventDelete:
		ev.Data = &ConversationData{}
	case EventConnection:
		var data struct {
			Connection *wireConnection `json:"connection"`
		}
		if err := unmarshalData(wire, &data); err != nil {
			return nil, err
		}
		if data.Connection == nil || data.Connection.From == nil || data.Connection.To == nil {
			return nil, fmt.Errorf("wren: connection event without endpoints")
		}
		ev.Data = &ConnectionData{
			From:         *data.Connection.From,
			To:           *data.Connection.To,
			Status:       data.Connection.Status,
			Conversation: data.Connection.Conversation,
		}
	default:
		// Unknown type; the dispatcher logs and drops it.
	}
	return ev, nil
}

func unmarshalData(wire wireEvent, v interface{}) error {
	if wire.Data == nil {
		return fmt.Errorf("wren: %s event without data", wire.Type)
	}
	if err := json.Unmarshal(wire.Data, v); err != nil {
		return fmt.Errorf("wren: decoding %s data: %w", wire.Type, err)
	}
	return nil
}
