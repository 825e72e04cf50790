package wren

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wren-im/go-wren/ids"
)

func marshalEvent(t *testing.T, typ string, data interface{}) []byte {
	raw, err := json.Marshal(map[string]interface{}{
		"id":           ids.NewID(),
		"type":         typ,
		"from":         ids.NewQualifiedID(ids.NewID(), "alpha.example"),
		"conversation": ids.NewQualifiedID(ids.NewID(), "alpha.example"),
		"time":         time.Now().UTC(),
		"data":         data,
	})
	require.Nil(t, err)
	return raw
}

func TestParseOtrMessage(t *testing.T) {
	require := require.New(t)

	raw := marshalEvent(t, EventOtrMessageAdd, map[string]interface{}{
		"sender": "a1",
		"text":   []byte("cipher"),
	})
	ev, err := ParseEvent(raw)
	require.Nil(err)
	require.Equal(EventOtrMessageAdd, ev.Type)

	data, ok := ev.Data.(*MessageData)
	require.True(ok)
	require.Equal("a1", data.Sender)
	require.Equal([]byte("cipher"), data.Ciphertext)
}

func TestParseOtrMessageWithoutSender(t *testing.T) {
	require := require.New(t)

	raw := marshalEvent(t, EventOtrMessageAdd, map[string]interface{}{
		"text": []byte("cipher"),
	})
	_, err := ParseEvent(raw)
	require.NotNil(err)
}

func TestParseMlsMessage(t *testing.T) {
	require := require.New(t)

	raw := marshalEvent(t, EventMlsMessageAdd, map[string]interface{}{
		"text": []byte("cipher"),
	})
	ev, err := ParseEvent(raw)
	require.Nil(err)

	data, ok := ev.Data.(*MessageData)
	require.True(ok)
	require.Equal([]byte("cipher"), data.Ciphertext)
}

func TestParseMessageWithoutCiphertext(t *testing.T) {
	require := require.New(t)

	raw := marshalEvent(t, EventMlsWelcome, map[string]interface{}{})
	_, err := ParseEvent(raw)
	require.NotNil(err)
}

func TestParseMemberJoin(t *testing.T) {
	require := require.New(t)

	users := []ids.QualifiedID{
		ids.NewQualifiedID(ids.NewID(), "alpha.example"),
		ids.NewQualifiedID(ids.NewID(), ""),
	}
	raw := marshalEvent(t, EventMemberJoin, map[string]interface{}{
		"user_ids": users,
	})
	ev, err := ParseEvent(raw)
	require.Nil(err)

	data, ok := ev.Data.(*MemberData)
	require.True(ok)
	require.Equal(users, data.UserIDs)
}

func TestParseMemberLeaveWithoutUsers(t *testing.T) {
	require := require.New(t)

	raw := marshalEvent(t, EventMemberLeave, map[string]interface{}{})
	_, err := ParseEvent(raw)
	require.NotNil(err)
}

func TestParseCreate(t *testing.T) {
	require := require.New(t)

	creator := ids.NewQualifiedID(ids.NewID(), "alpha.example")
	raw := marshalEvent(t, EventCreate, map[string]interface{}{
		"name":    "plans",
		"creator": creator,
		"members": []ids.QualifiedID{creator},
	})
	ev, err := ParseEvent(raw)
	require.Nil(err)

	data, ok := ev.Data.(*ConversationData)
	require.True(ok)
	require.Equal("plans", data.Name)
	require.Equal(creator, data.Creator)
	require.Len(data.Members, 1)
}

func TestParseRenameWithoutName(t *testing.T) {
	require := require.New(t)

	raw := marshalEvent(t, EventRename, map[string]interface{}{})
	_, err := ParseEvent(raw)
	require.NotNil(err)
}

func TestParseConnection(t *testing.T) {
	require := require.New(t)

	from := ids.NewQualifiedID(ids.NewID(), "beta.example")
	to := ids.NewQualifiedID(ids.NewID(), "alpha.example")
	conv := ids.NewQualifiedID(ids.NewID(), "alpha.example")
	raw := marshalEvent(t, EventConnection, map[string]interface{}{
		"connection": map[string]interface{}{
			"from":         from,
			"to":           to,
			"status":       "pending",
			"conversation": conv,
		},
	})
	ev, err := ParseEvent(raw)
	require.Nil(err)

	data, ok := ev.Data.(*ConnectionData)
	require.True(ok)
	require.Equal(from, data.From)
	require.Equal(to, data.To)
	require.Equal("pending", data.Status)
	require.Equal(conv, data.Conversation)
}

func TestParseConnectionWithoutEndpoints(t *testing.T) {
	require := require.New(t)

	raw := marshalEvent(t, EventConnection, map[string]interface{}{
		"connection": map[string]interface{}{"status": "pending"},
	})
	_, err := ParseEvent(raw)
	require.NotNil(err)
}

func TestParseUnknownType(t *testing.T) {
	require := require.New(t)

	raw := marshalEvent(t, "conversation.typing", map[string]interface{}{"status": "started"})
	ev, err := ParseEvent(raw)
	require.Nil(err)
	require.Nil(ev.Data)
	require.Equal("conversation.typing", ev.Type)
}

func TestParseGarbage(t *testing.T) {
	require := require.New(t)

	_, err := ParseEvent([]byte("not json"))
	require.NotNil(err)
}

func TestParseRoundTripFields(t *testing.T) {
	require := require.New(t)

	id := ids.NewID()
	from := ids.NewQualifiedID(ids.NewID(), "beta.example")
	conversation := ids.NewQualifiedID(ids.NewID(), "alpha.example")
	now := time.Now().UTC().Truncate(time.Second)

	raw, err := json.Marshal(map[string]interface{}{
		"id":           id,
		"type":         EventDelete,
		"from":         from,
		"conversation": conversation,
		"time":         now,
	})
	require.Nil(err)

	ev, err := ParseEvent(raw)
	require.Nil(err)
	require.Equal(id, ev.ID)
	require.Equal(from, ev.From)
	require.Equal(conversation, ev.Conversation)
	require.True(now.Equal(ev.Time))
}
