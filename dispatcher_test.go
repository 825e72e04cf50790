package wren

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wren-im/go-wren/config"
	"github.com/wren-im/go-wren/ids"
)

func newEvent(typ string, data Payload) *Event {
	return &Event{
		ID:           ids.NewID(),
		Type:         typ,
		From:         ids.NewQualifiedID(ids.NewID(), "alpha.example"),
		Conversation: ids.NewQualifiedID(ids.NewID(), "alpha.example"),
		Time:         time.Now(),
		Data:         data,
	}
}

func TestProcessOtrMessage(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	ev := newEvent(EventOtrMessageAdd, &MessageData{Sender: "a1", Ciphertext: []byte("cipher")})
	require.Nil(tc.client.ProcessEvent(ev))

	require.Len(tc.handler.messages, 1)
	msg := tc.handler.messages[0]
	require.Equal([]byte("pt:cipher"), msg.Plaintext)
	require.Equal("a1", msg.Sender)
	require.Equal(ev.From, msg.From)
	require.Equal(ev.Conversation, msg.Conversation)
}

func TestProcessOtrMessageDecryptError(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	tc.session.decryptErr = errors.New("bad mac")
	ev := newEvent(EventOtrMessageAdd, &MessageData{Sender: "a1", Ciphertext: []byte("cipher")})
	require.NotNil(tc.client.ProcessEvent(ev))
	require.Empty(tc.handler.messages)
}

func TestProcessMlsMessage(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	tc.backend.conv = &Conversation{GroupID: []byte("group-1")}
	ev := newEvent(EventMlsMessageAdd, &MessageData{Ciphertext: []byte("cipher")})
	require.Nil(tc.client.ProcessEvent(ev))

	require.Len(tc.handler.messages, 1)
	require.Equal([]byte("gpt:cipher"), tc.handler.messages[0].Plaintext)
}

func TestProcessMlsMessageWithoutGroup(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	tc.backend.conv = &Conversation{}
	ev := newEvent(EventMlsMessageAdd, &MessageData{Ciphertext: []byte("cipher")})
	require.NotNil(tc.client.ProcessEvent(ev))
}

func TestProcessWelcome(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	tc.group.welcomeGroupID = []byte("group-2")
	tc.group.packageCount = 100
	ev := newEvent(EventMlsWelcome, &MessageData{Ciphertext: []byte("welcome")})
	require.Nil(tc.client.ProcessEvent(ev))

	require.Len(tc.handler.system, 1)
	require.Equal(SystemNewConversation, tc.handler.system[0].Type)
	require.Equal(ev.Conversation, tc.handler.system[0].Conversation.ID)
}

func TestProcessWelcomeReplenishesKeyPackages(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	tc.group.welcomeGroupID = []byte("group-2")
	tc.group.packageCount = tc.client.config.KeyPackageMinCount - 1
	ev := newEvent(EventMlsWelcome, &MessageData{Ciphertext: []byte("welcome")})
	require.Nil(tc.client.ProcessEvent(ev))

	require.Equal(tc.client.config.KeyPackageReplenishCount, tc.group.generated)
	require.Len(tc.backend.uploadedPackages, tc.client.config.KeyPackageReplenishCount)
}

func TestProcessWelcomeError(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	tc.group.welcomeErr = errors.New("no matching key package")
	ev := newEvent(EventMlsWelcome, &MessageData{Ciphertext: []byte("welcome")})
	require.NotNil(tc.client.ProcessEvent(ev))
	require.Empty(tc.handler.system)
}

func TestMemberJoinWithSelfMatchesCreate(t *testing.T) {
	require := require.New(t)

	other := ids.NewQualifiedID(ids.NewID(), "beta.example")

	created := newTestClient()
	createEv := newEvent(EventCreate, &ConversationData{
		Name:    "plans",
		Creator: other,
		Members: []ids.QualifiedID{other},
	})
	require.Nil(created.client.ProcessEvent(createEv))

	joined := newTestClient()
	joined.backend.conv = &Conversation{
		ID:      ids.NewQualifiedID(ids.NewID(), "alpha.example"),
		Name:    "plans",
		Creator: other,
		Members: []ids.QualifiedID{other},
	}
	joinEv := newEvent(EventMemberJoin, &MemberData{
		UserIDs: []ids.QualifiedID{joined.self},
	})
	require.Nil(joined.client.ProcessEvent(joinEv))

	require.Len(created.handler.system, 1)
	require.Len(joined.handler.system, 1)
	fromCreate := created.handler.system[0]
	fromJoin := joined.handler.system[0]

	require.Equal(SystemNewConversation, fromCreate.Type)
	require.Equal(fromCreate.Type, fromJoin.Type)
	require.Equal([]ids.QualifiedID{other, created.self}, fromCreate.Conversation.Members)
	require.Equal([]ids.QualifiedID{other, joined.self}, fromJoin.Conversation.Members)
}

func TestMemberJoinOthers(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	users := []ids.QualifiedID{
		ids.NewQualifiedID(ids.NewID(), "beta.example"),
		ids.NewQualifiedID(ids.NewID(), "beta.example"),
	}
	require.Nil(tc.client.ProcessEvent(newEvent(EventMemberJoin, &MemberData{UserIDs: users})))

	require.Len(tc.handler.system, 1)
	require.Equal(SystemMemberJoin, tc.handler.system[0].Type)
	require.Equal(users, tc.handler.system[0].Users)
}

func TestMemberJoinSameIDOtherDomain(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	// same id, different backend: a distinct identity, not us
	twin := ids.NewQualifiedID(tc.self.ID, "beta.example")
	require.Nil(tc.client.ProcessEvent(newEvent(EventMemberJoin, &MemberData{UserIDs: []ids.QualifiedID{twin}})))

	require.Len(tc.handler.system, 1)
	require.Equal(SystemMemberJoin, tc.handler.system[0].Type)
	require.Equal([]ids.QualifiedID{twin}, tc.handler.system[0].Users)
}

func TestMemberJoinReplenishesPreKeys(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	tc.backend.prekeyCount = tc.client.config.PrekeyFloor - 1
	other := ids.NewQualifiedID(ids.NewID(), "beta.example")
	require.Nil(tc.client.ProcessEvent(newEvent(EventMemberJoin, &MemberData{UserIDs: []ids.QualifiedID{other}})))

	require.Len(tc.backend.uploadedPreKeys, tc.client.config.PrekeyFloor)
}

func TestMemberJoinPreKeysAtFloor(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	tc.backend.prekeyCount = tc.client.config.PrekeyFloor
	other := ids.NewQualifiedID(ids.NewID(), "beta.example")
	require.Nil(tc.client.ProcessEvent(newEvent(EventMemberJoin, &MemberData{UserIDs: []ids.QualifiedID{other}})))

	require.Empty(tc.backend.uploadedPreKeys)
	require.Equal(0, tc.session.minted)
}

func TestReplenishFailureDoesNotFailEvent(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	tc.backend.countErr = errors.New("backend down")
	tc.group.countErr = errors.New("backend down")
	other := ids.NewQualifiedID(ids.NewID(), "beta.example")
	require.Nil(tc.client.ProcessEvent(newEvent(EventMemberJoin, &MemberData{UserIDs: []ids.QualifiedID{other}})))
	require.Len(tc.handler.system, 1)
}

func TestMemberLeaveSelf(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	require.Nil(tc.client.ProcessEvent(newEvent(EventMemberLeave, &MemberData{UserIDs: []ids.QualifiedID{tc.self}})))

	require.Len(tc.handler.system, 1)
	require.Equal(SystemRemoved, tc.handler.system[0].Type)
}

func TestMemberLeaveOthers(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	other := ids.NewQualifiedID(ids.NewID(), "beta.example")
	require.Nil(tc.client.ProcessEvent(newEvent(EventMemberLeave, &MemberData{UserIDs: []ids.QualifiedID{other}})))

	require.Len(tc.handler.system, 1)
	require.Equal(SystemMemberLeave, tc.handler.system[0].Type)
}

func TestMemberLeaveEmpty(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	require.Nil(tc.client.ProcessEvent(newEvent(EventMemberLeave, &MemberData{UserIDs: []ids.QualifiedID{}})))
	require.Empty(tc.handler.system)
}

func TestConversationRename(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	ev := newEvent(EventRename, &ConversationData{Name: "new name"})
	require.Nil(tc.client.ProcessEvent(ev))

	require.Len(tc.handler.system, 1)
	require.Equal(SystemConversationRename, tc.handler.system[0].Type)
	require.Equal("new name", tc.handler.system[0].Conversation.Name)
}

func TestConversationDelete(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	require.Nil(tc.client.ProcessEvent(newEvent(EventDelete, &ConversationData{})))

	require.Len(tc.handler.system, 1)
	require.Equal(SystemConversationDelete, tc.handler.system[0].Type)
}

func TestConnectionAccepted(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	tc.handler.accept = true
	from := ids.NewQualifiedID(ids.NewID(), "beta.example")
	conv := ids.NewQualifiedID(ids.NewID(), "alpha.example")
	ev := newEvent(EventConnection, &ConnectionData{From: from, To: tc.self, Status: "pending", Conversation: conv})
	require.Nil(tc.client.ProcessEvent(ev))

	require.Equal([]ids.QualifiedID{from}, tc.backend.accepted)
	require.Len(tc.handler.system, 1)
	require.Equal(SystemNewConversation, tc.handler.system[0].Type)
	require.Equal(conv, tc.handler.system[0].Conversation.ID)
}

func TestConnectionRejected(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	from := ids.NewQualifiedID(ids.NewID(), "beta.example")
	ev := newEvent(EventConnection, &ConnectionData{From: from, To: tc.self, Status: "pending"})
	require.Nil(tc.client.ProcessEvent(ev))

	require.Empty(tc.backend.accepted)
	require.Empty(tc.handler.system)
}

func TestUnknownEventDropped(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	require.Nil(tc.client.ProcessEvent(newEvent("conversation.typing", nil)))
	require.Empty(tc.handler.system)
	require.Empty(tc.handler.messages)
}

func TestMalformedPayloadFailsSingleEvent(t *testing.T) {
	require := require.New(t)

	tc := newTestClient()
	require.NotNil(tc.client.ProcessEvent(newEvent(EventOtrMessageAdd, nil)))

	// the stream is fine, the next event still dispatches
	require.Nil(tc.client.ProcessEvent(newEvent(EventOtrMessageAdd, &MessageData{Sender: "a1", Ciphertext: []byte("c")})))
	require.Len(tc.handler.messages, 1)
}

func TestConfigThresholds(t *testing.T) {
	require := require.New(t)

	tc := newTestClient(config.WithPrekeyFloor(3), config.WithKeyPackageMinCount(5), config.WithKeyPackageReplenishCount(9))
	tc.backend.prekeyCount = 2
	tc.group.packageCount = 4
	other := ids.NewQualifiedID(ids.NewID(), "beta.example")
	require.Nil(tc.client.ProcessEvent(newEvent(EventMemberJoin, &MemberData{UserIDs: []ids.QualifiedID{other}})))

	require.Len(tc.backend.uploadedPreKeys, 3)
	require.Len(tc.backend.uploadedPackages, 9)
}
