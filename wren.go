// This package provides the client-side protocol core of the wren messaging
// SDK. The client decides, for every outgoing message, which devices must
// receive it and how each copy is encrypted, and for every inbound backend
// event, which conversation transition and decryption path applies. The
// backend transport and the encryption engines are collaborators reached
// through narrow interfaces; the client owns no key material itself.
package wren

import (
	"github.com/wren-im/go-wren/config"
	"github.com/wren-im/go-wren/crypto"
	"github.com/wren-im/go-wren/ids"
	"github.com/wren-im/go-wren/otr"
	"go.uber.org/zap"
)

// A Conversation snapshot as the backend reports it. GroupID is set only for
// conversations using the group protocol.
type Conversation struct {
	ID      ids.QualifiedID   `json:"id"`
	Name    string            `json:"name,omitempty"`
	Creator ids.QualifiedID   `json:"creator,omitempty"`
	GroupID []byte            `json:"group_id,omitempty"`
	Members []ids.QualifiedID `json:"members,omitempty"`
}

// Backend is the transport surface this core consumes. SendMessage with an
// empty recipient set acts as a probe: the response enumerates the full
// current membership as missing devices.
type Backend interface {
	SendMessage(msg *otr.Envelope, ignoreMissing bool) (*otr.Devices, error)
	SendTargetedMessage(msg *otr.Envelope, user ids.QualifiedID) (*otr.Devices, error)
	FetchPreKeys(missing otr.Directory) (*otr.PreKeys, error)
	UploadPreKeys(keys []otr.PreKey) error
	AvailablePreKeyCount() (int, error)
	UploadKeyPackages(packages [][]byte) error
	Conversation() (*Conversation, error)
	AcceptConnection(user ids.QualifiedID) error
}

// A Client is bound to one bot identity, one device and one conversation.
type Client struct {
	config    *config.Config
	log       *zap.SugaredLogger
	backend   Backend
	session   crypto.SessionCrypto
	group     crypto.GroupCrypto
	handler   Handler
	self      ids.QualifiedID
	device    string
	directory *directoryCache
}

func New(c *config.Config, backend Backend, session crypto.SessionCrypto, group crypto.GroupCrypto, handler Handler, self ids.QualifiedID, device string) *Client {
	client := &Client{
		config:  c,
		log:     c.Logger("client"),
		backend: backend,
		session: session,
		group:   group,
		handler: handler,
		self:    self,
		device:  device,
	}
	client.directory = newDirectoryCache(client.probeDevices)
	return client
}

func (c *Client) Self() ids.QualifiedID {
	return c.self
}

func (c *Client) Device() string {
	return c.device
}

func (c *Client) Conversation() (*Conversation, error) {
	return c.backend.Conversation()
}
