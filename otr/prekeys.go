package otr

import (
	"github.com/wren-im/go-wren/ids"
)

// A PreKey is single-use public key material allowing session bootstrap with a
// device this client has no session for.
type PreKey struct {
	ID  uint32 `json:"id"`
	Key []byte `json:"key"`
}

// PreKeys holds one single-use prekey per (user, device) cell. It is a
// transient response shape; each bundle is consumed at most once when a
// session is bootstrapped.
type PreKeys struct {
	Bundles map[ids.QualifiedID]map[string]PreKey `json:"qualified_user_client_prekeys"`
}

func NewPreKeys() *PreKeys {
	return &PreKeys{Bundles: make(map[ids.QualifiedID]map[string]PreKey)}
}

// NewPreKeysForDevice builds a table populating exactly one (user, device)
// cell, the shape returned when bootstrapping a single device.
func NewPreKeysForDevice(keys []PreKey, device string, user ids.QualifiedID) *PreKeys {
	p := NewPreKeys()
	for _, key := range keys {
		p.Add(user, device, key)
	}
	return p
}

func (p *PreKeys) Add(user ids.QualifiedID, device string, key PreKey) {
	cells, ok := p.Bundles[user]
	if !ok {
		cells = make(map[string]PreKey)
		p.Bundles[user] = cells
	}
	cells[device] = key
}

// Count sums bundle entries across all users and devices. Diagnostics only.
func (p *PreKeys) Count() int {
	n := 0
	for _, cells := range p.Bundles {
		n += len(cells)
	}
	return n
}
