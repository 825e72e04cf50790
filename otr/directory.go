// This package defines the data model for the pairwise fan-out protocol: the
// device directory describing which devices a message must be encrypted for,
// the prekey table used to bootstrap sessions with fresh devices, and the
// per-device ciphertext set submitted to the backend.
package otr

import (
	"golang.org/x/exp/maps"

	"github.com/wren-im/go-wren/ids"
)

// A Directory maps qualified user identities to the set of their known device
// identifiers. A user with no devices may be absent from the map or map to an
// empty set; both mean "nothing to encrypt for this user".
type Directory map[ids.QualifiedID]map[string]bool

func NewDirectory() Directory {
	return make(Directory)
}

// Add unions the given devices into the user's set. It is idempotent and
// never removes entries; shrinking the directory happens only by discarding
// and rebuilding the whole thing.
func (d Directory) Add(user ids.QualifiedID, devices ...string) {
	set, ok := d[user]
	if !ok {
		set = make(map[string]bool, len(devices))
		d[user] = set
	}
	for _, device := range devices {
		set[device] = true
	}
}

// DevicesOf returns the device set for a user. Unknown users yield an empty
// set, never a failure.
func (d Directory) DevicesOf(user ids.QualifiedID) []string {
	set, ok := d[user]
	if !ok {
		return nil
	}
	return maps.Keys(set)
}

func (d Directory) UserIDs() []ids.QualifiedID {
	return maps.Keys(d)
}

// Filter returns a directory containing only the given user's devices.
func (d Directory) Filter(user ids.QualifiedID) Directory {
	filtered := NewDirectory()
	if set, ok := d[user]; ok {
		filtered[user] = maps.Clone(set)
	}
	return filtered
}

func (d Directory) Clone() Directory {
	cloned := make(Directory, len(d))
	for user, set := range d {
		cloned[user] = maps.Clone(set)
	}
	return cloned
}

func (d Directory) Empty() bool {
	for _, set := range d {
		if len(set) != 0 {
			return false
		}
	}
	return true
}

// Size counts devices across all users.
func (d Directory) Size() int {
	n := 0
	for _, set := range d {
		n += len(set)
	}
	return n
}

// Devices is the backend's report for a send: the devices the submitted
// ciphertext set did not cover, plus devices it covered needlessly or that no
// longer exist.
type Devices struct {
	Missing   Directory `json:"missing"`
	Redundant Directory `json:"redundant"`
	Deleted   Directory `json:"deleted"`
}

func NewDevices() *Devices {
	return &Devices{
		Missing:   NewDirectory(),
		Redundant: NewDirectory(),
		Deleted:   NewDirectory(),
	}
}
