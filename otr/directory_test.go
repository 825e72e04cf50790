package otr

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wren-im/go-wren/ids"
)

func TestDirectoryAddUnions(t *testing.T) {
	require := require.New(t)

	user := ids.NewQualifiedID(ids.NewID(), "alpha.example")
	d := NewDirectory()
	d.Add(user, "dev1", "dev2")
	d.Add(user, "dev2", "dev3")
	d.Add(user, "dev1")

	devices := d.DevicesOf(user)
	sort.Strings(devices)
	require.Equal([]string{"dev1", "dev2", "dev3"}, devices)
	require.Equal(3, d.Size())
}

func TestDirectoryUnknownUser(t *testing.T) {
	require := require.New(t)

	d := NewDirectory()
	d.Add(ids.NewQualifiedID(ids.NewID(), ""), "dev1")
	require.Empty(d.DevicesOf(ids.NewQualifiedID(ids.NewID(), "")))
}

func TestDirectoryDomainsDistinct(t *testing.T) {
	require := require.New(t)

	id := ids.NewID()
	local := ids.NewQualifiedID(id, "")
	federated := ids.NewQualifiedID(id, "beta.example")

	d := NewDirectory()
	d.Add(local, "dev1")
	d.Add(federated, "dev2")

	require.Equal([]string{"dev1"}, d.DevicesOf(local))
	require.Equal([]string{"dev2"}, d.DevicesOf(federated))
}

func TestDirectoryFilter(t *testing.T) {
	require := require.New(t)

	alice := ids.NewQualifiedID(ids.NewID(), "alpha.example")
	bob := ids.NewQualifiedID(ids.NewID(), "alpha.example")
	d := NewDirectory()
	d.Add(alice, "a1", "a2")
	d.Add(bob, "b1")

	filtered := d.Filter(alice)
	require.Equal(2, filtered.Size())
	require.Empty(filtered.DevicesOf(bob))
	require.True(d.Filter(ids.NewQualifiedID(ids.NewID(), "")).Empty())
}

func TestDirectoryCloneIsolated(t *testing.T) {
	require := require.New(t)

	alice := ids.NewQualifiedID(ids.NewID(), "")
	d := NewDirectory()
	d.Add(alice, "a1")

	cloned := d.Clone()
	cloned.Add(alice, "a2")
	require.Equal(1, d.Size())
	require.Equal(2, cloned.Size())
}

func TestRecipientsMerge(t *testing.T) {
	require := require.New(t)

	alice := ids.NewQualifiedID(ids.NewID(), "alpha.example")
	bob := ids.NewQualifiedID(ids.NewID(), "alpha.example")

	first := NewRecipients()
	first.Add(alice, "a1", []byte("ct-a1"))

	second := NewRecipients()
	second.Add(alice, "a2", []byte("ct-a2"))
	second.Add(bob, "b1", []byte("ct-b1"))

	first.Merge(second)
	require.Equal(3, first.Size())
	require.Equal([]byte("ct-a1"), first.Get(alice, "a1"))
	require.Equal([]byte("ct-a2"), first.Get(alice, "a2"))
	require.Equal([]byte("ct-b1"), first.Get(bob, "b1"))
}

func TestRecipientsDevices(t *testing.T) {
	require := require.New(t)

	alice := ids.NewQualifiedID(ids.NewID(), "")
	r := NewRecipients()
	r.Add(alice, "a1", []byte("ct"))
	r.Add(alice, "a2", []byte("ct"))

	devices := r.Devices().DevicesOf(alice)
	sort.Strings(devices)
	require.Equal([]string{"a1", "a2"}, devices)
}

func TestPreKeysForDevice(t *testing.T) {
	require := require.New(t)

	alice := ids.NewQualifiedID(ids.NewID(), "alpha.example")
	keys := []PreKey{{ID: 7, Key: []byte("pub")}}
	p := NewPreKeysForDevice(keys, "a1", alice)

	require.Equal(1, p.Count())
	require.Equal(uint32(7), p.Bundles[alice]["a1"].ID)
}

func TestPreKeysCount(t *testing.T) {
	require := require.New(t)

	alice := ids.NewQualifiedID(ids.NewID(), "")
	bob := ids.NewQualifiedID(ids.NewID(), "")
	p := NewPreKeys()
	p.Add(alice, "a1", PreKey{ID: 1})
	p.Add(alice, "a2", PreKey{ID: 2})
	p.Add(bob, "b1", PreKey{ID: 3})
	require.Equal(3, p.Count())
}
