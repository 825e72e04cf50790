package wren

import (
	"fmt"
	"sync"

	"github.com/wren-im/go-wren/ids"
	"github.com/wren-im/go-wren/otr"
)

// directoryCache holds the conversation's device directory between sends. It
// is rebuilt on demand by a zero-payload probe send; the backend answers an
// under-addressed send with the full membership as missing devices, which
// saves a separate membership query round trip. Invalidation after a
// missing-device retry bounds staleness to one send cycle.
//
// Two sends observing an absent cache may both probe; the probe is idempotent
// and cheap, but the replace below keeps whichever directory landed first so
// a concurrently fetched one is never lost.
type directoryCache struct {
	mu      sync.Mutex
	devices *otr.Devices
	probe   func() (*otr.Devices, error)
}

func newDirectoryCache(probe func() (*otr.Devices, error)) *directoryCache {
	return &directoryCache{probe: probe}
}

func (dc *directoryCache) current() (otr.Directory, error) {
	dc.mu.Lock()
	if dc.devices != nil && !dc.devices.Missing.Empty() {
		directory := dc.devices.Missing.Clone()
		dc.mu.Unlock()
		return directory, nil
	}
	dc.mu.Unlock()

	fresh, err := dc.probe()
	if err != nil {
		return nil, err
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.devices == nil || dc.devices.Missing.Empty() {
		dc.devices = fresh
	}
	return dc.devices.Missing.Clone(), nil
}

func (dc *directoryCache) invalidate() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.devices = nil
}

func (c *Client) probeDevices() (*otr.Devices, error) {
	res, err := c.backend.SendMessage(otr.NewEnvelope(c.device), false)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Send delivers one logical message to all current devices in the
// conversation. Devices with established sessions are covered in the first
// pass; devices the backend reports missing get prekey-bootstrapped sessions
// and a second submission. Devices still missing after that are logged as
// degraded delivery, not returned as an error.
func (c *Client) Send(content []byte) error {
	return c.post(content, nil)
}

// SendTo delivers one logical message to all devices of a single user. No
// ciphertext is produced for, or delivered to, anyone else even when the full
// conversation directory is cached.
func (c *Client) SendTo(user ids.QualifiedID, content []byte) error {
	return c.post(content, &user)
}

func (c *Client) post(content []byte, target *ids.QualifiedID) error {
	directory, err := c.directory.current()
	if err != nil {
		return err
	}
	if target != nil {
		directory = directory.Filter(*target)
	}

	recipients, err := c.session.Encrypt(directory, content)
	if err != nil {
		return fmt.Errorf("wren: encrypting for known sessions: %w", err)
	}
	msg := &otr.Envelope{Sender: c.device, Recipients: recipients}

	var res *otr.Devices
	if target != nil {
		res, err = c.backend.SendTargetedMessage(msg, *target)
	} else {
		res, err = c.backend.SendMessage(msg, false)
	}
	if err != nil {
		return err
	}
	if res.Missing.Empty() {
		return nil
	}

	// Fetch prekeys for the missing devices and encrypt for them. This time
	// bootstrapping the sessions.
	preKeys, err := c.backend.FetchPreKeys(res.Missing)
	if err != nil {
		return err
	}
	c.log.Debugf("fetched %d prekeys for %d devices", preKeys.Count(), res.Missing.Size())

	bootstrapped, err := c.session.EncryptWithPreKeys(preKeys, content)
	if err != nil {
		return fmt.Errorf("wren: encrypting with prekeys: %w", err)
	}
	msg.Recipients.Merge(bootstrapped)

	// Reset the directory so it gets rebuilt on the next send.
	c.directory.invalidate()

	res, err = c.backend.SendMessage(msg, true)
	if err != nil {
		return err
	}
	if !res.Missing.Empty() {
		c.log.Errorf("failed to reach %d devices after prekey retry", res.Missing.Size())
	}
	return nil
}
