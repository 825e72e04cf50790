package otr

import "github.com/wren-im/go-wren/ids"

// Recipients maps qualified user identities to per-device ciphertexts. This is
// the payload shape submitted to the backend.
type Recipients map[ids.QualifiedID]map[string][]byte

func NewRecipients() Recipients {
	return make(Recipients)
}

func (r Recipients) Add(user ids.QualifiedID, device string, ciphertext []byte) {
	ciphers, ok := r[user]
	if !ok {
		ciphers = make(map[string][]byte)
		r[user] = ciphers
	}
	ciphers[device] = ciphertext
}

func (r Recipients) Get(user ids.QualifiedID, device string) []byte {
	ciphers, ok := r[user]
	if !ok {
		return nil
	}
	return ciphers[device]
}

// Merge unions another ciphertext set into this one. Entries for the same
// user are combined device by device, never overwritten wholesale.
func (r Recipients) Merge(other Recipients) {
	for user, ciphers := range other {
		for device, ciphertext := range ciphers {
			r.Add(user, device, ciphertext)
		}
	}
}

// Devices projects the set down to a directory of covered devices.
func (r Recipients) Devices() Directory {
	d := NewDirectory()
	for user, ciphers := range r {
		for device := range ciphers {
			d.Add(user, device)
		}
	}
	return d
}

func (r Recipients) Size() int {
	n := 0
	for _, ciphers := range r {
		n += len(ciphers)
	}
	return n
}

// An Envelope is one logical message addressed to a set of devices, tagged
// with the sending device so the backend can compute which devices are
// missing from Recipients.
type Envelope struct {
	Sender     string     `json:"sender"`
	Recipients Recipients `json:"recipients"`
}

func NewEnvelope(sender string) *Envelope {
	return &Envelope{Sender: sender, Recipients: NewRecipients()}
}
