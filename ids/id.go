// This package defines the identity types used throughout wren. IDs are random
// 16-byte values; users and conversations are addressed by a qualified
// identity, an ID plus the domain of the backend it originates from.
package ids

import (
	crypto_rand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

type ID [16]byte

func NewID() ID {
	var id [16]byte
	_, err := io.ReadFull(crypto_rand.Reader, id[:])
	if err != nil {
		panic("short read from random source")
	}
	return id
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("ids: decoding id: %w", err)
	}
	if len(decoded) != 16 {
		return fmt.Errorf("ids: expected 16 bytes, got %d", len(decoded))
	}
	copy(id[:], decoded)
	return nil
}

// A QualifiedID names a user or conversation across federated backends. An
// empty Domain means the local backend, which is distinct from any explicit
// domain. The zero value is comparable and usable as a map key.
type QualifiedID struct {
	ID     ID     `json:"id"`
	Domain string `json:"domain,omitempty"`
}

func NewQualifiedID(id ID, domain string) QualifiedID {
	return QualifiedID{ID: id, Domain: domain}
}

func (q QualifiedID) String() string {
	if q.Domain == "" {
		return q.ID.String()
	}
	return fmt.Sprintf("%s@%s", q.ID, q.Domain)
}
