// This package defines the narrow capability surfaces wren consumes from the
// end-to-end encryption engines, along with shared AEAD helpers. Session and
// group state is exclusively owned by the engines behind these interfaces;
// the protocol core only passes plaintext and ciphertext through.
package crypto

import (
	"github.com/wren-im/go-wren/ids"
	"github.com/wren-im/go-wren/otr"
)

// SessionCrypto is the pairwise (double-ratchet) engine. Encrypt covers only
// devices with established sessions and silently skips the rest;
// EncryptWithPreKeys bootstraps sessions for devices named in the table.
type SessionCrypto interface {
	Encrypt(directory otr.Directory, plaintext []byte) (otr.Recipients, error)
	EncryptWithPreKeys(preKeys *otr.PreKeys, plaintext []byte) (otr.Recipients, error)
	Decrypt(user ids.QualifiedID, device string, ciphertext []byte) ([]byte, error)
	NewPreKeys(count int) ([]otr.PreKey, error)
}

// GroupCrypto is the group-keyed (MLS) engine. Group ids are opaque byte
// strings assigned by the backend.
type GroupCrypto interface {
	Encrypt(groupID, plaintext []byte) ([]byte, error)
	Decrypt(groupID, ciphertext []byte) ([]byte, error)

	// ProcessWelcome materializes local group state from a welcome blob and
	// returns the group id it established.
	ProcessWelcome(welcome []byte) ([]byte, error)

	GenerateKeyPackages(count int) ([][]byte, error)
	ValidKeyPackageCount() (int, error)

	// AddMember seals group state to the given key packages and returns the
	// welcome blob for the new members.
	AddMember(groupID []byte, keyPackages [][]byte) ([]byte, error)

	// JoinRequest builds a commit bundle requesting to join the group
	// described by groupInfo; AcceptCommit completes the join once the
	// backend has accepted the bundle.
	JoinRequest(groupInfo []byte) ([]byte, error)
	AcceptCommit(groupID []byte) error
}
