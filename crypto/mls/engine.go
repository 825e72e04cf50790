// This package implements the group engine behind the crypto.GroupCrypto
// port. Groups are keyed by an opaque group id and protected by a shared
// group secret. Key packages play the role prekeys play for pairwise
// sessions: a member adds a newcomer by sealing the group secret to one of
// the newcomer's published key packages and handing the result back through
// the backend as a welcome.
//
// A production deployment would swap this for a full MLS stack; the wire
// shapes here (key package, welcome, group info, commit bundle) mirror the
// ones that stack would carry.
package mls

import (
	crypto_rand "crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/kevinburke/nacl/box"
	"github.com/wren-im/go-wren/config"
	"github.com/wren-im/go-wren/crypto"
	"github.com/wren-im/go-wren/ids"
	"go.uber.org/zap"
)

type keyPackageWire struct {
	ID     uint32          `cbor:"1,keyasint"`
	Key    []byte          `cbor:"2,keyasint"`
	User   ids.QualifiedID `cbor:"3,keyasint"`
	Device string          `cbor:"4,keyasint"`
}

type welcomeEntry struct {
	PackageID uint32 `cbor:"1,keyasint"`
	Sealed    []byte `cbor:"2,keyasint"`
}

type welcomeWire struct {
	GroupID []byte         `cbor:"1,keyasint"`
	Entries []welcomeEntry `cbor:"2,keyasint"`
}

type groupInfoWire struct {
	GroupID []byte `cbor:"1,keyasint"`
	Secret  []byte `cbor:"2,keyasint"`
}

type commitBundleWire struct {
	GroupID []byte `cbor:"1,keyasint"`
	Commit  []byte `cbor:"2,keyasint"`
}

type keyPackage struct {
	pub  []byte
	priv []byte
}

type Engine struct {
	log    *zap.SugaredLogger
	user   ids.QualifiedID
	device string

	mu       sync.Mutex
	groups   map[string][]byte
	pending  map[string][]byte
	packages map[uint32]*keyPackage
	nextID   uint32
}

func NewEngine(c *config.Config, user ids.QualifiedID, device string) *Engine {
	return &Engine{
		log:      c.Logger("mls"),
		user:     user,
		device:   device,
		groups:   make(map[string][]byte),
		pending:  make(map[string][]byte),
		packages: make(map[uint32]*keyPackage),
		nextID:   1,
	}
}

var _ crypto.GroupCrypto = (*Engine)(nil)

// CreateGroup establishes fresh local state for a group this client
// originates. Joining an existing group happens through ProcessWelcome or
// JoinRequest/AcceptCommit instead.
func (e *Engine) CreateGroup(groupID []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.groups[string(groupID)]; ok {
		return fmt.Errorf("mls: group %x already exists", groupID)
	}
	secret := make([]byte, 32)
	if _, err := io.ReadFull(crypto_rand.Reader, secret); err != nil {
		return err
	}
	e.groups[string(groupID)] = secret
	return nil
}

func (e *Engine) Encrypt(groupID, plaintext []byte) ([]byte, error) {
	secret, err := e.secretFor(groupID)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.SealWithKey(secret, plaintext, groupID)
	if err != nil {
		return nil, fmt.Errorf("mls: %w", err)
	}
	return sealed, nil
}

func (e *Engine) Decrypt(groupID, ciphertext []byte) ([]byte, error) {
	secret, err := e.secretFor(groupID)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.OpenWithKey(secret, ciphertext, groupID)
	if err != nil {
		return nil, fmt.Errorf("mls: %w", err)
	}
	return plaintext, nil
}

func (e *Engine) secretFor(groupID []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	secret, ok := e.groups[string(groupID)]
	if !ok {
		return nil, fmt.Errorf("mls: unknown group %x", groupID)
	}
	return secret, nil
}

// GenerateKeyPackages mints count key packages, keeping the private halves
// for welcome processing.
func (e *Engine) GenerateKeyPackages(count int) ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	packages := make([][]byte, 0, count)
	for i := 0; i != count; i++ {
		pub, priv, err := box.GenerateKey(crypto_rand.Reader)
		if err != nil {
			return nil, err
		}
		id := e.nextID
		e.nextID++
		e.packages[id] = &keyPackage{pub: pub[:], priv: priv[:]}
		encoded, err := cbor.Marshal(&keyPackageWire{
			ID:     id,
			Key:    pub[:],
			User:   e.user,
			Device: e.device,
		})
		if err != nil {
			return nil, err
		}
		packages = append(packages, encoded)
	}
	return packages, nil
}

func (e *Engine) ValidKeyPackageCount() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.packages), nil
}

// AddMember seals the group secret to each key package and returns one
// welcome blob covering all of them.
func (e *Engine) AddMember(groupID []byte, keyPackages [][]byte) ([]byte, error) {
	secret, err := e.secretFor(groupID)
	if err != nil {
		return nil, err
	}
	welcome := &welcomeWire{GroupID: groupID}
	for _, encoded := range keyPackages {
		var pkg keyPackageWire
		if err := cbor.Unmarshal(encoded, &pkg); err != nil {
			return nil, fmt.Errorf("mls: decoding key package: %w", err)
		}
		key, err := crypto.KeyFromSlice(pkg.Key)
		if err != nil {
			return nil, fmt.Errorf("mls: key package %d: %w", pkg.ID, err)
		}
		sealed, err := crypto.SealToPublicKey(key, secret)
		if err != nil {
			return nil, fmt.Errorf("mls: %w", err)
		}
		welcome.Entries = append(welcome.Entries, welcomeEntry{PackageID: pkg.ID, Sealed: sealed})
	}
	return cbor.Marshal(welcome)
}

// ProcessWelcome opens the entry addressed to one of our key packages,
// installs the group and returns its id. The consumed key package is
// discarded; like prekeys, each one is single-use.
func (e *Engine) ProcessWelcome(welcome []byte) ([]byte, error) {
	var wire welcomeWire
	if err := cbor.Unmarshal(welcome, &wire); err != nil {
		return nil, fmt.Errorf("mls: decoding welcome: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range wire.Entries {
		pkg, ok := e.packages[entry.PackageID]
		if !ok {
			continue
		}
		secret, err := crypto.OpenWithPrivateKey(crypto.SliceToKey(pkg.priv), entry.Sealed)
		if err != nil {
			return nil, fmt.Errorf("mls: opening welcome: %w", err)
		}
		delete(e.packages, entry.PackageID)
		e.groups[string(wire.GroupID)] = secret
		return wire.GroupID, nil
	}
	return nil, fmt.Errorf("mls: welcome addresses none of our key packages")
}

// GroupInfo exports joinable state for an external join request. A real MLS
// stack derives this from the public group state; here the secret rides
// along because the reference engine has no tree to derive it from.
func (e *Engine) GroupInfo(groupID []byte) ([]byte, error) {
	secret, err := e.secretFor(groupID)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(&groupInfoWire{GroupID: groupID, Secret: secret})
}

// JoinRequest stages a pending join from group info and returns the commit
// bundle to submit to the backend. The join completes in AcceptCommit.
func (e *Engine) JoinRequest(groupInfo []byte) ([]byte, error) {
	var wire groupInfoWire
	if err := cbor.Unmarshal(groupInfo, &wire); err != nil {
		return nil, fmt.Errorf("mls: decoding group info: %w", err)
	}
	commit := make([]byte, 32)
	if _, err := io.ReadFull(crypto_rand.Reader, commit); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.pending[string(wire.GroupID)] = wire.Secret
	e.mu.Unlock()

	return cbor.Marshal(&commitBundleWire{GroupID: wire.GroupID, Commit: commit})
}

// AcceptCommit completes a join staged by JoinRequest after the backend has
// accepted the commit bundle.
func (e *Engine) AcceptCommit(groupID []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	secret, ok := e.pending[string(groupID)]
	if !ok {
		return fmt.Errorf("mls: no pending join for group %x", groupID)
	}
	delete(e.pending, string(groupID))
	e.groups[string(groupID)] = secret
	return nil
}
