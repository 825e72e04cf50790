// This package implements the pairwise session engine behind the
// crypto.SessionCrypto port. Each (user, device) pair gets its own
// double-ratchet session, persisted in the encrypted database. Sessions are
// bootstrapped from single-use prekeys: the sender derives a shared secret
// from an ephemeral keypair and the recipient's prekey, and prefixes the
// first message with the prekey id and the ephemeral public key so the
// recipient can derive the same secret.
package proteus

import (
	crypto_rand "crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/kevinburke/nacl/box"
	"github.com/status-im/doubleratchet"
	"github.com/wren-im/go-wren/config"
	"github.com/wren-im/go-wren/crypto"
	"github.com/wren-im/go-wren/ids"
	db "github.com/wren-im/go-wren/internal/db"
	"github.com/wren-im/go-wren/otr"
	"go.uber.org/zap"
)

// envelope is the cbor wire shape for one per-device ciphertext. EphemeralKey
// is present only on the first message of a bootstrapped session.
type envelope struct {
	PreKeyID     uint32 `cbor:"1,keyasint,omitempty"`
	EphemeralKey []byte `cbor:"2,keyasint,omitempty"`
	DH           []byte `cbor:"3,keyasint"`
	N            uint32 `cbor:"4,keyasint"`
	PN           uint32 `cbor:"5,keyasint"`
	Body         []byte `cbor:"6,keyasint"`
}

type Engine struct {
	config *config.Config
	log    *zap.SugaredLogger
	db     *database
}

func NewEngine(c *config.Config, d *db.Database) (*Engine, error) {
	database, err := newDatabase(c, d)
	if err != nil {
		return nil, err
	}
	return &Engine{
		config: c,
		log:    c.Logger("proteus"),
		db:     database,
	}, nil
}

var _ crypto.SessionCrypto = (*Engine)(nil)

// sessionID derives the stable storage key for a (user, device) pair.
func sessionID(user ids.QualifiedID, device string) []byte {
	h := sha256.New()
	h.Write(user.ID[:])
	h.Write([]byte{0})
	h.Write([]byte(user.Domain))
	h.Write([]byte{0})
	h.Write([]byte(device))
	return h.Sum(nil)
}

// Encrypt produces ciphertext for every device in the directory that already
// has an established session. Devices without one are skipped; the backend
// will report them missing and they get the prekey path instead.
func (e *Engine) Encrypt(directory otr.Directory, plaintext []byte) (otr.Recipients, error) {
	recipients := otr.NewRecipients()
	err := e.db.run("encrypt for known sessions", func() error {
		for _, user := range directory.UserIDs() {
			for _, device := range directory.DevicesOf(user) {
				id := sessionID(user, device)
				exists, err := e.db.sessionExists(id)
				if err != nil {
					return err
				}
				if !exists {
					e.log.Debugf("no session for %s:%s, skipping", user, device)
					continue
				}
				ciphertext, err := e.encryptSession(id, nil, 0, plaintext)
				if err != nil {
					return err
				}
				recipients.Add(user, device, ciphertext)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("proteus: %w", err)
	}
	return recipients, nil
}

// EncryptWithPreKeys bootstraps a session for every cell in the table and
// produces the first ciphertext for each.
func (e *Engine) EncryptWithPreKeys(preKeys *otr.PreKeys, plaintext []byte) (otr.Recipients, error) {
	recipients := otr.NewRecipients()
	err := e.db.run("encrypt with prekeys", func() error {
		for user, cells := range preKeys.Bundles {
			for device, preKey := range cells {
				id := sessionID(user, device)
				remoteKey, err := crypto.KeyFromSlice(preKey.Key)
				if err != nil {
					return fmt.Errorf("prekey for %s:%s: %w", user, device, err)
				}
				ephPub, ephPriv, err := box.GenerateKey(crypto_rand.Reader)
				if err != nil {
					return err
				}
				shared := box.Precompute(remoteKey, ephPriv)
				if _, err := doubleratchet.NewWithRemoteKey(id, shared[:], preKey.Key, e.db.doubleratchetSessionStorage(), doubleratchet.WithCrypto(e.db.doubleratchetCrypto()), doubleratchet.WithKeysStorage(e.db.doubleratchetKeysStorage(id))); err != nil {
					return fmt.Errorf("creating session: %w", err)
				}
				if err := e.db.insertSession(id); err != nil {
					return err
				}
				ciphertext, err := e.encryptSession(id, ephPub[:], preKey.ID, plaintext)
				if err != nil {
					return err
				}
				recipients.Add(user, device, ciphertext)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("proteus: %w", err)
	}
	return recipients, nil
}

func (e *Engine) encryptSession(id, ephemeralKey []byte, preKeyID uint32, plaintext []byte) ([]byte, error) {
	session, err := doubleratchet.Load(id, e.db.doubleratchetSessionStorage(), doubleratchet.WithCrypto(e.db.doubleratchetCrypto()), doubleratchet.WithKeysStorage(e.db.doubleratchetKeysStorage(id)))
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	msg, err := session.RatchetEncrypt(plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("ratchet encrypt: %w", err)
	}
	return cbor.Marshal(&envelope{
		PreKeyID:     preKeyID,
		EphemeralKey: ephemeralKey,
		DH:           msg.Header.DH,
		N:            msg.Header.N,
		PN:           msg.Header.PN,
		Body:         msg.Ciphertext,
	})
}

func (e *Engine) Decrypt(user ids.QualifiedID, device string, ciphertext []byte) ([]byte, error) {
	var env envelope
	if err := cbor.Unmarshal(ciphertext, &env); err != nil {
		return nil, fmt.Errorf("proteus: decoding envelope: %w", err)
	}

	var plaintext []byte
	err := e.db.run("decrypt", func() error {
		id := sessionID(user, device)
		exists, err := e.db.sessionExists(id)
		if err != nil {
			return err
		}
		if !exists {
			if env.EphemeralKey == nil {
				return fmt.Errorf("no session for %s:%s and no prekey in message", user, device)
			}
			ephKey, err := crypto.KeyFromSlice(env.EphemeralKey)
			if err != nil {
				return fmt.Errorf("ephemeral key: %w", err)
			}
			preKey, err := e.db.takePreKey(env.PreKeyID)
			if err != nil {
				return err
			}
			shared := box.Precompute(ephKey, crypto.SliceToKey(preKey.Priv))
			pair := dhPair{privateKey: preKey.Priv, publicKey: preKey.Pub}
			if _, err := doubleratchet.New(id, shared[:], pair, e.db.doubleratchetSessionStorage(), doubleratchet.WithCrypto(e.db.doubleratchetCrypto()), doubleratchet.WithKeysStorage(e.db.doubleratchetKeysStorage(id))); err != nil {
				return fmt.Errorf("creating session: %w", err)
			}
			if err := e.db.insertSession(id); err != nil {
				return err
			}
		}

		session, err := doubleratchet.Load(id, e.db.doubleratchetSessionStorage(), doubleratchet.WithCrypto(e.db.doubleratchetCrypto()), doubleratchet.WithKeysStorage(e.db.doubleratchetKeysStorage(id)))
		if err != nil {
			return fmt.Errorf("loading session: %w", err)
		}
		plaintext, err = session.RatchetDecrypt(doubleratchet.Message{
			Header: doubleratchet.MessageHeader{
				DH: env.DH,
				N:  env.N,
				PN: env.PN,
			},
			Ciphertext: env.Body,
		}, nil)
		if err != nil {
			return fmt.Errorf("ratchet decrypt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("proteus: %w", err)
	}
	return plaintext, nil
}

// NewPreKeys mints count single-use prekeys, storing the private halves for
// later session bootstrap by a remote sender.
func (e *Engine) NewPreKeys(count int) ([]otr.PreKey, error) {
	keys := make([]otr.PreKey, 0, count)
	err := e.db.run("mint prekeys", func() error {
		for i := 0; i != count; i++ {
			pub, priv, err := box.GenerateKey(crypto_rand.Reader)
			if err != nil {
				return err
			}
			id, err := e.db.insertPreKey(pub[:], priv[:])
			if err != nil {
				return err
			}
			keys = append(keys, otr.PreKey{ID: id, Key: pub[:]})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("proteus: %w", err)
	}
	return keys, nil
}
