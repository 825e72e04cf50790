package proteus

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/wren-im/go-wren/config"
	db "github.com/wren-im/go-wren/internal/db"
	"github.com/wren-im/go-wren/migration"
)

type doubleratchetState struct {
	ID                       []byte `db:"id"`
	Dhr                      []byte `db:"dhr"`
	DhsPub                   []byte `db:"dhs_pub"`
	DhsPriv                  []byte `db:"dhs_priv"`
	RootChKey                []byte `db:"root_ch_key"`
	SendChKey                []byte `db:"send_ch_key"`
	SendChCount              uint32 `db:"send_ch_count"`
	RecvChKey                []byte `db:"recv_ch_key"`
	RecvChCount              uint32 `db:"recv_ch_count"`
	PN                       uint32 `db:"pn"`
	MaxSkip                  uint   `db:"max_skip"`
	HKr                      []byte `db:"hkr"`
	NHKr                     []byte `db:"nhkr"`
	HKs                      []byte `db:"hks"`
	NHKs                     []byte `db:"nhks"`
	MaxKeep                  uint   `db:"max_keep"`
	MaxMessageKeysPerSession int    `db:"mmk_per_session"`
	Step                     uint   `db:"step"`
	KeysCount                uint   `db:"keys_count"`
}

type doubleratchetKey struct {
	PublicKey      []byte `db:"pub_key"`
	MessageKey     []byte `db:"message_key"`
	MessageNumber  uint   `db:"msg_num"`
	SessionID      []byte `db:"session_id"`
	SequenceNumber uint   `db:"seq_num"`
}

type preKeyRow struct {
	ID   uint32 `db:"id"`
	Pub  []byte `db:"pub"`
	Priv []byte `db:"priv"`
}

type database struct {
	*db.Database
}

func newDatabase(c *config.Config, d *db.Database) (*database, error) {
	if err := d.Migrate("_proteus", []*migration.Migration{
		{
			Name: "Create initial tables",
			Func: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
				CREATE TABLE _sessions (
					id BLOB PRIMARY KEY
				);

				CREATE TABLE _doubleratchet_states (
					id BLOB PRIMARY KEY,
					dhr BLOB NOT NULL,
					dhs_pub BLOB NOT NULL,
					dhs_priv BLOB NOT NULL,
					root_ch_key BLOB NOT NULL,
					send_ch_key BLOB NOT NULL,
					send_ch_count INTEGER NOT NULL,
					recv_ch_key BLOB NOT NULL,
					recv_ch_count INTEGER NOT NULL,
					pn INTEGER NOT NULL,
					max_skip INTEGER NOT NULL,
					hkr BLOB,
					nhkr BLOB,
					hks BLOB,
					nhks BLOB,
					max_keep INTEGER NOT NULL,
					mmk_per_session INTEGER NOT NULL,
					step INTEGER NOT NULL,
					keys_count INTEGER NOT NULL
				);

				CREATE TABLE _doubleratchet_keys (
					pub_key BLOB NOT NULL,
					message_key BLOB NOT NULL,
					msg_num INTEGER NOT NULL,
					session_id BLOB NOT NULL,
					seq_num INTEGER NOT NULL,
					PRIMARY KEY (session_id, pub_key, msg_num)
				);

				CREATE TABLE _prekeys (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					pub BLOB NOT NULL,
					priv BLOB NOT NULL
				);
				`)
				return err
			},
		},
	}); err != nil {
		return nil, err
	}
	return &database{d}, nil
}

func (db *database) run(label string, runner func() error) error {
	return db.Run(fmt.Sprintf("proteus %s", label), runner)
}

func (db *database) sessionExists(id []byte) (bool, error) {
	var count int
	if err := db.Tx.Get(&count, "SELECT count(*) FROM _sessions WHERE id = ?", id); err != nil {
		return false, fmt.Errorf("error checking session: %w", err)
	}
	return count != 0, nil
}

func (db *database) insertSession(id []byte) error {
	if _, err := db.Tx.Exec("INSERT INTO _sessions (id) VALUES (?) ON CONFLICT(id) DO NOTHING", id); err != nil {
		return fmt.Errorf("error inserting session: %w", err)
	}
	return nil
}

func (db *database) insertPreKey(pub, priv []byte) (uint32, error) {
	res, err := db.Tx.Exec("INSERT INTO _prekeys (pub, priv) VALUES (?, ?)", pub, priv)
	if err != nil {
		return 0, fmt.Errorf("error inserting prekey: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}

// takePreKey loads and deletes a prekey; each one bootstraps at most one
// session.
func (db *database) takePreKey(id uint32) (*preKeyRow, error) {
	row := &preKeyRow{}
	if err := db.Tx.Get(row, "SELECT * FROM _prekeys WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("prekey %d not found or already used", id)
		}
		return nil, fmt.Errorf("error getting prekey: %w", err)
	}
	if _, err := db.Tx.Exec("DELETE FROM _prekeys WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("error deleting prekey: %w", err)
	}
	return row, nil
}

func (db *database) doubleratchetState(id []byte) (*doubleratchetState, error) {
	s := &doubleratchetState{}
	if err := db.Tx.Get(s, "SELECT * FROM _doubleratchet_states WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("error getting doubleratchet state: %w", err)
	}
	return s, nil
}

func (db *database) upsertDoubleratchetState(s *doubleratchetState) error {
	if _, err := db.Tx.NamedExec("INSERT INTO _doubleratchet_states (id, dhr, dhs_pub, dhs_priv, root_ch_key, send_ch_key, send_ch_count, recv_ch_key, recv_ch_count, pn, max_skip, hkr, nhkr, hks, nhks, max_keep, mmk_per_session, step, keys_count) VALUES (:id, :dhr, :dhs_pub, :dhs_priv, :root_ch_key, :send_ch_key, :send_ch_count, :recv_ch_key, :recv_ch_count, :pn, :max_skip, :hkr, :nhkr, :hks, :nhks, :max_keep, :mmk_per_session, :step, :keys_count) ON CONFLICT(id) DO UPDATE SET dhr = :dhr, dhs_pub = :dhs_pub, dhs_priv = :dhs_priv, root_ch_key = :root_ch_key, send_ch_key = :send_ch_key, send_ch_count = :send_ch_count, recv_ch_key = :recv_ch_key, recv_ch_count = :recv_ch_count, pn = :pn, max_skip = :max_skip, hkr = :hkr, nhkr = :nhkr, hks = :hks, nhks = :nhks, max_keep = :max_keep, mmk_per_session = :mmk_per_session, step = :step, keys_count = :keys_count", s); err != nil {
		return fmt.Errorf("error upserting doubleratchet state: %w", err)
	}
	return nil
}

func (db *database) keyByMsgNum(sessionID []byte, k []byte, msgNum uint) (*doubleratchetKey, bool, error) {
	kr := &doubleratchetKey{}
	err := db.Tx.Get(kr, "SELECT * FROM _doubleratchet_keys WHERE pub_key = ? AND msg_num = ? AND session_id = ?", k, msgNum, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return kr, true, nil
}

func (db *database) upsertKeyByMsgNum(sessionID []byte, k []byte, msgNum uint, mk []byte, keySeqNum uint) error {
	_, err := db.Tx.Exec("INSERT INTO _doubleratchet_keys (pub_key, message_key, msg_num, session_id, seq_num) VALUES (?, ?, ?, ?, ?)", k, mk, msgNum, sessionID, keySeqNum)
	if err != nil {
		return fmt.Errorf("error upserting key by msgnum: %w", err)
	}
	return nil
}

func (db *database) deleteKeyByMsgNum(sessionID []byte, k []byte, msgNum uint) error {
	_, err := db.Tx.Exec("DELETE FROM _doubleratchet_keys WHERE pub_key = ? AND msg_num = ? AND session_id = ?", k, msgNum, sessionID)
	if err != nil {
		return fmt.Errorf("error deleting key by msgnum: %w", err)
	}
	return nil
}

func (db *database) deleteOldMks(sessionID []byte, deleteUntilSeqKey uint) error {
	_, err := db.Tx.Exec("DELETE FROM _doubleratchet_keys WHERE session_id = ? AND seq_num < ?", sessionID, deleteUntilSeqKey)
	if err != nil {
		return fmt.Errorf("error deleting old keys: %w", err)
	}
	return nil
}

func (db *database) truncateMks(sessionID []byte, maxKeys int) error {
	_, err := db.Tx.Exec("DELETE FROM _doubleratchet_keys WHERE session_id = ? AND seq_num NOT IN (SELECT seq_num FROM _doubleratchet_keys WHERE session_id = ? ORDER BY seq_num DESC LIMIT ?)", sessionID, sessionID, maxKeys)
	if err != nil {
		return fmt.Errorf("error truncating keys: %w", err)
	}
	return nil
}

func (db *database) countKeys(k []byte) (uint, error) {
	counter := &struct {
		Count uint `db:"keys_count"`
	}{Count: 0}
	if err := db.Tx.Get(counter, "SELECT count(*) AS keys_count FROM _doubleratchet_keys WHERE pub_key = ?", k); err != nil {
		return 0, fmt.Errorf("error counting keys: %w", err)
	}
	return counter.Count, nil
}
