// Package ledger implements the append-only hash-chained event store
// (C6): a single SQLite file in WAL mode, one writer mutex, and a
// verify operation that re-walks the chain looking for the first
// inconsistency.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// EventType is one of the fixed, exactly-spelled event names writers
// must use; readers treat any other string as opaque (§6.3).
type EventType string

const (
	EventBoot           EventType = "BOOT"
	EventCycleStart     EventType = "CYCLE_START"
	EventCycleAbort     EventType = "CYCLE_ABORT"
	EventPromoteAttest  EventType = "PROMOTE_ATTEST"
	EventRollback       EventType = "ROLLBACK"
	EventMasterEq       EventType = "MASTER_EQ"
	EventFibonacciTick  EventType = "FIBONACCI_TICK"
	EventFibonacciOpt   EventType = "FIBONACCI_OPT"
	EventSnapshot       EventType = "SNAPSHOT"
	EventShutdown       EventType = "SHUTDOWN"
	EventLLMQuery       EventType = "LLM_QUERY"
	EventSeedSet        EventType = "SEED_SET"
	EventGateFail       EventType = "GATE_FAIL"
)

// genesisHash is the sentinel "prev" value of the very first row.
const genesisHash = "genesis"

// Row is one persisted ledger event.
type Row struct {
	ID        int64
	EType     string
	Data      json.RawMessage
	Timestamp time.Time
	Prev      string
	Hash      string
	Zeck      string
	SeedState string
	PreHash   string
	PostHash  string
	GateTrace json.RawMessage
}

// Ledger is a single-writer, multi-reader append-only hash chain over
// a WAL-mode SQLite file (§4.6, §6.1).
type Ledger struct {
	mu   sync.Mutex
	db   *sqlx.DB
	tail string
}

// Open creates or opens the ledger file at path, applying the
// concurrency pragmas §4.6 requires (WAL journalling, NORMAL
// synchronous, a >=3s busy timeout) and ensuring the schema exists.
func Open(path string) (*Ledger, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger: pragma %q: %w", p, err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	etype TEXT NOT NULL,
	data TEXT NOT NULL,
	ts TEXT NOT NULL,
	prev TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	zeck TEXT,
	seed_state TEXT,
	pre_hash TEXT,
	post_hash TEXT,
	gate_trace TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_etype ON events(etype);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: schema: %w", err)
	}

	l := &Ledger{db: db, tail: genesisHash}
	tail, err := l.readTail()
	if err != nil {
		db.Close()
		return nil, err
	}
	l.tail = tail
	return l, nil
}

func (l *Ledger) readTail() (string, error) {
	row := l.db.QueryRow("SELECT hash FROM events ORDER BY id DESC LIMIT 1")
	var hash string
	err := row.Scan(&hash)
	if err == sql.ErrNoRows {
		return genesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("ledger: read tail: %w", err)
	}
	return hash, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// envelope is the canonical payload hashed for every row. Marshaling a
// map yields alphabetically sorted keys, which is what gives the hash
// its byte-stable "canonical JSON" property (§4.6).
type envelope map[string]interface{}

func canonicalHash(env envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Record appends one event with the given type and JSON-serialisable
// data, computing and publishing the new tail hash (§4.6).
func (l *Ledger) Record(etype EventType, data interface{}) (Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordLocked(etype, data, "", "", "", "", "")
}

// RecordTagged is Record plus an optional Zeckendorf tag (§3.2, §9),
// used by FIBONACCI_TICK/FIBONACCI_OPT rows.
func (l *Ledger) RecordTagged(etype EventType, data interface{}, zeckTag string) (Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordLocked(etype, data, zeckTag, "", "", "", "")
}

// RecordPromoteAttest appends the single atomic record that proves a
// promotion happened: the SHA-256 of pre/post state (timestamps
// excluded from those inner hashes), the serialised RNG state, the
// config hash, and the structured gate trace (§4.6).
func (l *Ledger) RecordPromoteAttest(preState, postState interface{}, gateTrace interface{}, rngState interface{}, configHash string, step float64) (Row, error) {
	preHash, err := hashValue(preState)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: hash pre-state: %w", err)
	}
	postHash, err := hashValue(postState)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: hash post-state: %w", err)
	}
	seedStateJSON, err := json.Marshal(rngState)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: marshal rng state: %w", err)
	}
	gateTraceJSON, err := json.Marshal(gateTrace)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: marshal gate trace: %w", err)
	}

	data := map[string]interface{}{
		"step":        step,
		"config_hash": configHash,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordLocked(EventPromoteAttest, data, "", string(seedStateJSON), preHash, postHash, string(gateTraceJSON))
}

// hashValue hashes v's JSON form; when v is a JSON object, its top-level
// "TS"/"ts" timestamp field is dropped before hashing.
func hashValue(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) == nil && fields != nil {
		delete(fields, "TS")
		delete(fields, "ts")
		if raw, err = json.Marshal(fields); err != nil {
			return "", err
		}
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// insertRow is the named-parameter shape recordLocked binds against;
// field names match the :named placeholders sqlx substitutes.
type insertRow struct {
	EType     string      `db:"etype"`
	Data      string      `db:"data"`
	TS        string      `db:"ts"`
	Prev      string      `db:"prev"`
	Hash      string      `db:"hash"`
	Zeck      interface{} `db:"zeck"`
	SeedState interface{} `db:"seed_state"`
	PreHash   interface{} `db:"pre_hash"`
	PostHash  interface{} `db:"post_hash"`
	GateTrace interface{} `db:"gate_trace"`
}

func (l *Ledger) recordLocked(etype EventType, data interface{}, zeck, seedState, preHash, postHash, gateTrace string) (Row, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: marshal data: %w", err)
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	prev := l.tail

	env := envelope{"etype": string(etype), "data": json.RawMessage(dataJSON), "ts": ts, "prev": prev}
	hash, err := canonicalHash(env)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: hash: %w", err)
	}

	row := insertRow{
		EType: string(etype), Data: string(dataJSON), TS: ts, Prev: prev, Hash: hash,
		Zeck: nullable(zeck), SeedState: nullable(seedState), PreHash: nullable(preHash),
		PostHash: nullable(postHash), GateTrace: nullable(gateTrace),
	}
	_, err = l.db.NamedExecContext(context.Background(),
		`INSERT INTO events (etype, data, ts, prev, hash, zeck, seed_state, pre_hash, post_hash, gate_trace)
		 VALUES (:etype, :data, :ts, :prev, :hash, :zeck, :seed_state, :pre_hash, :post_hash, :gate_trace)`,
		row,
	)
	if err != nil {
		return Row{}, fmt.Errorf("ledger: insert: %w", err)
	}
	l.tail = hash

	return Row{
		EType: string(etype), Data: dataJSON, Prev: prev, Hash: hash,
		Zeck: zeck, SeedState: seedState, PreHash: preHash, PostHash: postHash,
		GateTrace: json.RawMessage(gateTrace),
	}, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Tail returns the current published tail hash.
func (l *Ledger) Tail() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail
}

// Break describes the first inconsistency VerifyChain finds.
type Break struct {
	RowID  int64
	Reason string
}

// verifyRow is the StructScan target for VerifyChain's walk.
type verifyRow struct {
	ID    int64  `db:"id"`
	EType string `db:"etype"`
	Data  string `db:"data"`
	TS    string `db:"ts"`
	Prev  string `db:"prev"`
	Hash  string `db:"hash"`
}

// VerifyChain re-walks every row in insertion order, checking that
// row[i+1].prev == row[i].hash, that every row's hash recomputes
// correctly, and that the first row's prev is "genesis" (§4.6, §8).
func (l *Ledger) VerifyChain() (*Break, error) {
	rows, err := l.db.Queryx(`SELECT id, etype, data, ts, prev, hash FROM events ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("ledger: verify query: %w", err)
	}
	defer rows.Close()

	prevHash := genesisHash
	first := true
	for rows.Next() {
		var r verifyRow
		if err := rows.StructScan(&r); err != nil {
			return nil, fmt.Errorf("ledger: verify scan: %w", err)
		}

		if first && r.Prev != genesisHash {
			return &Break{RowID: r.ID, Reason: "first row prev is not genesis"}, nil
		}
		if !first && r.Prev != prevHash {
			return &Break{RowID: r.ID, Reason: "prev does not match previous row's hash"}, nil
		}

		env := envelope{"etype": r.EType, "data": json.RawMessage(r.Data), "ts": r.TS, "prev": r.Prev}
		recomputed, err := canonicalHash(env)
		if err != nil {
			return nil, fmt.Errorf("ledger: verify recompute: %w", err)
		}
		if recomputed != r.Hash {
			return &Break{RowID: r.ID, Reason: "hash mismatch"}, nil
		}

		prevHash = r.Hash
		first = false
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: verify iterate: %w", err)
	}
	return nil, nil
}
