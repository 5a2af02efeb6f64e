// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.

// Package history keeps a local, tamper-evident record of verification
// attempts. Every row is HMAC-chained to its predecessor and granted tokens
// are stored encrypted.
package history

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/claimr-tools/claimr-go/claimr"
	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/internal/log"
	"github.com/claimr-tools/claimr-go/internal/options"
	"github.com/claimr-tools/claimr-go/iso"
	"github.com/claimr-tools/claimr-go/session"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tink-crypto/tink-go/v2/aead/subtle"
	"golang.org/x/crypto/hkdf"
)

type (
	// Store is an SQLite-backed attempt history. It implements
	// session.Recorder.
	Store struct {
		db     *sql.DB
		macKey []byte
		aead   *subtle.AESGCM
		last   []byte
		logger log.Logger
		mu     sync.Mutex
	}

	// Record is a stored attempt.
	Record struct {
		Seq         int64         `json:"seq"`
		ID          string        `json:"id"`
		Started     iso.DateTime  `json:"started"`
		Duration    iso.Duration  `json:"duration"`
		Claim       claimr.Claim  `json:"claim"`
		Epochs      int           `json:"epochs"`
		ProofDigest string        `json:"proofDigest"`
		State       session.State `json:"state"`
		Status      claimr.Status `json:"status"`
		Message     string        `json:"message,omitempty"`
		JWT         string        `json:"jwt,omitempty"`
	}

	// Option represents a single store option.
	Option interface{ store(*Options) }

	// Options are the resolved store options.
	Options struct {
		Logger *slog.Logger
	}

	withLogger struct{ *slog.Logger }

	row struct {
		seq         int64
		id          string
		startedNs   int64
		finishedNs  int64
		claim       []byte
		epochs      int64
		proofDigest []byte
		state       string
		status      string
		message     string
		jwtSealed   []byte
		prevMAC     []byte
		mac         []byte
	}
)

// MinKeySize is the minimum master key length in bytes.
const MinKeySize = 16

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    started_ns      INTEGER NOT NULL,
    finished_ns     INTEGER NOT NULL,
    claim           TEXT NOT NULL,
    epochs          INTEGER NOT NULL,
    proof_digest    BLOB NOT NULL,
    state           TEXT NOT NULL,
    status          TEXT NOT NULL,
    message         TEXT NOT NULL,
    jwt_sealed      BLOB,
    prev_mac        BLOB NOT NULL,
    mac             BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_started ON attempts(started_ns);
`

const columns = `seq, id, started_ns, finished_ns, claim, epochs, proof_digest,
	state, status, message, jwt_sealed, prev_mac, mac`

// HKDF info strings, one per derived key.
const (
	infoChain = "claimr-history-chain-v1"
	infoToken = "claimr-history-token-v1"
)

// Open opens or creates the history database at path. Keys for the chain and
// for token encryption are derived from masterKey.
func Open(path string, masterKey []byte, opt ...Option) (*Store, error) {
	var opts Options
	opts.Apply(opt)

	if len(masterKey) < MinKeySize {
		return nil, &errors.Error{
			Message:       "history key is too short",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "masterKey",
			PropertyValue: len(masterKey),
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storeError("create history directory", err)
	}

	db, err := sql.Open("sqlite3",
		path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, storeError("open history database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storeError("apply history schema", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		db.Close()
		return nil, storeError("set history permissions", err)
	}

	macKey, err := deriveKey(masterKey, infoChain)
	if err != nil {
		db.Close()
		return nil, err
	}
	tokenKey, err := deriveKey(masterKey, infoToken)
	if err != nil {
		db.Close()
		return nil, err
	}
	aead, err := subtle.NewAESGCM(tokenKey)
	if err != nil {
		db.Close()
		return nil, storeError("initialize token cipher", err)
	}

	s := &Store{
		db:     db,
		macKey: macKey,
		aead:   aead,
		last:   make([]byte, sha256.Size),
		logger: log.Wrap(opts.Logger),
	}

	err = db.QueryRow(`SELECT mac FROM attempts ORDER BY seq DESC LIMIT 1`).
		Scan(&s.last)
	if err != nil && err != sql.ErrNoRows {
		db.Close()
		return nil, storeError("read history head", err)
	}
	return s, nil
}

// RecordAttempt appends the attempt to the chain.
func (s *Store) RecordAttempt(ctx context.Context, a *session.Attempt) error {
	claim, err := json.Marshal(a.Claim)
	if err != nil {
		return storeError("encode claim", err)
	}
	state, err := a.State.MarshalText()
	if err != nil {
		return err
	}

	r := &row{
		id:          a.ID,
		startedNs:   a.Started.UnixNano(),
		finishedNs:  a.Finished.UnixNano(),
		claim:       claim,
		epochs:      int64(a.Epochs),
		proofDigest: a.ProofDigest,
		state:       string(state),
		status:      string(a.Status),
		message:     a.Message,
	}
	if a.JWT != "" {
		if r.jwtSealed, err = s.aead.Encrypt([]byte(a.JWT), []byte(a.ID)); err != nil {
			return storeError("encrypt token", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.prevMAC = s.last
	r.mac = s.chainMAC(r)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attempts (id, started_ns, finished_ns, claim, epochs,
			proof_digest, state, status, message, jwt_sealed, prev_mac, mac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.id, r.startedNs, r.finishedNs, string(r.claim), r.epochs,
		r.proofDigest, r.state, r.status, r.message, r.jwtSealed,
		r.prevMAC, r.mac,
	)
	if err != nil {
		return storeError("insert attempt", err)
	}
	s.last = r.mac

	s.logger.Debug(ctx, "recorded attempt",
		slog.String("attempt_id", a.ID),
		slog.String("status", r.status),
	)
	return nil
}

// List returns up to limit attempts started at or after since, oldest first.
// A non-positive limit returns all of them.
func (s *Store) List(
	ctx context.Context,
	since time.Time,
	limit int,
) ([]*Record, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM attempts
		WHERE started_ns >= ? ORDER BY seq ASC LIMIT ?`,
		since.UnixNano(), limit,
	)
	if err != nil {
		return nil, storeError("query attempts", err)
	}
	defer rows.Close()

	var res []*Record
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		rec, err := s.record(r)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("query attempts", err)
	}
	return res, nil
}

// Verify walks the whole chain and reports the first row which does not match
// its MAC or predecessor.
func (s *Store) Verify(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM attempts ORDER BY seq ASC`)
	if err != nil {
		return storeError("query attempts", err)
	}
	defer rows.Close()

	prev := make([]byte, sha256.Size)
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return err
		}
		if !hmac.Equal(r.prevMAC, prev) || !hmac.Equal(r.mac, s.chainMAC(r)) {
			return &errors.Error{
				Message:       "history chain is broken",
				Kind:          errors.PayloadInvalid,
				PropertyName:  "seq",
				PropertyValue: r.seq,
			}
		}
		prev = r.mac
	}
	if err := rows.Err(); err != nil {
		return storeError("query attempts", err)
	}
	if !hmac.Equal(prev, s.last) {
		return &errors.Error{
			Message: "history chain was truncated",
			Kind:    errors.PayloadInvalid,
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) record(r *row) (*Record, error) {
	rec := &Record{
		Seq:         r.seq,
		ID:          r.id,
		Started:     iso.DateTime(time.Unix(0, r.startedNs).UTC()),
		Duration:    iso.Duration(r.finishedNs - r.startedNs),
		Epochs:      int(r.epochs),
		ProofDigest: hex.EncodeToString(r.proofDigest),
		Status:      claimr.Status(r.status),
		Message:     r.message,
	}
	if err := json.Unmarshal(r.claim, &rec.Claim); err != nil {
		return nil, storeError("decode claim", err)
	}
	if err := rec.State.UnmarshalText([]byte(r.state)); err != nil {
		return nil, err
	}
	if len(r.jwtSealed) > 0 {
		jwt, err := s.aead.Decrypt(r.jwtSealed, []byte(r.id))
		if err != nil {
			return nil, &errors.Error{
				Message:       "could not decrypt stored token",
				Kind:          errors.PayloadInvalid,
				NestedError:   err,
				PropertyName:  "seq",
				PropertyValue: r.seq,
			}
		}
		rec.JWT = string(jwt)
	}
	return rec, nil
}

// Length-prefix every field so that no two rows share an encoding.
func (s *Store) chainMAC(r *row) []byte {
	var buf []byte
	field := func(b []byte) {
		buf = binary.AppendUvarint(buf, uint64(len(b)))
		buf = append(buf, b...)
	}
	num := func(n int64) {
		buf = binary.BigEndian.AppendUint64(buf, uint64(n))
	}

	field(r.prevMAC)
	field([]byte(r.id))
	num(r.startedNs)
	num(r.finishedNs)
	field(r.claim)
	num(r.epochs)
	field(r.proofDigest)
	field([]byte(r.state))
	field([]byte(r.status))
	field([]byte(r.message))
	field(r.jwtSealed)

	mac := hmac.New(sha256.New, s.macKey)
	mac.Write(buf)
	return mac.Sum(nil)
}

func scanRow(rows *sql.Rows) (*row, error) {
	var r row
	var claim string
	err := rows.Scan(
		&r.seq, &r.id, &r.startedNs, &r.finishedNs, &claim, &r.epochs,
		&r.proofDigest, &r.state, &r.status, &r.message, &r.jwtSealed,
		&r.prevMAC, &r.mac,
	)
	if err != nil {
		return nil, storeError("scan attempt", err)
	}
	r.claim = []byte(claim)
	return &r, nil
}

func deriveKey(masterKey []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(
		hkdf.New(sha256.New, masterKey, nil, []byte(info)),
		key,
	); err != nil {
		return nil, storeError("derive key", err)
	}
	return key, nil
}

func storeError(msg string, err error) error {
	return &errors.Error{
		Message:     msg + ": " + err.Error(),
		Kind:        errors.UnknownError,
		NestedError: err,
	}
}

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.store(o)
	}
}

func (o *Options) store(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) store(opt *Options) {
	opt.Logger = o.Logger
}

var _ session.Recorder = (*Store)(nil)
