package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	bolt "go.etcd.io/bbolt"
)

// Synchronization takes part in the completion of a transaction.
type Synchronization interface {
	// BeforeCompletion runs before the data is committed. An error aborts
	// the transaction. It may run more than once (see Transaction.Flush).
	BeforeCompletion() error
	// AfterCompletion runs once the transaction has been committed or
	// rolled back.
	AfterCompletion(committed bool) error
}

// Session is a unit of work against the database. A session is not safe for
// concurrent use and holds at most one open transaction.
type Session struct {
	db     *DB
	tx     *Transaction
	closed bool
}

// OpenSession opens a new session.
func (db *DB) OpenSession() *Session {
	return &Session{db: db}
}

// DB returns the database the session belongs to.
func (s *Session) DB() *DB {
	return s.db
}

// Begin starts a read-write transaction.
func (s *Session) Begin() (*Transaction, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.tx != nil {
		return nil, ErrTxActive
	}

	btx, err := s.db.bolt.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	s.tx = &Transaction{
		session: s,
		tx:      btx,
		byKey:   make(map[string]Synchronization),
	}
	return s.tx, nil
}

// Transaction returns the open transaction, or nil.
func (s *Session) Transaction() *Transaction {
	return s.tx
}

// Get loads an entity by type and id. Inside a transaction it sees the
// transaction's own uncommitted writes.
func (s *Session) Get(name string, id uint64) (Entity, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.tx != nil {
		return s.db.get(s.tx.tx, name, id)
	}

	var e Entity
	err := s.db.bolt.View(func(tx *bolt.Tx) error {
		var err error
		e, err = s.db.get(tx, name, id)
		return err
	})
	return e, err
}

// List loads every entity of the named type in id order.
func (s *Session) List(name string) ([]Entity, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	var out []Entity
	collect := func(e Entity) error {
		out = append(out, e)
		return nil
	}

	if s.tx != nil {
		if err := s.db.scan(s.tx.tx, name, collect); err != nil {
			return nil, err
		}
		return out, nil
	}

	err := s.db.bolt.View(func(tx *bolt.Tx) error {
		return s.db.scan(tx, name, collect)
	})
	return out, err
}

// Close rolls back any open transaction and closes the session.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	var err error
	if s.tx != nil {
		err = s.tx.Rollback()
	}
	s.closed = true
	return err
}

// Transaction is a read-write transaction opened by a session.
type Transaction struct {
	session *Session
	tx      *bolt.Tx
	syncs   []Synchronization
	byKey   map[string]Synchronization
	done    bool
}

// Session returns the session that opened the transaction.
func (t *Transaction) Session() *Session {
	return t.session
}

// Synchronization returns the synchronization registered under key, creating
// it with create on first use.
func (t *Transaction) Synchronization(key string, create func() Synchronization) Synchronization {
	if s, ok := t.byKey[key]; ok {
		return s
	}
	s := create()
	t.byKey[key] = s
	t.syncs = append(t.syncs, s)
	return s
}

// Save inserts or updates e. A new entity is assigned the next id of its type.
func (t *Transaction) Save(e Entity) error {
	if t.done {
		return ErrTxDone
	}

	name := e.EntityName()
	bucket := t.tx.Bucket([]byte(name))
	if bucket == nil || !t.session.db.IsRegistered(name) {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}

	if e.EntityID() == 0 {
		id, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate id for %s: %w", name, err)
		}
		e.SetEntityID(id)
	} else if e.EntityID() > bucket.Sequence() {
		if err := bucket.SetSequence(e.EntityID()); err != nil {
			return fmt.Errorf("failed to advance id sequence for %s: %w", name, err)
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%d: %w", name, e.EntityID(), err)
	}
	if err := bucket.Put(idKey(e.EntityID()), data); err != nil {
		return fmt.Errorf("failed to write %s/%d: %w", name, e.EntityID(), err)
	}

	for _, l := range t.session.db.snapshotListeners() {
		if err := l.OnSave(t, e); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes e.
func (t *Transaction) Delete(e Entity) error {
	if t.done {
		return ErrTxDone
	}
	if e.EntityID() == 0 {
		return fmt.Errorf("%w: %s", ErrTransient, e.EntityName())
	}

	name := e.EntityName()
	bucket := t.tx.Bucket([]byte(name))
	if bucket == nil {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	key := idKey(e.EntityID())
	if bucket.Get(key) == nil {
		return fmt.Errorf("%w: %s/%d", ErrNotFound, name, e.EntityID())
	}
	if err := bucket.Delete(key); err != nil {
		return fmt.Errorf("failed to delete %s/%d: %w", name, e.EntityID(), err)
	}

	for _, l := range t.session.db.snapshotListeners() {
		if err := l.OnDelete(t, e); err != nil {
			return err
		}
	}
	return nil
}

// Flush runs the before-completion work of every synchronization now, so
// failures surface before Commit.
func (t *Transaction) Flush() error {
	if t.done {
		return ErrTxDone
	}
	for _, s := range t.syncs {
		if err := s.BeforeCompletion(); err != nil {
			return err
		}
	}
	return nil
}

// Commit commits the transaction. Synchronization failures before the commit
// roll the transaction back; failures after it are wrapped in ErrAfterCommit.
func (t *Transaction) Commit() error {
	if t.done {
		return ErrTxDone
	}

	for _, s := range t.syncs {
		if err := s.BeforeCompletion(); err != nil {
			rbErr := t.Rollback()
			return errors.Join(err, rbErr)
		}
	}

	t.finish()
	if err := t.tx.Commit(); err != nil {
		t.afterCompletion(false)
		return fmt.Errorf("failed to commit: %w", err)
	}

	if errs := t.afterCompletion(true); len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrAfterCommit, errors.Join(errs...))
	}
	return nil
}

// Rollback discards the transaction.
func (t *Transaction) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.finish()
	err := t.tx.Rollback()
	t.afterCompletion(false)
	if err != nil {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

func (t *Transaction) finish() {
	t.done = true
	t.session.tx = nil
}

func (t *Transaction) afterCompletion(committed bool) []error {
	var errs []error
	for _, s := range t.syncs {
		if err := s.AfterCompletion(committed); err != nil {
			slog.Error("Transaction synchronization failed", "committed", committed, "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}
