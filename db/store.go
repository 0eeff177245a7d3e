package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leftmike/roomdb/datafile"
	"github.com/leftmike/roomdb/reclock"
)

var (
	ErrRecordNotFound = errors.New("db: record not found")
	ErrAuthorization  = reclock.ErrAuthorization
)

type Token = reclock.Token

// Persistence is the storage underneath a Store. Load is called exactly once, before
// any other method.
type Persistence interface {
	NumFields() int
	Load() (map[int]datafile.Record, error)
	Create(fields []string) (int, error)
	Update(recNo int, fields []string) error
	Delete(recNo int) error
	Close() error
}

// Store is a table of fixed width records with per record locking. Read and Find
// never take locks: their results may be stale as soon as they are returned, but each
// individual record they see is internally consistent. Update and Delete require the
// token returned by Lock.
type Store struct {
	p         Persistence
	numFields int
	cache     *recordCache
	locks     reclock.Table
	metrics   *storeMetrics
}

// Open opens the data file at path and loads it into a new Store.
func Open(path string, registerer prometheus.Registerer) (*Store, error) {
	df, err := datafile.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := NewStore(df, registerer)
	if err != nil {
		df.Close()
		return nil, err
	}
	return st, nil
}

func NewStore(p Persistence, registerer prometheus.Registerer) (*Store, error) {
	recs, err := p.Load()
	if err != nil {
		return nil, err
	}

	st := &Store{
		p:         p,
		numFields: p.NumFields(),
		cache:     newRecordCache(),
		metrics:   newStoreMetrics(registerer),
	}
	for recNo, rec := range recs {
		if len(rec.Fields) != st.numFields {
			return nil, &datafile.FormatError{
				Msg: fmt.Sprintf("record %d: got %d fields; want %d", recNo, len(rec.Fields),
					st.numFields),
			}
		}
		st.cache.add(st.newState(recNo, &record{fields: rec.Fields, deleted: rec.Deleted}))
	}
	return st, nil
}

func (st *Store) newState(recNo int, rec *record) *recordState {
	rs := &recordState{
		recNo: recNo,
		lock:  st.locks.Lock(recNo),
	}
	rs.store(rec)
	return rs
}

func (st *Store) Close() error {
	return st.p.Close()
}

func (st *Store) NumFields() int {
	return st.numFields
}

// Len returns the number of live records.
func (st *Store) Len() int {
	var cnt int
	for _, rs := range st.cache.snapshot() {
		if !rs.load().deleted {
			cnt += 1
		}
	}
	return cnt
}

// copyFields returns fields as given, to be written, and the private copy kept in the
// cache, trimmed the same way values are trimmed when they are loaded. Width is
// checked against the untrimmed values when they are written.
func (st *Store) copyFields(fields []string) (raw, cached []string, err error) {
	if len(fields) != st.numFields {
		return nil, nil, &datafile.FormatError{
			Msg: fmt.Sprintf("got %d fields; want %d", len(fields), st.numFields),
		}
	}

	raw = append([]string(nil), fields...)
	cached = make([]string, len(fields))
	for fdx, val := range fields {
		cached[fdx] = datafile.Trim(val)
	}
	return raw, cached, nil
}

func (st *Store) live(recNo int) (*recordState, *record, error) {
	rs := st.cache.get(recNo)
	if rs == nil {
		return nil, nil, ErrRecordNotFound
	}
	rec := rs.load()
	if rec.deleted {
		return nil, nil, ErrRecordNotFound
	}
	return rs, rec, nil
}

// Read returns the current fields of a live record. The returned slice is shared with
// the store and must not be modified.
func (st *Store) Read(recNo int) ([]string, error) {
	_, rec, err := st.live(recNo)
	st.metrics.observe("read", err)
	if err != nil {
		return nil, err
	}
	return rec.fields, nil
}

// Find returns the numbers of the live records where every field starts with the
// corresponding criteria value; an empty criteria value matches any field. Records
// are returned in record number order.
func (st *Store) Find(criteria []string) ([]int, error) {
	if len(criteria) != st.numFields {
		err := &datafile.FormatError{
			Msg: fmt.Sprintf("got %d criteria; want %d", len(criteria), st.numFields),
		}
		st.metrics.observe("find", err)
		return nil, err
	}

	var recNos []int
	for _, rs := range st.cache.snapshot() {
		rec := rs.load()
		if rec.deleted {
			continue
		}
		if matches(rec.fields, criteria) {
			recNos = append(recNos, rs.recNo)
		}
	}

	st.metrics.observe("find", nil)
	return recNos, nil
}

func matches(fields, criteria []string) bool {
	for fdx, crit := range criteria {
		if len(crit) > len(fields[fdx]) || fields[fdx][:len(crit)] != crit {
			return false
		}
	}
	return true
}

// Create adds a new record, reusing the slot of a deleted record when one is
// available, and returns its record number.
func (st *Store) Create(fields []string) (int, error) {
	raw, cached, err := st.copyFields(fields)
	if err != nil {
		st.metrics.observe("create", err)
		return 0, err
	}

	recNo, ok, err := st.reuseDeleted(raw, cached)
	if err == nil && !ok {
		recNo, err = st.p.Create(raw)
		if err == nil {
			st.cache.add(st.newState(recNo, &record{fields: cached}))
			st.metrics.slotsAppended.Inc()
		}
	}

	st.metrics.observe("create", err)
	if err != nil {
		return 0, err
	}
	return recNo, nil
}

// reuseDeleted overwrites a deleted record with fields. A deleted record may still be
// locked by the caller that deleted it; it must not be brought back to life until
// that caller unlocks it, so only deleted records whose lock is free are candidates.
func (st *Store) reuseDeleted(raw, cached []string) (int, bool, error) {
	for _, recNo := range st.cache.deletedRecNos() {
		rs := st.cache.get(recNo)
		tok, ok := rs.lock.TryAcquire()
		if !ok {
			continue
		}

		reused, err := st.reuse(rs, raw, cached)
		if rerr := rs.lock.Release(tok); rerr != nil {
			panic(fmt.Sprintf("db: release of internal lock on record %d: %s", recNo, rerr))
		}
		if err != nil {
			return 0, false, err
		}
		if reused {
			st.metrics.slotsReused.Inc()
			return recNo, true, nil
		}
	}

	return 0, false, nil
}

func (st *Store) reuse(rs *recordState, raw, cached []string) (bool, error) {
	// Another create may have reused this record after the list of deleted records
	// was taken.
	if !rs.load().deleted {
		return false, nil
	}

	err := st.p.Update(rs.recNo, raw)
	if err != nil {
		return false, err
	}
	rs.store(&record{fields: cached})
	st.cache.clearDeleted(rs.recNo)
	return true, nil
}

func (st *Store) authorize(recNo int, tok Token) (*recordState, *record, error) {
	rs, rec, err := st.live(recNo)
	if err != nil {
		return nil, nil, err
	}
	if !rs.lock.Check(tok) {
		return nil, nil, ErrAuthorization
	}
	return rs, rec, nil
}

// Update replaces all of the fields of a locked record.
func (st *Store) Update(recNo int, fields []string, tok Token) error {
	err := st.update(recNo, fields, tok)
	st.metrics.observe("update", err)
	return err
}

func (st *Store) update(recNo int, fields []string, tok Token) error {
	rs, _, err := st.authorize(recNo, tok)
	if err != nil {
		return err
	}
	raw, cached, err := st.copyFields(fields)
	if err != nil {
		return err
	}

	err = st.p.Update(recNo, raw)
	if err != nil {
		return err
	}
	rs.store(&record{fields: cached})
	return nil
}

// Delete marks a locked record as deleted. The record remains locked until the caller
// unlocks it.
func (st *Store) Delete(recNo int, tok Token) error {
	err := st.delete(recNo, tok)
	st.metrics.observe("delete", err)
	return err
}

func (st *Store) delete(recNo int, tok Token) error {
	rs, rec, err := st.authorize(recNo, tok)
	if err != nil {
		return err
	}

	err = st.p.Delete(recNo)
	if err != nil {
		return err
	}
	rs.store(&record{fields: rec.fields, deleted: true})
	st.cache.markDeleted(recNo)
	return nil
}

// Lock blocks until the record is locked by the caller and returns the token needed to
// update, delete, or unlock it.
func (st *Store) Lock(recNo int) (Token, error) {
	tok, err := st.lock(recNo)
	st.metrics.observe("lock", err)
	return tok, err
}

func (st *Store) lock(recNo int) (Token, error) {
	rs, _, err := st.live(recNo)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	tok := rs.lock.Acquire()
	st.metrics.lockWait.Observe(time.Since(start).Seconds())

	// The record may have been deleted while waiting for the lock.
	if rs.load().deleted {
		rs.lock.Release(tok)
		return 0, ErrRecordNotFound
	}
	return tok, nil
}

// Unlock releases a lock; a record may be locked, deleted, and then unlocked.
func (st *Store) Unlock(recNo int, tok Token) error {
	err := st.unlock(recNo, tok)
	st.metrics.observe("unlock", err)
	return err
}

func (st *Store) unlock(recNo int, tok Token) error {
	rs := st.cache.get(recNo)
	if rs == nil {
		return ErrRecordNotFound
	}
	return rs.lock.Release(tok)
}
