// Package boltstore keeps the records of a table in a bbolt database, using the same
// header and record encoding as a data file.
package boltstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/leftmike/roomdb/datafile"
)

var (
	metaBucket    = []byte{'m', 'e', 't', 'a'}
	recordsBucket = []byte{'r', 'e', 'c', 'o', 'r', 'd', 's'}
	headerKey     = []byte{'h', 'e', 'a', 'd', 'e', 'r'}

	errMissingBucket = errors.New("bbolt: missing bucket")
)

type Store struct {
	mutex     sync.Mutex
	db        *bbolt.DB
	schema    *datafile.Schema
	nextRecNo int
}

func encodeKey(recNo int) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), uint64(recNo))
}

func decodeKey(key []byte) int {
	return int(binary.BigEndian.Uint64(key))
}

// Create makes a new bbolt database containing only a header; the file must not
// already exist.
func Create(path string, cookie uint32, fields []datafile.Field) (*Store, error) {
	var hdr bytes.Buffer
	err := datafile.WriteHeader(&hdr, cookie, fields)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		return nil, &datafile.IOError{Op: "create", Err: os.ErrExist}
	}

	db, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		return nil, &datafile.IOError{Op: "create", Err: err}
	}

	err = db.Update(
		func(tx *bbolt.Tx) error {
			mb, err := tx.CreateBucket(metaBucket)
			if err != nil {
				return err
			}
			_, err = tx.CreateBucket(recordsBucket)
			if err != nil {
				return err
			}
			return mb.Put(headerKey, hdr.Bytes())
		})
	db.Close()
	if err != nil {
		os.Remove(path)
		return nil, &datafile.IOError{Op: "write header", Err: err}
	}

	return Open(path)
}

func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &datafile.IOError{Op: "open", Err: err}
	}

	db, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		return nil, &datafile.IOError{Op: "open", Err: err}
	}

	bs := &Store{
		db:        db,
		nextRecNo: 1,
	}
	err = db.View(
		func(tx *bbolt.Tx) error {
			mb := tx.Bucket(metaBucket)
			rb := tx.Bucket(recordsBucket)
			if mb == nil || rb == nil {
				return errMissingBucket
			}

			hdr := mb.Get(headerKey)
			if hdr == nil {
				return &datafile.FormatError{Msg: "bbolt: missing header"}
			}
			sch, err := datafile.ReadSchema(bytes.NewReader(hdr))
			if err != nil {
				return err
			}
			bs.schema = sch

			key, _ := rb.Cursor().Last()
			if key != nil {
				bs.nextRecNo = decodeKey(key) + 1
			}
			return nil
		})
	if err != nil {
		db.Close()
		var fe *datafile.FormatError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &datafile.IOError{Op: "open", Err: err}
	}
	return bs, nil
}

func (bs *Store) Schema() *datafile.Schema {
	return bs.schema
}

func (bs *Store) NumFields() int {
	return bs.schema.NumFields()
}

func (bs *Store) Load() (map[int]datafile.Record, error) {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	recs := map[int]datafile.Record{}
	err := bs.db.View(
		func(tx *bbolt.Tx) error {
			rb := tx.Bucket(recordsBucket)
			if rb == nil {
				return errMissingBucket
			}
			return rb.ForEach(
				func(key, val []byte) error {
					rec, err := bs.schema.DecodeRecord(val)
					if err != nil {
						return err
					}
					recs[decodeKey(key)] = rec
					return nil
				})
		})
	if err != nil {
		var fe *datafile.FormatError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &datafile.IOError{Op: "load", Err: err}
	}
	return recs, nil
}

func (bs *Store) put(op string, recNo int, val []byte) error {
	err := bs.db.Update(
		func(tx *bbolt.Tx) error {
			rb := tx.Bucket(recordsBucket)
			if rb == nil {
				return errMissingBucket
			}
			return rb.Put(encodeKey(recNo), val)
		})
	if err != nil {
		return &datafile.IOError{Op: op, RecNo: recNo, Err: err}
	}
	return nil
}

func (bs *Store) Create(fields []string) (int, error) {
	buf, err := bs.schema.EncodeRecord(fields, false)
	if err != nil {
		return 0, err
	}

	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	recNo := bs.nextRecNo
	err = bs.put("create", recNo, buf)
	if err != nil {
		return 0, err
	}
	bs.nextRecNo += 1
	return recNo, nil
}

func (bs *Store) Update(recNo int, fields []string) error {
	buf, err := bs.schema.EncodeRecord(fields, false)
	if err != nil {
		return err
	}

	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if recNo < 1 || recNo >= bs.nextRecNo {
		return &datafile.FormatError{Msg: "bbolt: update of a record that does not exist"}
	}
	return bs.put("update", recNo, buf)
}

// Delete sets the tombstone byte of the stored record; the field bytes are kept.
func (bs *Store) Delete(recNo int) error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	err := bs.db.Update(
		func(tx *bbolt.Tx) error {
			rb := tx.Bucket(recordsBucket)
			if rb == nil {
				return errMissingBucket
			}
			val := rb.Get(encodeKey(recNo))
			if val == nil {
				return &datafile.FormatError{Msg: "bbolt: delete of a record that does not exist"}
			}
			// val is only valid for the life of the transaction.
			buf := append([]byte(nil), val...)
			buf[0] = 1
			return rb.Put(encodeKey(recNo), buf)
		})
	if err != nil {
		var fe *datafile.FormatError
		if errors.As(err, &fe) {
			return err
		}
		return &datafile.IOError{Op: "delete", RecNo: recNo, Err: err}
	}
	return nil
}

func (bs *Store) Close() error {
	err := bs.db.Close()
	if err != nil {
		return &datafile.IOError{Op: "close", Err: err}
	}
	return nil
}

// Copy writes every record of df, live or deleted, into bs keeping its record number.
func Copy(bs *Store, df *datafile.File) (int, error) {
	if !sameLayout(bs.schema, df.Schema()) {
		return 0, &datafile.FormatError{Msg: "bbolt: data file has a different layout"}
	}

	recs, err := df.Load()
	if err != nil {
		return 0, err
	}

	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	err = bs.db.Update(
		func(tx *bbolt.Tx) error {
			rb := tx.Bucket(recordsBucket)
			if rb == nil {
				return errMissingBucket
			}
			for recNo, rec := range recs {
				buf, err := bs.schema.EncodeRecord(rec.Fields, rec.Deleted)
				if err != nil {
					return err
				}
				err = rb.Put(encodeKey(recNo), buf)
				if err != nil {
					return err
				}
				if recNo >= bs.nextRecNo {
					bs.nextRecNo = recNo + 1
				}
			}
			return nil
		})
	if err != nil {
		var fe *datafile.FormatError
		if errors.As(err, &fe) {
			return 0, err
		}
		return 0, &datafile.IOError{Op: "copy", Err: err}
	}
	return len(recs), nil
}

func sameLayout(sch1, sch2 *datafile.Schema) bool {
	if len(sch1.Fields) != len(sch2.Fields) {
		return false
	}
	for fdx := range sch1.Fields {
		if sch1.Fields[fdx].Width != sch2.Fields[fdx].Width {
			return false
		}
	}
	return true
}
