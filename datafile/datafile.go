package datafile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// IOError reports a failure of the underlying file; RecNo is 0 when the operation
// was not against a single record.
type IOError struct {
	Op    string
	RecNo int
	Err   error
}

func (ioe *IOError) Error() string {
	if ioe.RecNo > 0 {
		return fmt.Sprintf("datafile: %s record %d: %s", ioe.Op, ioe.RecNo, ioe.Err)
	}
	return fmt.Sprintf("datafile: %s: %s", ioe.Op, ioe.Err)
}

func (ioe *IOError) Unwrap() error {
	return ioe.Err
}

// File does fixed width record I/O against a data file. Only one operation is in
// flight against the file at a time.
type File struct {
	mutex     sync.Mutex
	f         *os.File
	schema    *Schema
	nextRecNo int
}

func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}

	sch, err := ReadSchema(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &IOError{Op: "stat", Err: err}
	}

	return &File{
		f:         f,
		schema:    sch,
		nextRecNo: recordCount(sch, fi.Size()) + 1,
	}, nil
}

// Create makes a new data file containing only a header; the file must not already
// exist.
func Create(path string, cookie uint32, fields []Field) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, &IOError{Op: "create", Err: err}
	}

	err = WriteHeader(f, cookie, fields)
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		if _, ok := err.(*FormatError); ok {
			return nil, err
		}
		return nil, &IOError{Op: "write header", Err: err}
	}
	f.Close()

	return Open(path)
}

func recordCount(sch *Schema, size int64) int {
	if size <= sch.DataStart {
		return 0
	}
	return int((size - sch.DataStart) / int64(sch.RecordLength))
}

func (df *File) Schema() *Schema {
	return df.schema
}

func (df *File) NumFields() int {
	return len(df.schema.Fields)
}

// Load reads every record in the file. Record numbers are assigned sequentially,
// starting at 1, in file order.
func (df *File) Load() (map[int]Record, error) {
	df.mutex.Lock()
	defer df.mutex.Unlock()

	_, err := df.f.Seek(df.schema.DataStart, io.SeekStart)
	if err != nil {
		return nil, &IOError{Op: "seek", Err: err}
	}

	r := bufio.NewReader(df.f)
	buf := make([]byte, df.schema.RecordLength)
	recs := map[int]Record{}
	recNo := 1
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		} else if err == io.ErrUnexpectedEOF {
			return nil, formatError("short read loading record %d", recNo)
		} else if err != nil {
			return nil, &IOError{Op: "load", RecNo: recNo, Err: err}
		}

		rec, err := df.schema.DecodeRecord(buf)
		if err != nil {
			return nil, err
		}
		recs[recNo] = rec
		recNo += 1
	}

	df.nextRecNo = recNo
	return recs, nil
}

// Create appends a new live record and returns its record number.
func (df *File) Create(fields []string) (int, error) {
	buf, err := df.schema.EncodeRecord(fields, false)
	if err != nil {
		return 0, err
	}

	df.mutex.Lock()
	defer df.mutex.Unlock()

	recNo := df.nextRecNo
	_, err = df.f.WriteAt(buf, df.schema.offset(recNo))
	if err != nil {
		return 0, &IOError{Op: "create", RecNo: recNo, Err: err}
	}
	df.nextRecNo += 1
	return recNo, nil
}

// Update overwrites the record in place, clearing its tombstone.
func (df *File) Update(recNo int, fields []string) error {
	buf, err := df.schema.EncodeRecord(fields, false)
	if err != nil {
		return err
	}

	df.mutex.Lock()
	defer df.mutex.Unlock()

	if recNo < 1 || recNo >= df.nextRecNo {
		return formatError("update of record %d outside of file", recNo)
	}
	_, err = df.f.WriteAt(buf, df.schema.offset(recNo))
	if err != nil {
		return &IOError{Op: "update", RecNo: recNo, Err: err}
	}
	return nil
}

// Delete sets only the tombstone byte; the field bytes are left in place.
func (df *File) Delete(recNo int) error {
	df.mutex.Lock()
	defer df.mutex.Unlock()

	if recNo < 1 || recNo >= df.nextRecNo {
		return formatError("delete of record %d outside of file", recNo)
	}
	_, err := df.f.WriteAt([]byte{deletedFlag}, df.schema.offset(recNo))
	if err != nil {
		return &IOError{Op: "delete", RecNo: recNo, Err: err}
	}
	return nil
}

func (df *File) Close() error {
	df.mutex.Lock()
	defer df.mutex.Unlock()

	err := df.f.Close()
	if err != nil {
		return &IOError{Op: "close", Err: err}
	}
	return nil
}
