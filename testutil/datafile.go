package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/leftmike/roomdb/datafile"
)

const (
	TestCookie = 0x00000101
)

// WriteDataFile writes a data file holding recs into a temporary directory and
// returns its path.
func WriteDataFile(t testing.TB, fields []datafile.Field, recs []datafile.Record) string {
	t.Helper()

	var buf bytes.Buffer
	err := datafile.WriteHeader(&buf, TestCookie, fields)
	if err != nil {
		t.Fatalf("WriteHeader() failed with %s", err)
	}

	sch, err := datafile.ReadSchema(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadSchema() failed with %s", err)
	}
	for _, rec := range recs {
		b, err := sch.EncodeRecord(rec.Fields, rec.Deleted)
		if err != nil {
			t.Fatalf("EncodeRecord(%v) failed with %s", rec.Fields, err)
		}
		buf.Write(b)
	}

	path := filepath.Join(t.TempDir(), "test.db")
	err = os.WriteFile(path, buf.Bytes(), 0644)
	if err != nil {
		t.Fatal(err)
	}
	return path
}
