package datafile

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

const (
	liveFlag    = 0
	deletedFlag = 1

	padByte = ' '
)

type Field struct {
	Name  string
	Width int
}

// Schema describes the layout of a data file. It is decoded once from the
// header and never changes for the lifetime of the file.
type Schema struct {
	Cookie uint32
	Fields []Field

	// RecordLength is the declared data length plus the leading tombstone byte. The
	// fields may not fill all of it; the rest of each record is padding.
	RecordLength int
	DataStart    int64
}

type Record struct {
	Fields  []string
	Deleted bool
}

type FormatError struct {
	Msg string
}

func (fe *FormatError) Error() string {
	return "datafile: " + fe.Msg
}

func formatError(format string, args ...interface{}) error {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

type headerReader struct {
	r   io.Reader
	n   int64
	buf [4]byte
}

func (hr *headerReader) read(b []byte, what string) error {
	n, err := io.ReadFull(hr.r, b)
	hr.n += int64(n)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return formatError("header truncated reading %s at byte %d", what, hr.n)
	} else if err != nil {
		return &IOError{Op: "read header", Err: err}
	}
	return nil
}

func (hr *headerReader) uint32(what string) (uint32, error) {
	err := hr.read(hr.buf[:4], what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(hr.buf[:4]), nil
}

func (hr *headerReader) uint16(what string) (int, error) {
	err := hr.read(hr.buf[:2], what)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(hr.buf[:2])), nil
}

// ReadSchema decodes the header at the start of r. The data section starts
// immediately after the last byte consumed.
func ReadSchema(r io.Reader) (*Schema, error) {
	hr := headerReader{r: r}

	cookie, err := hr.uint32("cookie")
	if err != nil {
		return nil, err
	}
	dataLen, err := hr.uint32("record length")
	if err != nil {
		return nil, err
	}
	numFields, err := hr.uint16("field count")
	if err != nil {
		return nil, err
	}

	sch := &Schema{
		Cookie:       cookie,
		Fields:       make([]Field, numFields),
		RecordLength: int(dataLen) + 1,
	}

	var total int
	for fdx := 0; fdx < numFields; fdx += 1 {
		nameLen, err := hr.uint16(fmt.Sprintf("field %d name length", fdx))
		if err != nil {
			return nil, err
		}
		name := make([]byte, nameLen)
		err = hr.read(name, fmt.Sprintf("field %d name", fdx))
		if err != nil {
			return nil, err
		}
		width, err := hr.uint16(fmt.Sprintf("field %d width", fdx))
		if err != nil {
			return nil, err
		}

		sch.Fields[fdx] = Field{Name: string(name), Width: width}
		total += width
	}

	if total > int(dataLen) {
		return nil, formatError("field widths sum to %d; header declares record length %d",
			total, dataLen)
	}

	sch.DataStart = hr.n
	return sch, nil
}

// WriteHeader writes a header describing fields; it is the inverse of ReadSchema.
func WriteHeader(w io.Writer, cookie uint32, fields []Field) error {
	var total int
	for _, fld := range fields {
		if fld.Width <= 0 || fld.Width > 0xFFFF {
			return formatError("field %s: width %d out of range", fld.Name, fld.Width)
		}
		if len(fld.Name) > 0xFFFF {
			return formatError("field %s: name too long", fld.Name)
		}
		total += fld.Width
	}
	if len(fields) > 0xFFFF {
		return formatError("too many fields: %d", len(fields))
	}

	buf := make([]byte, 0, 10+len(fields)*16)
	buf = binary.BigEndian.AppendUint32(buf, cookie)
	buf = binary.BigEndian.AppendUint32(buf, uint32(total))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(fields)))
	for _, fld := range fields {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(fld.Name)))
		buf = append(buf, fld.Name...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(fld.Width))
	}

	_, err := w.Write(buf)
	return err
}

func (sch *Schema) NumFields() int {
	return len(sch.Fields)
}

func (sch *Schema) offset(recNo int) int64 {
	return sch.DataStart + int64(sch.RecordLength)*int64(recNo-1)
}

// EncodeRecord returns the on-disk form of a record: the tombstone byte followed by
// each value right-padded with spaces to its field width.
func (sch *Schema) EncodeRecord(fields []string, deleted bool) ([]byte, error) {
	if len(fields) != len(sch.Fields) {
		return nil, formatError("got %d fields; want %d", len(fields), len(sch.Fields))
	}

	buf := make([]byte, 1, sch.RecordLength)
	if deleted {
		buf[0] = deletedFlag
	} else {
		buf[0] = liveFlag
	}

	for fdx, val := range fields {
		width := sch.Fields[fdx].Width
		if len(val) > width {
			return nil, formatError("value %q for field %s longer than %d bytes", val,
				sch.Fields[fdx].Name, width)
		}
		buf = append(buf, val...)
		for pad := width - len(val); pad > 0; pad -= 1 {
			buf = append(buf, padByte)
		}
	}
	for len(buf) < sch.RecordLength {
		buf = append(buf, padByte)
	}
	return buf, nil
}

// DecodeRecord is the inverse of EncodeRecord; trailing padding is trimmed from each
// value.
func (sch *Schema) DecodeRecord(buf []byte) (Record, error) {
	if len(buf) != sch.RecordLength {
		return Record{}, formatError("got record of %d bytes; want %d", len(buf),
			sch.RecordLength)
	}

	rec := Record{
		Fields:  make([]string, len(sch.Fields)),
		Deleted: buf[0] != liveFlag,
	}
	buf = buf[1:]
	for fdx, fld := range sch.Fields {
		rec.Fields[fdx] = Trim(string(buf[:fld.Width]))
		buf = buf[fld.Width:]
	}
	return rec, nil
}

// Trim removes the padding that is added to a value when it is written.
func Trim(val string) string {
	return strings.TrimRight(val, " ")
}
