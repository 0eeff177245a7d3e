package booking

import (
	"fmt"
	"strconv"

	"github.com/leftmike/roomdb/datafile"
)

const (
	NameField = iota
	LocationField
	SizeField
	SmokingField
	RateField
	DateField
	OwnerField

	NumFields
)

// Cookie identifies a room data file.
const Cookie = 0x00000101

var (
	RoomFields = []datafile.Field{
		{Name: "name", Width: 64},
		{Name: "location", Width: 64},
		{Name: "size", Width: 4},
		{Name: "smoking", Width: 1},
		{Name: "rate", Width: 8},
		{Name: "date", Width: 10},
		{Name: "owner", Width: 8},
	}
)

type Room struct {
	RecNo    int
	Name     string
	Location string
	Size     int
	Smoking  bool
	Rate     string
	Date     string
	Owner    string
}

func FromRecord(recNo int, fields []string) (Room, error) {
	if len(fields) != NumFields {
		return Room{}, fmt.Errorf("booking: record %d: got %d fields; want %d", recNo,
			len(fields), NumFields)
	}

	var size int
	if fields[SizeField] != "" {
		var err error
		size, err = strconv.Atoi(fields[SizeField])
		if err != nil {
			return Room{}, fmt.Errorf("booking: record %d: size: %w", recNo, err)
		}
	}

	return Room{
		RecNo:    recNo,
		Name:     fields[NameField],
		Location: fields[LocationField],
		Size:     size,
		Smoking:  fields[SmokingField] == "Y",
		Rate:     fields[RateField],
		Date:     fields[DateField],
		Owner:    fields[OwnerField],
	}, nil
}

func (r Room) ToRecord() []string {
	fields := make([]string, NumFields)
	fields[NameField] = r.Name
	fields[LocationField] = r.Location
	fields[SizeField] = strconv.Itoa(r.Size)
	if r.Smoking {
		fields[SmokingField] = "Y"
	} else {
		fields[SmokingField] = "N"
	}
	fields[RateField] = r.Rate
	fields[DateField] = r.Date
	fields[OwnerField] = r.Owner
	return fields
}

func (r Room) Booked() bool {
	return r.Owner != ""
}
