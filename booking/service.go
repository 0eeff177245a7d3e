// Package booking finds and books rooms kept in a record store.
package booking

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/roomdb/db"
)

var (
	ErrAlreadyBooked   = errors.New("booking: room already booked")
	ErrInvalidCustomer = errors.New("booking: customer must be 1 to 8 digits")
	ErrUnknownCriteria = errors.New("booking: unknown search criteria")
	ErrRoomNotFound    = errors.New("booking: room not found")

	customerRegexp = regexp.MustCompile(`^[0-9]{1,8}$`)
)

// DB is the part of a record store used by a Service; *db.Store implements it.
type DB interface {
	Read(recNo int) ([]string, error)
	Find(criteria []string) ([]int, error)
	Update(recNo int, fields []string, tok db.Token) error
	Lock(recNo int) (db.Token, error)
	Unlock(recNo int, tok db.Token) error
}

type Service struct {
	db       DB
	searches *prometheus.CounterVec
	bookings *prometheus.CounterVec
}

func NewService(d DB, registerer prometheus.Registerer) *Service {
	svc := &Service{
		db: d,
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searches_total",
			Help: "Total number of room searches by criteria and result.",
		}, []string{"criteria", "result"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookings_total",
			Help: "Total number of room bookings by result.",
		}, []string{"result"}),
	}

	prometheus.WrapRegistererWithPrefix("roomdb_booking_", registerer).MustRegister(
		svc.searches, svc.bookings)
	return svc
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyBooked):
		return "booked"
	case errors.Is(err, ErrInvalidCustomer), errors.Is(err, ErrUnknownCriteria):
		return "invalid"
	case errors.Is(err, ErrRoomNotFound):
		return "not_found"
	}
	return "error"
}

// Search returns the rooms matching crit in record number order. Search takes no
// locks: a room deleted while the search is in progress is left out.
func (svc *Service) Search(crit Criteria) ([]Room, error) {
	var rooms []Room
	var err error
	var kind string

	switch crit := crit.(type) {
	case All:
		kind = "all"
		rooms, err = svc.matching(make([]string, NumFields), nil)
	case ExactAnd:
		kind = "and"
		// An empty name or location equals no room, so neither does the conjunction.
		if crit.Name == "" || crit.Location == "" {
			break
		}
		criteria := make([]string, NumFields)
		criteria[NameField] = crit.Name
		criteria[LocationField] = crit.Location
		rooms, err = svc.matching(criteria,
			func(fields []string) bool {
				return fields[NameField] == crit.Name && fields[LocationField] == crit.Location
			})
	case ExactOr:
		kind = "or"
		rooms, err = svc.searchOr(crit)
	default:
		kind = "unknown"
		err = fmt.Errorf("%w: %s", ErrUnknownCriteria, crit)
	}

	svc.searches.WithLabelValues(kind, result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (svc *Service) searchOr(crit ExactOr) ([]Room, error) {
	seen := map[int]Room{}

	search := func(field int, val string) error {
		if val == "" {
			return nil
		}
		criteria := make([]string, NumFields)
		criteria[field] = val
		rooms, err := svc.matching(criteria,
			func(fields []string) bool {
				return fields[field] == val
			})
		if err != nil {
			return err
		}
		for _, r := range rooms {
			seen[r.RecNo] = r
		}
		return nil
	}

	err := search(NameField, crit.Name)
	if err != nil {
		return nil, err
	}
	err = search(LocationField, crit.Location)
	if err != nil {
		return nil, err
	}

	rooms := make([]Room, 0, len(seen))
	for _, r := range seen {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RecNo < rooms[j].RecNo })
	return rooms, nil
}

// matching finds by prefix and then rereads each record, keeping it if exact is nil or
// returns true.
func (svc *Service) matching(criteria []string, exact func(fields []string) bool) ([]Room,
	error) {

	recNos, err := svc.db.Find(criteria)
	if err != nil {
		log.WithField("criteria", criteria).WithError(err).Error("booking: find failed")
		return nil, err
	}

	rooms := make([]Room, 0, len(recNos))
	for _, recNo := range recNos {
		fields, err := svc.db.Read(recNo)
		if errors.Is(err, db.ErrRecordNotFound) {
			continue
		} else if err != nil {
			log.WithField("recno", recNo).WithError(err).Error("booking: read failed")
			return nil, err
		}
		if exact != nil && !exact(fields) {
			continue
		}
		r, err := FromRecord(recNo, fields)
		if err != nil {
			log.WithField("recno", recNo).WithError(err).Warn("booking: bad room record")
			continue
		}
		rooms = append(rooms, r)
	}
	return rooms, nil
}

// Book sets the owner of an unbooked room to customer.
func (svc *Service) Book(recNo int, customer string) error {
	err := svc.book(recNo, customer)
	svc.bookings.WithLabelValues(result(err)).Inc()
	return err
}

func (svc *Service) book(recNo int, customer string) (err error) {
	if !customerRegexp.MatchString(customer) {
		return ErrInvalidCustomer
	}

	tok, err := svc.db.Lock(recNo)
	if errors.Is(err, db.ErrRecordNotFound) {
		return ErrRoomNotFound
	} else if err != nil {
		log.WithField("recno", recNo).WithError(err).Error("booking: lock failed")
		return err
	}
	defer func() {
		uerr := svc.db.Unlock(recNo, tok)
		if uerr != nil {
			log.WithField("recno", recNo).WithError(uerr).Error("booking: unlock failed")
			if err == nil {
				err = uerr
			}
		}
	}()

	fields, err := svc.db.Read(recNo)
	if errors.Is(err, db.ErrRecordNotFound) {
		return ErrRoomNotFound
	} else if err != nil {
		log.WithField("recno", recNo).WithError(err).Error("booking: read failed")
		return err
	}
	if len(fields) != NumFields {
		return fmt.Errorf("booking: record %d: got %d fields; want %d", recNo, len(fields),
			NumFields)
	}
	if fields[OwnerField] != "" {
		return ErrAlreadyBooked
	}

	// The fields returned by Read are shared with the store.
	update := append(make([]string, 0, len(fields)), fields...)
	update[OwnerField] = customer
	err = svc.db.Update(recNo, update, tok)
	if err != nil {
		log.WithFields(log.Fields{
			"recno":    recNo,
			"customer": customer,
		}).WithError(err).Error("booking: update failed")
		return err
	}

	log.WithFields(log.Fields{
		"recno":    recNo,
		"customer": customer,
	}).Info("booking: room booked")
	return nil
}
