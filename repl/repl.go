package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/roomdb/booking"
	"github.com/leftmike/roomdb/server"
)

const helpText = `Booking:
    book,<record number>,<customer id>
    e.g. book,3,54891209

Searching:
    find
    find,{name|loc}=XX
    find,name=XX,{and|or},loc=YY

Other:
    help
    quit
`

var (
	errInvalidCommand = errors.New("invalid command")
)

// Service is the part of a booking service used by the command interpreter.
type Service interface {
	Search(crit booking.Criteria) ([]booking.Room, error)
	Book(recNo int, customer string) error
}

type scanLines struct {
	scanner *bufio.Scanner
}

func (sl scanLines) ReadLine() (string, error) {
	if !sl.scanner.Scan() {
		err := sl.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		return "", err
	}
	return sl.scanner.Text(), nil
}

// Lines reads commands from r, one per line.
func Lines(r io.Reader) server.LineReader {
	return scanLines{scanner: bufio.NewScanner(r)}
}

// Repl runs commands read from lr against svc until the input ends or quit is entered.
// Errors from commands are written to w and do not end the session.
func Repl(svc Service, lr server.LineReader, w io.Writer) {
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return
		} else if err != nil {
			fmt.Fprintf(w, "error: %s\n", err)
			return
		}

		quit, err := run(svc, line, w)
		if err != nil {
			fmt.Fprintf(w, "error: %s\n", err)
		}
		if quit {
			return
		}
	}
}

// Exec runs the single command in line against svc. Unlike Repl it returns the error
// from the command, after writing it to w.
func Exec(svc Service, line string, w io.Writer) error {
	_, err := run(svc, line, w)
	if err != nil {
		fmt.Fprintf(w, "error: %s\n", err)
	}
	return err
}

func run(svc Service, line string, w io.Writer) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	args := strings.Split(line, ",")
	for adx := range args {
		args[adx] = strings.TrimSpace(args[adx])
	}

	switch args[0] {
	case "help":
		fmt.Fprint(w, helpText)
	case "quit", "exit":
		return true, nil
	case "find":
		return false, find(svc, args[1:], w)
	case "book":
		return false, book(svc, args[1:], w)
	default:
		return false, fmt.Errorf("unknown command %s; type help for commands", args[0])
	}
	return false, nil
}

func setTerm(term string, name, loc *string) error {
	key, val, ok := strings.Cut(term, "=")
	if !ok || val == "" {
		return errInvalidCommand
	}
	switch key {
	case "name":
		*name = val
	case "loc":
		*loc = val
	default:
		return errInvalidCommand
	}
	return nil
}

func parseCriteria(args []string) (booking.Criteria, error) {
	switch len(args) {
	case 0:
		return booking.All{}, nil
	case 1:
		var eo booking.ExactOr
		err := setTerm(args[0], &eo.Name, &eo.Location)
		if err != nil {
			return nil, err
		}
		return eo, nil
	case 3:
		var name, loc string
		err := setTerm(args[0], &name, &loc)
		if err != nil {
			return nil, err
		}
		err = setTerm(args[2], &name, &loc)
		if err != nil {
			return nil, err
		}
		switch args[1] {
		case "and":
			return booking.ExactAnd{Name: name, Location: loc}, nil
		case "or":
			return booking.ExactOr{Name: name, Location: loc}, nil
		}
	}
	return nil, errInvalidCommand
}

func find(svc Service, args []string, w io.Writer) error {
	crit, err := parseCriteria(args)
	if err != nil {
		return err
	}
	rooms, err := svc.Search(crit)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"RecNo", "Name", "Location", "Size", "Smoking", "Rate", "Date",
		"Owner"})
	for _, r := range rooms {
		smoking := "N"
		if r.Smoking {
			smoking = "Y"
		}
		tw.Append([]string{strconv.Itoa(r.RecNo), r.Name, r.Location, strconv.Itoa(r.Size),
			smoking, r.Rate, r.Date, r.Owner})
	}
	tw.Render()
	fmt.Fprintf(w, "(%d rooms)\n", len(rooms))
	return nil
}

func book(svc Service, args []string, w io.Writer) error {
	if len(args) != 2 {
		return errInvalidCommand
	}
	recNo, err := strconv.Atoi(args[0])
	if err != nil || recNo < 1 {
		return fmt.Errorf("bad record number: %s", args[0])
	}

	err = svc.Book(recNo, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "booked room %d for %s\n", recNo, args[1])
	return nil
}

// Handler returns a server handler that runs a command session for each client. A
// client with a command runs just that command, with the command's error as the result.
func Handler(svc Service) server.Handler {
	return server.HandlerFunc(
		func(c *server.Client) error {
			entry := log.WithFields(log.Fields{
				"user": c.User,
				"type": c.Type,
			})
			if c.Addr != nil {
				entry = entry.WithField("addr", c.Addr.String())
			}

			if c.Command != "" {
				entry = entry.WithField("command", c.Command)
				err := Exec(svc, c.Command, c.Writer)
				entry.WithField("failed", err != nil).Info("command done")
				return err
			}

			entry.Info("session started")
			Repl(svc, c.LineReader, c.Writer)
			entry.Info("session done")
			return nil
		})
}
