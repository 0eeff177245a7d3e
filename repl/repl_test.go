package repl_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/andreyvit/diff"

	"github.com/leftmike/roomdb/booking"
	"github.com/leftmike/roomdb/datafile"
	"github.com/leftmike/roomdb/db"
	"github.com/leftmike/roomdb/repl"
	"github.com/leftmike/roomdb/server"
	"github.com/leftmike/roomdb/testutil"
)

func openService(t *testing.T) *booking.Service {
	t.Helper()

	rooms := []booking.Room{
		{Name: "Palace", Location: "Smallville", Size: 2, Smoking: true, Rate: "$150.00",
			Date: "2005/07/27"},
		{Name: "Castle", Location: "Smallville", Size: 6, Rate: "$220.00",
			Date: "2005/11/19", Owner: "12345678"},
		{Name: "Palace", Location: "Whoville", Size: 4, Rate: "$90.00", Date: "2005/09/11"},
	}
	var recs []datafile.Record
	for _, r := range rooms {
		recs = append(recs, datafile.Record{Fields: r.ToRecord()})
	}

	path := testutil.WriteDataFile(t, booking.RoomFields, recs)
	st, err := db.Open(path, nil)
	if err != nil {
		t.Fatalf("Open(%s) failed with %s", path, err)
	}
	t.Cleanup(func() { st.Close() })
	return booking.NewService(st, nil)
}

func run(svc repl.Service, input string) string {
	var buf bytes.Buffer
	repl.Repl(svc, repl.Lines(strings.NewReader(input)), &buf)
	return buf.String()
}

func TestCommands(t *testing.T) {
	testutil.SetupLogger("repl_test.log")

	svc := openService(t)

	cases := []struct {
		input  string
		output string
	}{
		{
			input: "\n  \nbook,1,87654321\nbook,1,11111111\nbook, 3 , 42\n",
			output: `booked room 1 for 87654321
error: booking: room already booked
booked room 3 for 42
`,
		},
		{
			input: "book,9,1\nbook,x,1\nbook,0,1\nbook,2\nbook,2,abc\n",
			output: `error: booking: room not found
error: bad record number: x
error: bad record number: 0
error: invalid command
error: booking: customer must be 1 to 8 digits
`,
		},
		{
			input: "find,size=2\nfind,name\nfind,name=A,xor,loc=B\nfind,a,b\nlist\n",
			output: `error: invalid command
error: invalid command
error: invalid command
error: invalid command
error: unknown command list; type help for commands
`,
		},
		{
			input: "quit\nbook,2,1\n",
		},
	}

	for _, c := range cases {
		output := run(svc, c.input)
		if output != c.output {
			t.Errorf("Repl(%q) got\n%s", c.input, diff.LineDiff(c.output, output))
		}
	}
}

func TestHelp(t *testing.T) {
	output := run(nil, "help\nexit\n")
	want := `Booking:
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
	if output != want {
		t.Errorf("Repl(help) got\n%s", diff.LineDiff(want, output))
	}
}

func TestFind(t *testing.T) {
	testutil.SetupLogger("repl_test.log")

	svc := openService(t)

	cases := []struct {
		input string
		rows  []string
		count string
	}{
		{input: "find", rows: []string{"Palace", "Castle", "Whoville"}, count: "(3 rooms)"},
		{input: "find,name=Palace", rows: []string{"Smallville", "Whoville"},
			count: "(2 rooms)"},
		{input: "find,loc=Smallville", rows: []string{"Palace", "Castle", "12345678"},
			count: "(2 rooms)"},
		{input: "find,name=Palace,and,loc=Whoville", rows: []string{"$90.00"},
			count: "(1 rooms)"},
		{input: "find,name=Castle,or,loc=Whoville", rows: []string{"Castle", "Whoville"},
			count: "(2 rooms)"},
		{input: "find,name=Nothing", count: "(0 rooms)"},
	}

	for _, c := range cases {
		output := run(svc, c.input)
		for _, s := range append([]string{"RecNo", "Location", "Owner", c.count}, c.rows...) {
			if !strings.Contains(output, s) {
				t.Errorf("Repl(%q) missing %s:\n%s", c.input, s, output)
			}
		}
	}

	output := run(svc, "find,name=Palace,and,loc=Whoville")
	if strings.Contains(output, "Smallville") {
		t.Errorf("Repl(find and) got a room in Smallville:\n%s", output)
	}
}

func TestHandlerCommand(t *testing.T) {
	testutil.SetupLogger("repl_test.log")

	svc := openService(t)
	h := repl.Handler(svc)

	cases := []struct {
		command string
		output  string
		fail    bool
	}{
		{command: "book,1,42", output: "booked room 1 for 42\n"},
		{command: "book,1,43", output: "error: booking: room already booked\n", fail: true},
		{command: "find,a,b", output: "error: invalid command\n", fail: true},
		{command: "list", output: "error: unknown command list; type help for commands\n",
			fail: true},
		{command: "quit", output: ""},
	}

	for _, c := range cases {
		var buf bytes.Buffer
		err := h.Serve(&server.Client{Command: c.command, Writer: &buf, Type: "test"})
		if c.fail {
			if err == nil {
				t.Errorf("Serve(%q) did not fail", c.command)
			}
		} else if err != nil {
			t.Errorf("Serve(%q) failed with %s", c.command, err)
		}
		if buf.String() != c.output {
			t.Errorf("Serve(%q) got %q want %q", c.command, buf.String(), c.output)
		}
	}

	var buf bytes.Buffer
	err := h.Serve(&server.Client{Command: "find,loc=Whoville", Writer: &buf, Type: "test"})
	if err != nil {
		t.Errorf("Serve(find,loc=Whoville) failed with %s", err)
	} else if !strings.Contains(buf.String(), "(1 rooms)") {
		t.Errorf("Serve(find,loc=Whoville) got\n%s", buf.String())
	}

	buf.Reset()
	err = h.Serve(&server.Client{
		LineReader: repl.Lines(strings.NewReader("book,3,7\nlist\n")),
		Writer:     &buf,
		Type:       "test",
	})
	if err != nil {
		t.Errorf("Serve(session) failed with %s", err)
	}
	want := "booked room 3 for 7\nerror: unknown command list; type help for commands\n"
	if buf.String() != want {
		t.Errorf("Serve(session) got\n%s", diff.LineDiff(want, buf.String()))
	}
}
