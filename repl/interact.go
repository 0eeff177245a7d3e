package repl

import (
	"fmt"
	"io"
	"os"

	"github.com/peterh/liner"
)

const (
	roomdbHistory = ".roomdb_history"
)

type lineReader struct {
	line *liner.State
}

func (lr lineReader) ReadLine() (string, error) {
	s, err := lr.line.Prompt("roomdb: ")
	if err == liner.ErrPromptAborted {
		return "", io.EOF
	} else if err != nil {
		return "", err
	}
	lr.line.AppendHistory(s)
	return s, nil
}

// Interact runs an interactive console session against svc on the terminal.
func Interact(svc Service) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	if f, err := os.Open(roomdbHistory); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	fmt.Fprint(os.Stdout, "Enter a command; type help to show commands.\n")
	Repl(svc, lineReader{line: line}, os.Stdout)

	if f, err := os.Create(roomdbHistory); err != nil {
		fmt.Fprintf(os.Stderr, "roomdb: error writing history file, %s: %s", roomdbHistory, err)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
}
