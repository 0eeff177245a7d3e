package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/leftmike/roomdb/booking"
	"github.com/leftmike/roomdb/repl"
)

var (
	replCmd = &cobra.Command{
		Use:   "repl [file]...",
		Short: "Run commands from files or an interactive console session",
		RunE:  replRun,
	}
)

func init() {
	initStoreFlags(replCmd.Flags())

	roomdbCmd.AddCommand(replCmd)
}

func replRun(cmd *cobra.Command, args []string) error {
	st, err := openStore(nil)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := booking.NewService(st, nil)
	if len(args) == 0 {
		repl.Interact(svc)
		return nil
	}

	for _, arg := range args {
		f, err := os.Open(arg)
		if err != nil {
			return err
		}
		repl.Repl(svc, repl.Lines(f), os.Stdout)
		f.Close()
	}
	return nil
}
