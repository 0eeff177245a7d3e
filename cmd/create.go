package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leftmike/roomdb/boltstore"
	"github.com/leftmike/roomdb/booking"
	"github.com/leftmike/roomdb/datafile"
)

var (
	createCmd = &cobra.Command{
		Use:   "create [file]",
		Short: "Create an empty room data file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  createRun,
	}
)

func init() {
	initStoreFlags(createCmd.Flags())

	roomdbCmd.AddCommand(createCmd)
}

func createRoomFile(path, store string) error {
	switch store {
	case "file":
		df, err := datafile.Create(path, booking.Cookie, booking.RoomFields)
		if err != nil {
			return err
		}
		return df.Close()
	case "bbolt":
		bs, err := boltstore.Create(path, booking.Cookie, booking.RoomFields)
		if err != nil {
			return err
		}
		return bs.Close()
	}
	return fmt.Errorf("got %s for store; want file or bbolt", store)
}

func createRun(cmd *cobra.Command, args []string) error {
	path := dataFile
	if len(args) > 0 {
		path = args[0]
	}

	err := createRoomFile(path, store)
	if err != nil {
		return fmt.Errorf("roomdb: %s", err)
	}
	fmt.Printf("roomdb: created %s\n", path)
	return nil
}
