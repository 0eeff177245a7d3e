package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/roomdb/boltstore"
	"github.com/leftmike/roomdb/datafile"
)

var (
	convertCmd = &cobra.Command{
		Use:   "convert <bbolt-file>",
		Short: "Copy the records of a data file into a new bbolt store",
		Args:  cobra.ExactArgs(1),
		RunE:  convertRun,
	}
)

func init() {
	fs := convertCmd.Flags()
	fs.StringVar(&dataFile, "data-file", dataFile, "`file` containing the room records")
	cfgVars["data-file"] = fs.Lookup("data-file")

	roomdbCmd.AddCommand(convertCmd)
}

func convertFile(from, to string) (int, error) {
	df, err := datafile.Open(from)
	if err != nil {
		return 0, err
	}
	defer df.Close()

	sch := df.Schema()
	bs, err := boltstore.Create(to, sch.Cookie, sch.Fields)
	if err != nil {
		return 0, err
	}
	defer bs.Close()

	return boltstore.Copy(bs, df)
}

func convertRun(cmd *cobra.Command, args []string) error {
	cnt, err := convertFile(dataFile, args[0])
	if err != nil {
		return fmt.Errorf("roomdb: %s", err)
	}

	log.WithFields(log.Fields{
		"from":    dataFile,
		"to":      args[0],
		"records": cnt,
	}).Info("converted data file")
	fmt.Printf("roomdb: copied %d records from %s to %s\n", cnt, dataFile, args[0])
	return nil
}
