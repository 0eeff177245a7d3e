package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/leftmike/roomdb/boltstore"
	"github.com/leftmike/roomdb/booking"
	"github.com/leftmike/roomdb/db"
)

var (
	dataFile = "rooms.db"
	store    = "file"
)

func initStoreFlags(fs *pflag.FlagSet) {
	fs.StringVar(&dataFile, "data-file", dataFile, "`file` containing the room records")
	cfgVars["data-file"] = fs.Lookup("data-file")

	fs.StringVar(&store, "store", store, "storage to use: file or bbolt")
	cfgVars["store"] = fs.Lookup("store")
}

func openStore(registerer prometheus.Registerer) (*db.Store, error) {
	var st *db.Store
	var err error

	switch store {
	case "file":
		st, err = db.Open(dataFile, registerer)
	case "bbolt":
		var bs *boltstore.Store
		bs, err = boltstore.Open(dataFile)
		if err == nil {
			st, err = db.NewStore(bs, registerer)
			if err != nil {
				bs.Close()
			}
		}
	default:
		return nil, fmt.Errorf("roomdb: got %s for store; want file or bbolt", store)
	}
	if err != nil {
		return nil, fmt.Errorf("roomdb: %s", err)
	}

	if st.NumFields() != booking.NumFields {
		st.Close()
		return nil, fmt.Errorf("roomdb: %s: got %d fields; want %d", dataFile, st.NumFields(),
			booking.NumFields)
	}

	log.WithFields(log.Fields{
		"data-file": dataFile,
		"store":     store,
		"records":   st.Len(),
	}).Debug("opened store")
	return st, nil
}
