package testutil

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	logDir = flag.String("log-dir", "",
		"`directory` for test log files; the default is the package directory")
	logLevel = flag.String("log-level", "info",
		"test log level: trace, debug, info, warn, or error")
	logStderr = flag.Bool("log-stderr", false, "log to standard error instead of a file")

	setupOnce sync.Once
)

// SetupLogger sends the standard logger to the log file name for the rest of the test
// binary. Only the first call in a binary opens a file; later calls share it.
func SetupLogger(name string) *log.Logger {
	setupOnce.Do(func() {
		ll, err := log.ParseLevel(*logLevel)
		if err != nil {
			panic(fmt.Sprintf("testutil: -log-level: %s", err))
		}
		log.SetLevel(ll)
		log.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})

		if !*logStderr {
			path := filepath.Join(*logDir, name)
			w, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
			if err != nil {
				panic(fmt.Sprintf("testutil: log file: %s", err))
			}
			log.SetOutput(w)
		}

		log.WithFields(log.Fields{
			"pid":  os.Getpid(),
			"args": os.Args[1:],
		}).Info("tests starting")
	})
	return log.StandardLogger()
}
