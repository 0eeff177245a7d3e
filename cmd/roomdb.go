package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/hcl"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	roomdbCmd = &cobra.Command{
		Use:               "roomdb",
		Short:             "A room booking record store",
		Long:              "Roomdb is a fixed schema record store with per record locking.",
		PersistentPreRunE: roomdbPreRun,
		PersistentPostRun: roomdbPostRun,
		SilenceUsage:      true,
	}

	logFile   = "roomdb.log"
	logLevel  = "info"
	logStderr = false
	logWriter io.WriteCloser

	configFile = "roomdb.hcl"
	noConfig   = false

	cfgVars   = map[string]*pflag.Flag{}
	cfg       = map[string]interface{}{}
	usedFlags = map[string]struct{}{}
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := roomdbCmd.PersistentFlags()

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	cfgVars["log-file"] = fs.Lookup("log-file")

	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	cfgVars["log-level"] = fs.Lookup("log-level")

	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")
}

func Execute() error {
	return roomdbCmd.Execute()
}

func roomdbPreRun(cmd *cobra.Command, args []string) error {
	cmd.Flags().Visit(
		func(flg *pflag.Flag) {
			usedFlags[flg.Name] = struct{}{}
		})

	if configFile != "" && !noConfig {
		err := loadConfig()
		if err != nil {
			return fmt.Errorf("roomdb: %s", err)
		}
	}

	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("roomdb: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("roomdb: %s", err)
	}
	log.SetLevel(ll)

	log.WithFields(log.Fields{
		"pid":     os.Getpid(),
		"command": cmd.Name(),
	}).Info("roomdb starting")
	return nil
}

func roomdbPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("roomdb done")

	if logWriter != nil {
		logWriter.Close()
	}
}

func loadConfig() error {
	b, err := os.ReadFile(configFile)
	if err != nil {
		// Only an explicitly named config file must exist.
		if _, ok := usedFlags["config-file"]; !ok && os.IsNotExist(err) {
			return nil
		}
		return err
	}

	return applyConfig(string(b))
}

// applyConfig sets each flag named in the config which was not set on the command line.
func applyConfig(s string) error {
	err := hcl.Decode(&cfg, s)
	if err != nil {
		return err
	}

	for name, val := range cfg {
		flg, ok := cfgVars[name]
		if !ok {
			return fmt.Errorf("%s is not a config variable", name)
		}
		if flg == nil {
			continue
		}
		if _, ok := usedFlags[flg.Name]; ok {
			continue
		}
		vals, ok := val.([]interface{})
		if !ok {
			vals = []interface{}{val}
		}
		for _, v := range vals {
			err := flg.Value.Set(fmt.Sprintf("%v", v))
			if err != nil {
				return fmt.Errorf("%s: %s", name, err)
			}
		}
	}

	return nil
}
