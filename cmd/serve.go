package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/roomdb/booking"
	"github.com/leftmike/roomdb/repl"
	"github.com/leftmike/roomdb/server"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve command sessions over SSH",
		RunE:  serveRun,
	}

	sshPort        = "localhost:8241"
	authorizedKeys = ""
	hostKeys       = []string{"id_rsa"}
	metricsAddr    = ""
)

func init() {
	fs := serveCmd.Flags()
	initStoreFlags(fs)

	fs.StringVar(&sshPort, "ssh-port", sshPort, "`port` used to serve SSH")
	cfgVars["ssh-port"] = fs.Lookup("ssh-port")

	fs.StringVar(&authorizedKeys, "ssh-authorized-keys", authorizedKeys,
		"`file` containing authorized ssh keys")
	cfgVars["ssh-authorized-keys"] = fs.Lookup("ssh-authorized-keys")

	fs.StringSliceVar(&hostKeys, "ssh-host-key", hostKeys,
		"`file` containing a ssh host key; multiple allowed")
	cfgVars["ssh-host-key"] = fs.Lookup("ssh-host-key")

	fs.StringVar(&metricsAddr, "metrics-addr", metricsAddr,
		"`address` used to serve prometheus metrics; empty to disable")
	cfgVars["metrics-addr"] = fs.Lookup("metrics-addr")

	cfgVars["accounts"] = nil

	roomdbCmd.AddCommand(serveCmd)
}

// appendAccounts collects account maps; hcl decodes an object as either a map or a list
// of maps.
func appendAccounts(accounts []map[string]interface{}, val interface{}) []map[string]interface{} {
	switch val := val.(type) {
	case map[string]interface{}:
		accounts = append(accounts, val)
	case []map[string]interface{}:
		accounts = append(accounts, val...)
	case []interface{}:
		for _, obj := range val {
			accounts = appendAccounts(accounts, obj)
		}
	}
	return accounts
}

func userAccounts() map[string]string {
	val := cfg["accounts"]
	if val == nil {
		return nil
	}

	userPasswords := map[string]string{}
	for _, account := range appendAccounts(nil, val) {
		user, ok := account["user"].(string)
		if !ok {
			return nil
		}
		password, ok := account["password"].(string)
		if !ok {
			return nil
		}
		userPasswords[user] = password
	}

	return userPasswords
}

func sshConfig() (server.SSHConfig, error) {
	sshCfg := server.SSHConfig{
		Address: sshPort,
	}

	for _, hostKey := range hostKeys {
		keyBytes, err := os.ReadFile(hostKey)
		if err != nil {
			return sshCfg, fmt.Errorf("roomdb: host keys: %s", err)
		}
		sshCfg.HostKeysBytes = append(sshCfg.HostKeysBytes, keyBytes)
	}

	if authorizedKeys != "" {
		var err error
		sshCfg.AuthorizedBytes, err = os.ReadFile(authorizedKeys)
		if err != nil {
			return sshCfg, fmt.Errorf("roomdb: authorized keys: %s", err)
		}
	}

	userPasswords := userAccounts()
	if len(userPasswords) > 0 {
		sshCfg.CheckPassword = func(user, password string) error {
			pw, ok := userPasswords[user]
			if !ok {
				return fmt.Errorf("user %s not found", user)
			}
			if password != pw {
				return fmt.Errorf("bad password for user %s", user)
			}
			return nil
		}
	}

	return sshCfg, nil
}

func serveRun(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	st, err := openStore(reg)
	if err != nil {
		return err
	}
	defer st.Close()

	sshCfg, err := sshConfig()
	if err != nil {
		return err
	}
	ss, err := server.NewSSHServer(sshCfg)
	if err != nil {
		return fmt.Errorf("roomdb: %s", err)
	}

	handler := repl.Handler(booking.NewService(st, reg))
	go func() {
		err := ss.ListenAndServe(handler)
		if err != server.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "roomdb: %s\n", err)
		}
	}()

	var ms *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		ms = &http.Server{
			Addr:    metricsAddr,
			Handler: mux,
		}
		go func() {
			err := ms.ListenAndServe()
			if !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "roomdb: metrics: %s\n", err)
			}
		}()
		log.WithField("addr", metricsAddr).Info("serving metrics")
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)

	fmt.Println("roomdb: waiting for ^C to shutdown")
	<-ch
	go func() {
		<-ch
		os.Exit(0)
	}()

	fmt.Println("roomdb: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if ms != nil {
		ms.Shutdown(ctx)
	}
	err = ss.Shutdown(ctx)
	if err != nil {
		log.WithError(err).Warn("ssh shutdown")
	}
	ss.Close()
	return nil
}
