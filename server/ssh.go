package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/terminal"
)

const prompt = "roomdb: "

type SSHConfig struct {
	Address         string
	HostKeysBytes   [][]byte
	AuthorizedBytes []byte
	CheckPassword   func(user, password string) error
}

// sshServer runs a session for each session channel. A channel that asks for a shell
// gets an interactive terminal; one that asks to exec a command runs just that command
// and exits with a status.
type sshServer struct {
	cfg     *ssh.ServerConfig
	address string

	mutex    sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	active   sync.WaitGroup
	stopping bool
	closed   bool
}

type execRequest struct {
	Command string
}

type exitStatus struct {
	Status uint32
}

func NewSSHServer(sshCfg SSHConfig) (Server, error) {
	cfg := &ssh.ServerConfig{
		AuthLogCallback: logAuth,
	}

	for _, keyBytes := range sshCfg.HostKeysBytes {
		key, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("server: host key: %w", err)
		}
		cfg.AddHostKey(key)
	}

	authorized, err := parseAuthorizedKeys(sshCfg.AuthorizedBytes)
	if err != nil {
		return nil, err
	}

	if sshCfg.CheckPassword != nil {
		check := sshCfg.CheckPassword
		cfg.PasswordCallback =
			func(md ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
				return nil, check(md.User(), string(pass))
			}
		log.Info("ssh client auth: password")
	}
	if len(authorized) > 0 {
		cfg.PublicKeyCallback =
			func(md ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
				if _, ok := authorized[string(key.Marshal())]; !ok {
					return nil, fmt.Errorf("server: unknown public key for %s", md.User())
				}
				return nil, nil
			}
		log.Info("ssh client auth: public key")
	}
	if cfg.PasswordCallback == nil && cfg.PublicKeyCallback == nil {
		cfg.NoClientAuth = true
		log.Warn("ssh client auth: NONE")
	}

	return &sshServer{
		cfg:     cfg,
		address: sshCfg.Address,
		conns:   map[net.Conn]struct{}{},
	}, nil
}

func parseAuthorizedKeys(b []byte) (map[string]struct{}, error) {
	keys := map[string]struct{}{}
	for len(b) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(b)
		if err != nil {
			return nil, fmt.Errorf("server: authorized keys: %w", err)
		}
		keys[string(key.Marshal())] = struct{}{}
		b = rest
	}
	return keys, nil
}

func logAuth(md ssh.ConnMetadata, method string, err error) {
	if method == "none" {
		return
	}

	entry := log.WithFields(log.Fields{
		"user":   md.User(),
		"addr":   md.RemoteAddr().String(),
		"method": method,
	})
	if err != nil {
		entry.WithField("error", err.Error()).Error("authentication failed")
	} else {
		entry.Info("authentication succeeded")
	}
}

func (ss *sshServer) ListenAndServe(handler Handler) error {
	l, err := net.Listen("tcp", ss.address)
	if err != nil {
		return err
	}

	ss.mutex.Lock()
	if ss.stopping {
		ss.mutex.Unlock()
		l.Close()
		return ErrServerClosed
	}
	ss.listener = l
	ss.mutex.Unlock()

	for {
		nc, err := l.Accept()
		if err != nil {
			if ss.isStopping() {
				return ErrServerClosed
			}
			log.WithField("error", err.Error()).Error("ssh accept")
			return err
		}
		if !ss.track(nc) {
			nc.Close()
			continue
		}
		go ss.serveConn(nc, handler)
	}
}

func (ss *sshServer) isStopping() bool {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	return ss.stopping
}

// track adds nc to the active connections unless the server is stopping; Shutdown
// waits for every tracked connection to be untracked.
func (ss *sshServer) track(nc net.Conn) bool {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	if ss.stopping {
		return false
	}
	ss.conns[nc] = struct{}{}
	ss.active.Add(1)
	return true
}

func (ss *sshServer) untrack(nc net.Conn) {
	ss.mutex.Lock()
	delete(ss.conns, nc)
	ss.mutex.Unlock()

	nc.Close()
	ss.active.Done()
}

func (ss *sshServer) serveConn(nc net.Conn, handler Handler) {
	defer ss.untrack(nc)

	conn, chans, reqs, err := ssh.NewServerConn(nc, ss.cfg)
	if err != nil {
		log.WithFields(log.Fields{
			"addr":  nc.RemoteAddr().String(),
			"error": err.Error(),
		}).Error("ssh handshake")
		return
	}
	entry := log.WithFields(log.Fields{
		"user": conn.User(),
		"addr": conn.RemoteAddr().String(),
	})
	entry.Info("ssh connected")
	go ssh.DiscardRequests(reqs)

	var sessions sync.WaitGroup
	for nch := range chans {
		sessions.Add(1)
		go func(nch ssh.NewChannel) {
			defer sessions.Done()
			serveSession(conn, nch, handler, entry)
		}(nch)
	}
	sessions.Wait()
	entry.Info("ssh disconnected")
}

func serveSession(conn *ssh.ServerConn, nch ssh.NewChannel, handler Handler,
	entry *log.Entry) {

	if typ := nch.ChannelType(); typ != "session" {
		nch.Reject(ssh.UnknownChannelType, typ)
		entry.WithField("channel-type", typ).Error("unknown channel type")
		return
	}
	ch, reqs, err := nch.Accept()
	if err != nil {
		entry.WithField("error", err.Error()).Error("session accept")
		return
	}
	defer ch.Close()

	c := startSession(ch, reqs, entry)
	if c == nil {
		return
	}
	go func() {
		for req := range reqs {
			req.Reply(req.Type == "window-change", nil)
		}
	}()

	c.User = conn.User()
	c.Type = "ssh"
	c.Addr = conn.RemoteAddr()
	var status uint32
	err = handler.Serve(c)
	if err != nil {
		status = 1
		entry.WithFields(log.Fields{
			"command": c.Command,
			"error":   err.Error(),
		}).Info("session failed")
	}

	_, err = ch.SendRequest("exit-status", false, ssh.Marshal(&exitStatus{Status: status}))
	if err != nil {
		entry.WithField("error", err.Error()).Debug("exit-status")
	}
}

// startSession answers the requests which set up a session until the client asks for a
// shell or a command. It returns nil if the channel closes first.
func startSession(ch ssh.Channel, reqs <-chan *ssh.Request, entry *log.Entry) *Client {
	for req := range reqs {
		entry.WithFields(log.Fields{
			"request-type": req.Type,
			"want-reply":   req.WantReply,
		}).Debug("session request")

		switch req.Type {
		case "shell":
			req.Reply(true, nil)
			t := terminal.NewTerminal(ch, prompt)
			return &Client{LineReader: t, Writer: t}
		case "exec":
			var er execRequest
			err := ssh.Unmarshal(req.Payload, &er)
			if err != nil || er.Command == "" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			return &Client{Writer: ch, Command: er.Command}
		case "pty-req", "env", "window-change":
			req.Reply(true, nil)
		default:
			req.Reply(false, nil)
		}
	}
	return nil
}

// stopListening closes the listener. It must be called with the mutex held.
func (ss *sshServer) stopListening() error {
	if ss.stopping {
		return nil
	}
	ss.stopping = true
	if ss.listener == nil {
		return nil
	}
	return ss.listener.Close()
}

func (ss *sshServer) Close() error {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	if ss.closed {
		return nil
	}
	ss.closed = true

	err := ss.stopListening()
	for nc := range ss.conns {
		nc.Close()
	}
	return err
}

// Shutdown stops accepting connections and waits for the active ones to finish or for
// ctx to be done.
func (ss *sshServer) Shutdown(ctx context.Context) error {
	ss.mutex.Lock()
	err := ss.stopListening()
	cnt := len(ss.conns)
	ss.mutex.Unlock()

	if cnt > 0 {
		log.WithField("connections", cnt).Info("ssh waiting for active connections")
	}

	idle := make(chan struct{})
	go func() {
		ss.active.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
