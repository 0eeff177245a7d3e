package server

import (
	"context"
	"errors"
	"io"
	"net"
)

var ErrServerClosed = errors.New("server: closed")

// LineReader returns one line of input at a time, without the line ending; it returns
// io.EOF when there is no more input.
type LineReader interface {
	ReadLine() (string, error)
}

// Client is one session. An interactive session has a LineReader; a session that runs
// a single command has the Command instead, and LineReader is nil.
type Client struct {
	LineReader LineReader
	Writer     io.Writer
	Command    string
	User       string
	Type       string
	Addr       net.Addr
}

// Handler serves a session. The error returned by Serve is reported to the client as a
// failure exit status where the transport has one.
type Handler interface {
	Serve(c *Client) error
}

type HandlerFunc func(c *Client) error

func (f HandlerFunc) Serve(c *Client) error {
	return f(c)
}

type Server interface {
	Close() error
	ListenAndServe(handler Handler) error
	Shutdown(ctx context.Context) error
}
