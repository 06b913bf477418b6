package transport

import (
	"context"

	"github.com/coder/websocket"
)

// frameKind distinguishes binary from text frames without leaking the
// coder/websocket type into the rest of the package's public surface.
type frameKind int

const (
	frameBinary frameKind = iota
	frameText
)

// wsConn is the subset of *websocket.Conn this package depends on. It
// exists so tests can substitute a fake without dialing a real socket.
type wsConn interface {
	Read(ctx context.Context) (frameKind, []byte, error)
	Write(ctx context.Context, kind frameKind, data []byte) error
	Ping(ctx context.Context) error
	Close(code CloseCode, reason string) error
}

// dialFunc opens a new wsConn to url. The production default wraps
// github.com/coder/websocket.Dial; tests inject a fake.
type dialFunc func(ctx context.Context, url string) (wsConn, error)

func defaultDial(ctx context.Context, url string) (wsConn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(-1)
	return &realConn{c: c}, nil
}

// realConn adapts *websocket.Conn to wsConn.
type realConn struct {
	c *websocket.Conn
}

func (r *realConn) Read(ctx context.Context) (frameKind, []byte, error) {
	mt, data, err := r.c.Read(ctx)
	if err != nil {
		return frameBinary, nil, err
	}
	if mt == websocket.MessageText {
		return frameText, data, nil
	}
	return frameBinary, data, nil
}

func (r *realConn) Write(ctx context.Context, kind frameKind, data []byte) error {
	mt := websocket.MessageBinary
	if kind == frameText {
		mt = websocket.MessageText
	}
	return r.c.Write(ctx, mt, data)
}

func (r *realConn) Ping(ctx context.Context) error {
	return r.c.Ping(ctx)
}

func (r *realConn) Close(code CloseCode, reason string) error {
	return r.c.Close(websocket.StatusCode(code), reason)
}
