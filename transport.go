package campuslink

import (
	"context"
	"errors"
	"io"
	"sync"

	"nhooyr.io/websocket"
)

// ============================================================================
// Transport Adapter
// ============================================================================

// TransportEvents receives asynchronous notifications from a Transport.
// Callbacks are invoked from the transport's read goroutine; exactly one of
// OnClose or OnTransportError fires, after which no further callbacks occur.
type TransportEvents interface {
	OnMessage(data []byte)
	OnClose(code int, reason string)
	OnTransportError(err error)
}

// Transport is one physical bidirectional connection. It carries no message
// semantics and no retry logic.
type Transport interface {
	// Send writes one frame. It fails with ErrTransportClosed after Close.
	Send(ctx context.Context, data []byte) error
	// Close tears down the connection. Double-close is a no-op.
	Close(code int, reason string) error
}

// Dialer opens a Transport to the given URL and binds its event sink.
// It returns once the connection is established or has failed.
type Dialer func(ctx context.Context, rawURL string, ev TransportEvents) (Transport, error)

// DialWebSocket is the default Dialer, backed by nhooyr.io/websocket.
func DialWebSocket(ctx context.Context, rawURL string, ev TransportEvents) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, wrapError(ErrorConnection, "websocket dial", err)
	}
	// Chat payloads stay small, but presence bursts after reconnect can
	// exceed the 32 KiB default.
	conn.SetReadLimit(1 << 20)

	t := &wsTransport{conn: conn, ev: ev, done: make(chan struct{})}
	go t.readLoop()
	return t, nil
}

type wsTransport struct {
	conn *websocket.Conn
	ev   TransportEvents

	closeOnce sync.Once
	done      chan struct{}
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return wrapError(ErrorConnection, "websocket write", err)
	}
	return nil
}

func (t *wsTransport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close(websocket.StatusCode(code), reason)
	})
	return err
}

func (t *wsTransport) readLoop() {
	for {
		_, data, err := t.conn.Read(context.Background())
		if err != nil {
			select {
			case <-t.done:
				// Caller-initiated close; the owner already knows.
				return
			default:
			}

			var ce websocket.CloseError
			if errors.As(err, &ce) {
				t.ev.OnClose(int(ce.Code), ce.Reason)
			} else if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				t.ev.OnClose(int(websocket.StatusAbnormalClosure), "connection lost")
			} else {
				t.ev.OnTransportError(err)
			}
			return
		}
		t.ev.OnMessage(data)
	}
}
