package esm

import (
	"context"
	"net"

	"github.com/rs/zerolog"
)

// ServerListener accepts TCP connections and forwards raw events to the
// Router. It holds no connection state itself; everything it observes
// becomes a serverRequest.
type ServerListener struct {
	log       zerolog.Logger
	router    *Router
	admission *Admission
}

// NewServerListener constructs a ServerListener wired to router.
func NewServerListener(log zerolog.Logger, router *Router, admission *Admission) *ServerListener {
	return &ServerListener{
		log:       log.With().Str("component", "listener").Logger(),
		router:    router,
		admission: admission,
	}
}

// Run accepts connections on ln until ctx is cancelled or the listener
// closes. Each accepted connection gets its own read loop goroutine; that
// goroutine never touches the ClientManager directly; it only enqueues
// srOnMessage / srOnDisconnect events.
func (l *ServerListener) Run(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if !l.admission.Ready() {
			l.log.Debug().Str("addr", conn.RemoteAddr().String()).Msg("not ready; closing new connection")
			conn.Close()
			continue
		}

		fc := newFrameConn(conn)
		l.router.submit(srOnConnect{Conn: fc})
		go l.readLoop(ctx, fc)
	}
}

func (l *ServerListener) readLoop(ctx context.Context, fc *frameConn) {
	addr := fc.RemoteAddr().String()
	defer func() {
		l.router.submit(srOnDisconnect{Addr: addr})
	}()

	for {
		body, err := fc.ReadFrame()
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.router.submit(srOnMessage{Addr: addr, Body: body})
	}
}
