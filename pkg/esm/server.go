package esm

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/itsthedevman/esm-extension-server/db/keystoredb"
	"github.com/itsthedevman/esm-extension-server/pkg/esm/keystore"
)

// Server wires together every component described by the bridge: the
// listener, the router, the bot channel, and the bot heartbeat. It owns the
// process's one KeyLookup instance and closes it on shutdown if it requires
// closing.
type Server struct {
	Logger zerolog.Logger

	Addr               string
	NotifySocket       string
	AliveCheckInterval time.Duration

	Admission *Admission
	Clients   *ClientManager
	Router    *Router
	Listener  *ServerListener
	BotChan   *BotChannel
	Heartbeat *BotHeartbeat
	Metrics   *Metrics

	keys   KeyLookup
	rdb    *redis.Client
	reload []func()
	closed bool
}

// NewServer configures a new Server from c, which is assumed to already hold
// default or configured values (as produced by Config.UnmarshalEnv). It
// performs the additional checks and wiring that can't be expressed in
// struct tags alone.
func NewServer(c *Config) (*Server, error) {
	if !ValidMinClientVersion(c.MinClientVersion) {
		return nil, fmt.Errorf("invalid minimum client version semver %q", c.MinClientVersion)
	}

	var s Server
	var success bool

	s.Addr = c.Addr
	s.NotifySocket = c.NotifySocket
	s.AliveCheckInterval = c.AliveCheckInterval

	if l, reopen, err := ConfigureLogging(c); err == nil {
		s.Logger = l
		s.reload = append(s.reload, reopen)
	} else {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	defer func() {
		if !success {
			if c, ok := s.keys.(io.Closer); ok {
				c.Close()
			}
		}
	}()

	opt, err := redis.ParseURL(c.RedisURI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	s.rdb = redis.NewClient(opt)

	keys, err := configureKeystore(c, s.rdb)
	if err != nil {
		s.rdb.Close()
		return nil, fmt.Errorf("initialize keystore: %w", err)
	}
	s.keys = keys

	s.Admission = &Admission{}
	s.Clients = NewClientManager(c.PingAfter, c.DisconnectAfter)
	s.Clients.SetLogger(s.Logger)
	s.Metrics = NewMetrics(metrics.NewSet())

	s.Router = NewRouter(s.Logger, s.Clients, s.Admission, s.keys, s.Metrics)
	s.Router.SetMinClientVersion(c.MinClientVersion)

	s.Listener = NewServerListener(s.Logger, s.Router, s.Admission)
	s.Heartbeat = NewBotHeartbeat(s.Logger, s.Router, s.Admission, s.Metrics)
	s.BotChan = NewBotChannel(s.Logger, s.rdb, s.Router, s.Heartbeat)

	success = true
	return &s, nil
}

// configureKeystore selects a KeyLookup implementation from c.Keystore,
// which is one of "memory", "redis", or "sqlite3:<path>".
func configureKeystore(c *Config, rdb *redis.Client) (KeyLookup, error) {
	kind, arg, _ := strings.Cut(c.Keystore, ":")
	switch kind {
	case "", "memory":
		return keystore.NewMemory(), nil
	case "redis":
		// Shares the work-queue store, so the bot can provision keys over
		// the same connection it already holds. rdb is owned by the Server;
		// the store does not close it.
		return keystore.NewRedis(rdb), nil
	case "sqlite3":
		if arg == "" {
			return nil, fmt.Errorf("sqlite3 keystore requires a path (sqlite3:/path/to/esm.db)")
		}
		db, err := keystoredb.Open(arg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite3 keystore: %w", err)
		}
		cur, req, err := db.Version()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("get sqlite3 keystore version: %w", err)
		}
		if cur != req {
			if err := db.MigrateUp(context.Background(), req); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate sqlite3 keystore: %w", err)
			}
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown keystore %q", c.Keystore)
	}
}

// Run starts every cooperative task and blocks until ctx is cancelled, then
// shuts everything down and returns. It must only ever be called once.
func (s *Server) Run(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("esm: server already closed")
	}

	if err := s.BotChan.Ping(ctx); err != nil {
		return fmt.Errorf("connect to bot queue: %w", err)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr, err)
	}

	s.Logger.Log().Msgf("starting server on %s", s.Addr)

	var wg sync.WaitGroup
	wg.Add(4)

	go func() { defer wg.Done(); s.Router.Run(ctx) }()
	go func() { defer wg.Done(); s.BotChan.Run(ctx) }()
	go func() { defer wg.Done(); s.Heartbeat.Run(ctx) }()
	go func() {
		defer wg.Done()
		if err := s.Listener.Run(ctx, ln); err != nil {
			s.Logger.Err(err).Msg("listener exited")
		}
	}()

	go func() {
		interval := s.AliveCheckInterval
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Router.submit(srAliveCheck{Now: now})
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		go s.sdnotify("READY=1")
	}

	<-ctx.Done()
	s.closed = true
	s.Logger.Log().Msg("shutting down")

	go s.sdnotify("STOPPING=1")

	s.Router.submit(srPause{})
	ln.Close()
	wg.Wait()

	if c, ok := s.keys.(io.Closer); ok {
		c.Close()
	}
	if err := s.rdb.Close(); err != nil {
		s.Logger.Warn().Err(err).Msg("failed to close redis client")
	}

	return nil
}

// HandleSIGHUP reopens the log file and re-runs any other reload hooks.
func (s *Server) HandleSIGHUP() {
	if s.closed {
		return
	}
	s.sdnotify("RELOADING=1")
	defer s.sdnotify("READY=1")
	for _, fn := range s.reload {
		if fn != nil {
			fn()
		}
	}
}

// WritePrometheus writes every registered metric for this server instance.
func (s *Server) WritePrometheus(w io.Writer) {
	s.Metrics.set.WritePrometheus(w)
}

func (s *Server) sdnotify(state string) (bool, error) {
	if s.NotifySocket == "" {
		return false, nil
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: s.NotifySocket, Net: "unixgram"})
	if err != nil {
		return false, err
	}
	defer conn.Close()
	if _, err = conn.Write([]byte(state)); err != nil {
		return false, err
	}
	return true, nil
}
