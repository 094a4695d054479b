package esm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// serverRequest is the closed set of events the router consumes. Every
// network event and every bot-originated command becomes one of these
// before reaching the router; nothing else may mutate the ClientManager.
type serverRequest interface{ isServerRequest() }

type srResume struct{}
type srPause struct{}
type srDisconnect struct{ ServerID []byte } // nil ServerID means disconnect_all
type srSend struct {
	ServerID []byte
	Message  *Message
}
type srAliveCheck struct{ Now time.Time }
type srOnConnect struct{ Conn *frameConn }
type srOnMessage struct {
	Addr string
	Body []byte
}
type srOnDisconnect struct{ Addr string }

func (srResume) isServerRequest()       {}
func (srPause) isServerRequest()        {}
func (srDisconnect) isServerRequest()   {}
func (srSend) isServerRequest()         {}
func (srAliveCheck) isServerRequest()   {}
func (srOnConnect) isServerRequest()    {}
func (srOnMessage) isServerRequest()    {}
func (srOnDisconnect) isServerRequest() {}

// botRequest is the set of messages the router (or the heartbeat) pushes
// onto the bot outbound queue.
type botRequest interface{ isBotRequest() }

type brPing struct{}
type brSend struct{ Message *Message }
type brDisconnected struct{ ServerID []byte }

func (brPing) isBotRequest()         {}
func (brSend) isBotRequest()         {}
func (brDisconnected) isBotRequest() {}

// serverRequestQueueSize bounds the router's inbound channel. Go has no
// literal unbounded MPSC channel; this is sized generously so that a burst
// of accepts or alive-check ticks never blocks a producer under normal load.
const serverRequestQueueSize = 4096

// botOutboundQueueSize bounds the router -> bot outbound channel similarly.
const botOutboundQueueSize = 4096

// Router is the single-threaded cooperative event loop that owns the
// ClientManager. It is the only task permitted to mutate connection state;
// every other task communicates with it exclusively through the channels
// below.
type Router struct {
	log zerolog.Logger

	clients   *ClientManager
	admission *Admission
	keys      KeyLookup
	metrics   *Metrics

	minClientVersion string

	serverCh chan serverRequest
	botCh    chan botRequest

	nextResourceID uint32

	clock func() time.Time
}

// NewRouter constructs a Router. clients and admission are owned by the
// router from this point on; the caller must not touch clients again. keys
// resolves a client's reported server_id to its symmetric key against the
// first "m" frame it sends; the lookup runs synchronously on the router
// goroutine (see resolveKey), so a slow store stalls the whole event loop
// for its duration.
func NewRouter(log zerolog.Logger, clients *ClientManager, admission *Admission, keys KeyLookup, m *Metrics) *Router {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Router{
		log:       log.With().Str("component", "router").Logger(),
		clients:   clients,
		admission: admission,
		keys:      keys,
		metrics:   m,
		serverCh:  make(chan serverRequest, serverRequestQueueSize),
		botCh:     make(chan botRequest, botOutboundQueueSize),
		clock:     time.Now,
	}
}

// SetMinClientVersion configures the optional ESM_MIN_CLIENT_VERSION gate
// enforced against an Init message's version metadata.
func (r *Router) SetMinClientVersion(v string) {
	r.minClientVersion = v
}

// submit enqueues a ServerRequest for the router to process. It never
// blocks the caller indefinitely in practice since the queue is sized for
// bursts; if the router has fallen fatally behind this will block, which is
// preferable to silently dropping state-mutating events.
func (r *Router) submit(req serverRequest) {
	r.serverCh <- req
}

// BotOutbound returns the channel the bot-outbound worker drains. Exposed so
// BotChannel can wire itself to the same router instance.
func (r *Router) BotOutbound() <-chan botRequest {
	return r.botCh
}

// routeToBot enqueues req for the bot-outbound worker. If the worker has
// fallen behind (e.g. the queue store is unreachable) this blocks the
// router rather than dropping the message, since the bot is the system of
// record for outcomes.
func (r *Router) routeToBot(req botRequest) {
	r.botCh <- req
}

// Run drives the event loop until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.pause()
			return
		case req := <-r.serverCh:
			r.handle(req)
		}
	}
}

func (r *Router) handle(req serverRequest) {
	switch v := req.(type) {
	case srResume:
		r.admission.SetServerReady(true)
		r.log.Info().Msg("resumed")
	case srPause:
		r.pause()
	case srDisconnect:
		r.handleDisconnect(v)
	case srSend:
		r.handleSend(v)
	case srAliveCheck:
		r.clients.AliveCheck(v.Now)
	case srOnConnect:
		r.handleOnConnect(v)
	case srOnMessage:
		r.handleOnMessage(v)
	case srOnDisconnect:
		r.handleOnDisconnect(v)
	default:
		r.log.Error().Str("request_type", fmt.Sprintf("%T", req)).Msg("unhandled server request")
	}
}

func (r *Router) pause() {
	r.admission.SetServerReady(false)
	r.clients.DisconnectAll()
	r.log.Info().Msg("paused; all clients disconnected")
}

func (r *Router) handleDisconnect(v srDisconnect) {
	if len(v.ServerID) == 0 {
		r.clients.DisconnectAll()
		return
	}
	if c, ok := r.clients.GetByID(v.ServerID); ok {
		c.Disconnect()
		r.clients.Remove(c.Addr())
	}
}

func (r *Router) handleSend(v srSend) {
	// The bot wire carries the target server_id as an envelope field beside
	// the message, so the nested message may legitimately omit its own.
	// Backfill it here so both the delivery and the Error fallback carry the
	// original target.
	if len(v.Message.ServerID) == 0 {
		v.Message.ServerID = v.ServerID
	}
	c, ok := r.clients.GetByID(v.ServerID)
	if !ok {
		r.metrics.sendFailures.Inc()
		r.log.Info().Err(ErrUndeliverable).Str("server_id", string(v.ServerID)).Msg("send target unknown")
		r.undeliverable(v.Message)
		return
	}
	if err := c.Send(v.Message); err != nil {
		r.metrics.sendFailures.Inc()
		r.log.Warn().Err(err).Str("server_id", string(v.ServerID)).Msg("send failed")
		r.undeliverable(v.Message)
		return
	}
	r.metrics.messagesOutbound.Inc()
}

// undeliverable implements the Send fallback: rewrite the message as an
// Error carrying the client_not_connected code and enqueue it back to the
// bot under its original id.
func (r *Router) undeliverable(m *Message) {
	r.routeToBot(brSend{Message: m.AsError(ErrorKindCode, clientNotConnectedCode)})
}

func (r *Router) handleOnConnect(v srOnConnect) {
	addr := v.Conn.RemoteAddr().String()
	if !r.admission.Ready() {
		r.log.Info().Err(ErrAdmissionDenied).Str("addr", addr).Msg("rejecting connection")
		v.Conn.Close()
		return
	}
	r.nextResourceID++
	c := r.clients.Add(v.Conn, addr, r.nextResourceID)
	r.metrics.clientsConnected.Inc()
	if err := c.RequestIdentity(); err != nil {
		r.log.Warn().Err(err).Str("addr", addr).Msg("failed to request identity")
		c.Disconnect()
		r.clients.Remove(addr)
	}
}

func (r *Router) handleOnMessage(v srOnMessage) {
	if !r.admission.Ready() {
		r.log.Info().Err(ErrAdmissionDenied).Str("addr", v.Addr).Msg("dropping message from non-ready period")
		if c, ok := r.clients.Get(v.Addr); ok {
			c.Disconnect()
			r.clients.Remove(v.Addr)
		}
		return
	}

	c, ok := r.clients.Get(v.Addr)
	if !ok {
		return
	}

	frame, err := decodeControlFrame(v.Body)
	if err != nil {
		r.log.Warn().Err(err).Str("addr", v.Addr).Msg("malformed control frame")
		c.Disconnect()
		r.clients.Remove(v.Addr)
		return
	}

	switch frame.T {
	case ctrlIdentify:
		// The "id" step unconditionally stores server_id and solicits Init.
		// No credential-store lookup happens here; it is deferred to the
		// first "m" frame, so an unknown server_id still completes the
		// id -> i exchange and is only dropped once it sends an encrypted
		// message the server can't find a key for.
		r.clients.Associate(c, frame.C)
		if err := c.RequestInit(); err != nil {
			r.log.Warn().Err(err).Msg("failed to request init")
			c.Disconnect()
			r.clients.Remove(v.Addr)
		}
	case ctrlMessage:
		r.handleEncryptedMessage(c, v.Addr, frame.C)
	default:
		r.log.Warn().Str("addr", v.Addr).Str("t", frame.T).Msg("unexpected control frame type")
		c.Disconnect()
		r.clients.Remove(v.Addr)
	}
}

// resolveKey looks up c's symmetric key via the credential store the first
// time an "m" frame arrives for it, caching the result on the client; later
// frames skip the lookup. The credential-store lookup is one of the
// router's allowed suspension points: a blocking call here stalls the whole
// event loop for its duration, which is the accepted cost of a
// single-writer design with no connection-state locks. Returns
// ErrKeyNotFound when the store has no entry for c's server_id.
func (r *Router) resolveKey(c *Client) error {
	if c.Keyed() {
		return nil
	}
	if r.keys == nil {
		return ErrKeyNotFound
	}
	key, err := r.keys.Get(c.ServerID())
	if err != nil {
		return err
	}
	if key == nil {
		return ErrKeyNotFound
	}
	c.setKey(key)
	return nil
}

func (r *Router) handleEncryptedMessage(c *Client, addr string, packet []byte) {
	if !c.Identified() {
		r.log.Warn().Str("addr", addr).Msg("received m frame before identify")
		c.Disconnect()
		r.clients.Remove(addr)
		return
	}

	if err := r.resolveKey(c); err != nil {
		r.log.Info().Err(err).Str("addr", addr).Str("server_id", string(c.ServerID())).Msg("key lookup failed; disconnecting")
		c.Disconnect()
		r.clients.Remove(addr)
		return
	}

	now := r.clock()
	m, noForward, err := c.Parse(packet, now)
	if err != nil {
		r.metrics.decodeFailures.Inc()
		r.log.Info().Err(err).Str("addr", addr).Msg("decode failed; disconnecting")
		c.Disconnect()
		r.clients.Remove(addr)
		return
	}
	if noForward {
		return
	}
	r.metrics.messagesInbound.Inc()

	if IsSystemType(m.Type) {
		reply := m.AsError(ErrorKindMessage, invalidMessageTypeText)
		r.routeToBot(brSend{Message: reply})
		return
	}

	if m.Type == MessageInit && !c.Initialized() {
		if !clientVersionAllowed(m, r.minClientVersion) {
			r.log.Info().Str("addr", addr).Str("server_id", string(c.ServerID())).Msg("client version rejected by min version gate; disconnecting")
			c.Disconnect()
			r.clients.Remove(addr)
			return
		}
		c.markInitialized()
	}

	rid := c.resourceID
	m.ResourceID = &rid
	if len(m.ServerID) == 0 {
		m.ServerID = c.serverID
	}
	r.routeToBot(brSend{Message: m})
}

func (r *Router) handleOnDisconnect(v srOnDisconnect) {
	c, ok := r.clients.Get(v.Addr)
	r.clients.Remove(v.Addr)
	r.metrics.clientsRemoved.Inc()
	if ok && c.Identified() {
		r.routeToBot(brDisconnected{ServerID: c.ServerID()})
	}
}
