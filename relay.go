package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleettrack/relay/internal/chat"
	"fleettrack/relay/internal/config"
	"fleettrack/relay/internal/dispatch"
	"fleettrack/relay/internal/logging"
	"fleettrack/relay/internal/registry"
	"fleettrack/relay/internal/routing"
	"fleettrack/relay/internal/state"
)

// RelayOption customises relay construction.
type RelayOption func(*Relay)

// WithJournal mirrors driver mutations and chat messages to the writer.
func WithJournal(journal state.Journal) RelayOption {
	return func(r *Relay) {
		if r == nil || journal == nil {
			return
		}
		r.journal = journal
	}
}

// WithRateTable overrides the toll rate table used by the fallback provider.
func WithRateTable(rates routing.RateTable) RelayOption {
	return func(r *Relay) {
		if r == nil {
			return
		}
		r.rates = &rates
	}
}

// WithRouteProvider wires an external route provider ahead of the fallback.
func WithRouteProvider(provider routing.Provider) RelayOption {
	return func(r *Relay) {
		if r == nil || provider == nil {
			return
		}
		r.provider = provider
	}
}

// WithTimeSource overrides the relay clock, primarily for tests.
func WithTimeSource(now func() time.Time) RelayOption {
	return func(r *Relay) {
		if r == nil || now == nil {
			return
		}
		r.now = now
	}
}

// Relay owns the WebSocket surface and the shared stores behind it.
type Relay struct {
	cfg             *config.Config
	log             *logging.Logger
	registry        *registry.Registry
	drivers         *state.Store
	chats           *chat.Store
	engine          *dispatch.Engine
	upgrader        websocket.Upgrader
	wsAuthenticator websocketAuthenticator
	journal         state.Journal
	rates           *routing.RateTable
	provider        routing.Provider
	now             func() time.Time
	started         time.Time

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewRelay builds the registry, stores, and dispatch engine behind one
// WebSocket endpoint.
func NewRelay(cfg *config.Config, logger *logging.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = logging.L()
	}
	r := &Relay{
		cfg:             cfg,
		log:             logger,
		registry:        registry.New(),
		wsAuthenticator: allowAllAuthenticator{},
		now:             time.Now,
		clients:         make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.started = r.now()

	r.drivers = state.NewStore(state.Options{
		Journal:    r.journal,
		Logger:     logger,
		TimeSource: r.now,
	})
	chatJournal, _ := r.journal.(chat.Journal)
	r.chats = chat.NewStore(chat.Options{
		MaxMessages: cfg.Chat.MaxMessages,
		MaxLength:   cfg.Chat.MaxLength,
		RateLimit:   cfg.Chat.RateLimit,
		Journal:     chatJournal,
		Logger:      logger,
		TimeSource:  r.now,
	})

	rates := routing.DefaultRateTable()
	if r.rates != nil {
		rates = *r.rates
	}
	r.engine = dispatch.New(dispatch.Options{
		Registry:     r.registry,
		Drivers:      r.drivers,
		Chats:        r.chats,
		Provider:     r.provider,
		Fallback:     routing.NewFallbackProvider(rates),
		RouteTimeout: cfg.Route.Timeout,
		Logger:       logger,
		TimeSource:   r.now,
	})

	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

// Engine exposes the dispatch engine for the sweeper and HTTP wiring.
func (r *Relay) Engine() *dispatch.Engine { return r.engine }

// Drivers exposes the driver state store.
func (r *Relay) Drivers() *state.Store { return r.drivers }

// Chats exposes the conversation store.
func (r *Relay) Chats() *chat.Store { return r.chats }

// ClientCounts reports the bound driver and monitor connections.
func (r *Relay) ClientCounts() (drivers, monitors int) {
	return r.registry.Counts()
}

// ActiveDrivers reports how many tracked drivers are currently active.
func (r *Relay) ActiveDrivers() int { return r.drivers.ActiveCount() }

// Uptime reports how long the relay has been serving.
func (r *Relay) Uptime() time.Duration { return r.now().Sub(r.started) }

// ServeWS upgrades the request and starts the client pumps.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	if err := r.wsAuthenticator.Authenticate(req); err != nil {
		r.log.Warn("websocket auth rejected",
			logging.Error(err),
			logging.String("remote_addr", req.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.cfg.MaxClients > 0 && r.clientCount() >= r.cfg.MaxClients {
		r.log.Warn("websocket connection refused: client limit reached",
			logging.String("remote_addr", req.RemoteAddr))
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	client := newClient(r, conn)
	r.attach(client)
	//1.- Acknowledge the socket before any events so clients learn their session id.
	client.Send(dispatch.EventConnectionAck, map[string]any{"sessionId": client.SessionID()})
	go client.writePump()
	go client.readPump()
}

// Shutdown closes every connected client.
func (r *Relay) Shutdown() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		clients = append(clients, client)
	}
	r.mu.Unlock()
	for _, client := range clients {
		client.close()
	}
}

func (r *Relay) checkOrigin(req *http.Request) bool {
	if len(r.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range r.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (r *Relay) attach(client *Client) {
	r.mu.Lock()
	r.clients[client] = struct{}{}
	r.mu.Unlock()
}

func (r *Relay) detach(client *Client) {
	r.mu.Lock()
	delete(r.clients, client)
	r.mu.Unlock()
}

func (r *Relay) clientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
