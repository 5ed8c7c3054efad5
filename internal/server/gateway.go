// Package server coordinates connection authentication, presence tracking and
// message fan-out for the presence gateway via the Gateway type.
package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/presencegw/internal/auth"
	"github.com/Tyrowin/presencegw/internal/directory"
)

// lookupTimeout bounds the directory call made for each chat message.
const lookupTimeout = 2 * time.Second

// GatewayOptions toggles the optional connect-time policies.
type GatewayOptions struct {
	// RequireActiveUser closes connections whose subject is unknown to the
	// directory or marked inactive.
	RequireActiveUser bool
	// ExclusiveSessions disconnects a user's older connections when the
	// same user connects again.
	ExclusiveSessions bool
}

// Gateway owns the connection registry and the set of live transports. Lifecycle
// changes and broadcasts are serialized through Run; token verification and
// directory lookups happen on the caller's goroutine.
type Gateway struct {
	registry  *Registry
	verifier  auth.Verifier
	directory directory.Directory
	opts      GatewayOptions
	log       *zap.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewGateway creates a gateway around an existing registry. Call Run in its
// own goroutine before accepting connections.
func NewGateway(registry *Registry, verifier auth.Verifier, dir directory.Directory, log *zap.Logger, opts GatewayOptions) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		registry:   registry,
		verifier:   verifier,
		directory:  dir,
		opts:       opts,
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry returns the registry the gateway mutates.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Connect authenticates a pending client. On success the client is handed to
// the Run loop, which registers it and broadcasts the new presence snapshot.
// On failure the transport is closed without any payload and false is returned.
func (g *Gateway) Connect(ctx context.Context, c *Client, rawToken string) bool {
	identity, err := g.verifier.Verify(ctx, rawToken)
	if err != nil {
		c.log.Info("Rejecting connection with invalid token", zap.Error(err))
		c.closeTransport()
		return false
	}

	if g.opts.RequireActiveUser && !g.userActive(ctx, c, identity.Subject) {
		c.closeTransport()
		return false
	}

	c.userID = identity.Subject
	c.log = c.log.With(zap.String("user", identity.Subject))

	select {
	case g.register <- c:
		return true
	case <-g.ctx.Done():
		c.closeTransport()
		return false
	}
}

func (g *Gateway) userActive(ctx context.Context, c *Client, userID string) bool {
	if g.directory == nil {
		return true
	}
	user, err := g.directory.Lookup(ctx, userID)
	if err != nil {
		c.log.Info("Rejecting connection for unknown user", zap.String("user", userID), zap.Error(err))
		return false
	}
	if !user.Active {
		c.log.Info("Rejecting connection for inactive user", zap.String("user", userID))
		return false
	}
	return true
}

// Disconnect removes the client from the registry and the broadcast set. It is
// safe to call more than once and for clients that never authenticated.
func (g *Gateway) Disconnect(c *Client) {
	if c == nil {
		return
	}
	select {
	case g.unregister <- c:
	case <-g.ctx.Done():
		g.registry.Remove(c.id)
		c.state.Store(int32(StateClosed))
	}
}

// HandleMessage broadcasts a chat message from an authenticated client to all
// connections, the sender included. Messages from pending or closed clients
// are ignored.
func (g *Gateway) HandleMessage(ctx context.Context, c *Client, raw []byte) {
	if c.State() != StateAuthenticated {
		c.log.Debug("Ignoring message from unauthenticated connection")
		return
	}

	text, err := messageText(raw)
	if err != nil {
		c.log.Warn("Invalid message payload", zap.Error(err))
		return
	}

	name := g.registry.ResolveDisplayName(ctx, c.id)
	payload, err := encodeEvent(EventMessageFromServer, ChatMessage{FullName: name, Message: text})
	if err != nil {
		c.log.Error("Error encoding chat event", zap.Error(err))
		return
	}
	g.Broadcast(payload)
}

// Broadcast queues a raw frame for delivery to every live connection.
func (g *Gateway) Broadcast(payload []byte) {
	select {
	case g.broadcast <- payload:
	case <-g.ctx.Done():
	}
}

func (g *Gateway) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("Recovered from panic in safeSend", zap.Any("panic", r))
		}
	}()

	// Hold the lock during the entire send so the channel cannot be closed underneath us
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	_, exists := g.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the gateway's event loop, handling registration, disconnects and
// broadcasts until Shutdown is called.
func (g *Gateway) Run() {
	defer close(g.done)

	for {
		select {
		case <-g.ctx.Done():
			g.shutdownClients()
			return

		case client := <-g.register:
			if client == nil {
				g.log.Debug("Received nil client registration; skipping")
				continue
			}
			g.attach(client)
			g.broadcastPresence()

		case client := <-g.unregister:
			if g.detach(client, "disconnected") {
				g.broadcastPresence()
			}

		case payload := <-g.broadcast:
			if g.deliver(payload) > 0 {
				g.broadcastPresence()
			}
		}
	}
}

// attach registers an authenticated client and starts its pumps.
func (g *Gateway) attach(client *Client) {
	if g.opts.ExclusiveSessions {
		g.evictSessionsOf(client.userID)
	}

	g.registry.Register(client.id, client.userID)

	g.mutex.Lock()
	client.closed = false
	g.clients[client] = true
	clientCount := len(g.clients)
	g.mutex.Unlock()
	client.state.Store(int32(StateAuthenticated))

	client.log.Info("Client registered", zap.Int("clients", clientCount))

	if client.conn == nil {
		return
	}
	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		client.writePump()
	}()
	go func() {
		defer g.wg.Done()
		client.readPump()
	}()
}

// detach removes a client from the broadcast set and the registry and closes
// its send queue. It reports whether the client was still attached.
func (g *Gateway) detach(client *Client, reason string) bool {
	if client == nil {
		return false
	}
	g.registry.Remove(client.id)
	client.state.Store(int32(StateClosed))

	g.mutex.Lock()
	if _, ok := g.clients[client]; !ok {
		g.mutex.Unlock()
		return false
	}
	delete(g.clients, client)
	client.closed = true
	clientCount := len(g.clients)
	g.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	client.log.Info("Client unregistered",
		zap.String("reason", reason),
		zap.Int("clients", clientCount),
		zap.Strings("online", g.registry.ConnectedUserIDs()))
	return true
}

func (g *Gateway) evictSessionsOf(userID string) {
	for _, other := range g.getClientSnapshot() {
		if other.userID == userID {
			g.detach(other, "replaced by newer session")
		}
	}
}

func (g *Gateway) broadcastPresence() {
	for {
		payload, err := encodeEvent(EventClientsUpdated, g.registry.ConnectedUserIDs())
		if err != nil {
			g.log.Error("Error encoding presence event", zap.Error(err))
			return
		}
		// Each eviction shrinks the client set, so this terminates.
		if g.deliver(payload) == 0 {
			return
		}
	}
}

// deliver sends payload to every attached client without blocking. Clients
// whose send buffer is full are evicted; the number evicted is returned.
func (g *Gateway) deliver(payload []byte) int {
	clients := g.getClientSnapshot()
	g.log.Debug("Broadcasting", zap.Int("clients", len(clients)), zap.Int("bytes", len(payload)))

	evicted := 0
	for _, client := range clients {
		if g.safeSend(client, payload) {
			continue
		}
		if g.detach(client, "send buffer full") {
			evicted++
		}
	}
	return evicted
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (g *Gateway) getClientSnapshot() []*Client {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	clients := make([]*Client, 0, len(g.clients))
	for client := range g.clients {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients closes every live transport so the pumps exit.
func (g *Gateway) shutdownClients() {
	g.log.Info("Shutting down all client connections...")

	clients := g.getClientSnapshot()
	for _, client := range clients {
		client.closeTransport()
		g.detach(client, "shutdown")
	}

	g.log.Info("Closed client connections", zap.Int("count", len(clients)))
}

// Shutdown stops Run and waits for all client goroutines to finish, or for
// the timeout to elapse.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.log.Info("Initiating gateway shutdown...")

	g.cancel()
	<-g.done

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.log.Info("Gateway shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		g.log.Warn("Gateway shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
