package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventix/internal/status"

	"github.com/google/uuid"
)

const (
	TypeFraudAlert = "fraud-alert"
	TypeRefund     = "refund"
)

// Message is what a connected client receives on its user channel.
type Message struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	SentAt  time.Time      `json:"sentAt"`
}

// Publisher delivers a payload to a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
	Close() error
}

type Connection struct {
	ID          string    `json:"connectionId"`
	UserID      string    `json:"userId"`
	Channel     string    `json:"channel"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Registry tracks which users currently hold a live client connection and
// routes alerts to them. One instance lives for the whole process.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[string]map[string]struct{}

	pub Publisher
	ttl time.Duration
	now func() time.Time

	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

func NewRegistry(pub Publisher, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]struct{}),
		pub:    pub,
		ttl:    ttl,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

func Channel(userID string) string {
	return "user-" + userID
}

// Start runs the stale connection sweeper until Close.
func (r *Registry) Start() {
	interval := r.ttl / 2
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					slog.Info("alerts: dropped stale connections", "count", n)
				}
			case <-r.stop:
				return
			}
		}
	}()
}

func (r *Registry) Register(userID string) (*Connection, error) {
	if userID == "" {
		return nil, fmt.Errorf("alerts: user id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("alerts: registry closed")
	}

	now := r.now()
	c := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Channel:     Channel(userID),
		ConnectedAt: now,
		LastSeen:    now,
	}
	r.conns[c.ID] = c
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][c.ID] = struct{}{}

	out := *c
	return &out, nil
}

// Heartbeat refreshes a connection owned by userID.
func (r *Registry) Heartbeat(connID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok || c.UserID != userID {
		return status.NotFound("Connection not found")
	}
	c.LastSeen = r.now()
	return nil
}

func (r *Registry) Unregister(connID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok || c.UserID != userID {
		return status.NotFound("Connection not found")
	}
	r.remove(c)
	return nil
}

// remove must be called with mu held.
func (r *Registry) remove(c *Connection) {
	delete(r.conns, c.ID)
	if ids := r.byUser[c.UserID]; ids != nil {
		delete(ids, c.ID)
		if len(ids) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
}

func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Count reports the number of users with at least one live connection.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Send publishes msg on the user's channel. Users without a live connection
// get status.ErrNotConnected.
func (r *Registry) Send(ctx context.Context, userID string, msg Message) error {
	if !r.Connected(userID) {
		return status.ErrNotConnected
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = r.now()
	}
	if err := r.pub.Publish(ctx, Channel(userID), msg); err != nil {
		return fmt.Errorf("alerts: publish to %s: %w", userID, err)
	}
	return nil
}

// Sweep drops connections whose last heartbeat is older than the ttl.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	dropped := 0
	for _, c := range r.conns {
		if c.LastSeen.Before(cutoff) {
			r.remove(c)
			dropped++
		}
	}
	return dropped
}

// Close stops the sweeper, forgets every connection and closes the publisher.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.conns = make(map[string]*Connection)
	r.byUser = make(map[string]map[string]struct{})
	r.mu.Unlock()

	close(r.stop)
	r.wg.Wait()
	return r.pub.Close()
}
