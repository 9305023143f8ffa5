package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lydianai/otoail.ailydian.com-sub005/domain"
	"github.com/lydianai/otoail.ailydian.com-sub005/metrics"
)

// channel groups every connection currently associated with one vehicle id.
type channel struct {
	members map[string]domain.Connection
	mu      sync.RWMutex
}

// Hub routes messages between connections by vehicle identity. It tracks
// every live session, the channel membership per vehicle, the registration
// table (vehicle id -> authoritative source session) and the latest
// location sample per vehicle. All state is volatile.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]domain.Connection
	channels map[string]*channel
	joined   map[string]map[string]struct{} // session id -> vehicle ids
	sources  map[string]string              // vehicle id -> session id
	lastLoc  map[string]domain.LocationUpdate
}

func New() *Hub {
	return &Hub{
		sessions: make(map[string]domain.Connection),
		channels: make(map[string]*channel),
		joined:   make(map[string]map[string]struct{}),
		sources:  make(map[string]string),
		lastLoc:  make(map[string]domain.LocationUpdate),
	}
}

// Connect adds a session to the hub. It holds no channel memberships until
// it registers or observes a vehicle.
func (h *Hub) Connect(conn domain.Connection) {
	h.mu.Lock()
	h.sessions[conn.ID()] = conn
	count := len(h.sessions)
	h.mu.Unlock()

	metrics.SetConnectedClients(count)
	slog.Info("client connected", "clientId", conn.ID(), "clients", count)
}

// RegisterVehicle joins the connection to the vehicle's channel and records
// it as the authoritative source for that vehicle id. A later registration
// silently replaces an earlier one; the superseded session keeps its
// channel membership but is no longer the source. A registration from a
// session that has already been disconnected is dropped, so a late frame
// from a dying connection cannot resurrect state that cleanup already
// removed.
func (h *Hub) RegisterVehicle(conn domain.Connection, vehicleID string) {
	h.mu.Lock()
	if !h.joinLocked(conn, vehicleID) {
		h.mu.Unlock()
		slog.Warn("registration from closed session dropped", "vehicleId", vehicleID, "clientId", conn.ID())
		metrics.IncDropped("session-closed")
		return
	}
	prev, replaced := h.sources[vehicleID]
	h.sources[vehicleID] = conn.ID()
	vehicles := len(h.sources)
	h.mu.Unlock()

	metrics.SetRegisteredVehicles(vehicles)
	if replaced && prev != conn.ID() {
		slog.Warn("vehicle source replaced", "vehicleId", vehicleID, "previous", prev, "clientId", conn.ID())
	} else {
		slog.Info("vehicle registered", "vehicleId", vehicleID, "clientId", conn.ID())
	}
}

// Observe joins the connection to the vehicle's channel without touching
// the registration table. Any number of observers may coexist.
func (h *Hub) Observe(conn domain.Connection, vehicleID string) {
	h.mu.Lock()
	joined := h.joinLocked(conn, vehicleID)
	h.mu.Unlock()

	if !joined {
		slog.Warn("observe from closed session dropped", "vehicleId", vehicleID, "clientId", conn.ID())
		metrics.IncDropped("session-closed")
		return
	}
	slog.Info("observer joined", "vehicleId", vehicleID, "clientId", conn.ID())
}

// joinLocked adds the connection to the vehicle's channel. The caller must
// hold h.mu; taking ch.mu underneath it matches Disconnect's lock order,
// and holding h.mu across the member add means a concurrent last-member
// Disconnect cannot delete the channel out from under the joiner. Returns
// false if the session is no longer connected.
func (h *Hub) joinLocked(conn domain.Connection, vehicleID string) bool {
	if _, ok := h.sessions[conn.ID()]; !ok {
		return false
	}
	ch, exists := h.channels[vehicleID]
	if !exists {
		ch = &channel{members: make(map[string]domain.Connection)}
		h.channels[vehicleID] = ch
	}
	set, ok := h.joined[conn.ID()]
	if !ok {
		set = make(map[string]struct{})
		h.joined[conn.ID()] = set
	}
	set[vehicleID] = struct{}{}

	ch.mu.Lock()
	ch.members[conn.ID()] = conn
	ch.mu.Unlock()
	return true
}

// Disconnect removes the connection from every channel it joined and drops
// any vehicle registration it still owns. It is safe to call from multiple
// code paths; only the first call for a session does any work.
func (h *Hub) Disconnect(conn domain.Connection) {
	id := conn.ID()

	h.mu.Lock()
	if _, ok := h.sessions[id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, id)
	clients := len(h.sessions)

	vehicleIDs := h.joined[id]
	delete(h.joined, id)

	for v, owner := range h.sources {
		if owner == id {
			delete(h.sources, v)
			slog.Info("vehicle unregistered", "vehicleId", v, "clientId", id)
		}
	}
	vehicles := len(h.sources)

	for v := range vehicleIDs {
		ch, exists := h.channels[v]
		if !exists {
			continue
		}
		ch.mu.Lock()
		delete(ch.members, id)
		empty := len(ch.members) == 0
		ch.mu.Unlock()
		if empty {
			delete(h.channels, v)
			slog.Info("channel removed", "vehicleId", v)
		}
	}
	h.mu.Unlock()

	metrics.SetConnectedClients(clients)
	metrics.SetRegisteredVehicles(vehicles)
	slog.Info("client disconnected", "clientId", id, "clients", clients)
}

// Broadcast delivers data to every current member of the vehicle's channel,
// including the originating connection. Delivery is at-most-once and
// best-effort: a failed send is logged, triggers cleanup of that member,
// and never blocks or aborts delivery to the others. An unknown vehicle id
// is a silent no-op.
func (h *Hub) Broadcast(vehicleID string, data []byte) {
	h.mu.RLock()
	ch, exists := h.channels[vehicleID]
	h.mu.RUnlock()

	if !exists {
		return
	}

	ch.mu.RLock()
	defer ch.mu.RUnlock()

	for _, conn := range ch.members {
		if err := conn.Send(data); err != nil {
			slog.Warn("send failed, dropping client", "vehicleId", vehicleID, "clientId", conn.ID(), "error", err)
			metrics.IncDropped("send-failed")
			go h.drop(conn)
		}
	}
}

// SetLocation overwrites the latest location snapshot for the vehicle.
func (h *Hub) SetLocation(vehicleID string, sample domain.LocationUpdate) {
	h.mu.Lock()
	h.lastLoc[vehicleID] = sample
	h.mu.Unlock()
}

// LastLocation returns the most recent location sample for the vehicle.
func (h *Hub) LastLocation(vehicleID string) (domain.LocationUpdate, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sample, ok := h.lastLoc[vehicleID]
	return sample, ok
}

// Source reports the session id currently registered for the vehicle.
func (h *Hub) Source(vehicleID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.sources[vehicleID]
	return id, ok
}

// Stats returns the number of registered vehicles and connected sessions.
func (h *Hub) Stats() (vehicles, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sources), len(h.sessions)
}

// RunStats pushes a server-stats message to every connected session on a
// fixed interval until the context is cancelled.
func (h *Hub) RunStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pushStats()
		}
	}
}

func (h *Hub) pushStats() {
	vehicles, clients := h.Stats()
	msg := domain.ServerStats{
		Type:             domain.TypeServerStats,
		ActiveVehicles:   vehicles,
		ConnectedClients: clients,
		Timestamp:        time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("stats marshal error", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]domain.Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(data); err != nil {
			slog.Warn("stats send failed", "clientId", conn.ID(), "error", err)
			go h.drop(conn)
		}
	}
}

// drop evicts a connection whose transport is still open but no longer
// accepting writes. Closing it stops the read pump, so the dead session
// cannot keep issuing registrations or observations after cleanup.
func (h *Hub) drop(conn domain.Connection) {
	h.Disconnect(conn)
	conn.Close()
}
