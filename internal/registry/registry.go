// Package registry tracks connected clients and their session ownership.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/agenthub/agenthub/internal/common/logger"
	"github.com/agenthub/agenthub/pkg/protocol"
)

// Registry provides thread-safe storage of connected clients. It maintains
// the client table plus two session-ownership indexes, one keyed by
// constellation id and one by device id. All three tables are mutated under
// a single lock so eviction and drains are atomic.
type Registry struct {
	clients              map[string]*Client
	orchestratorSessions map[string][]string // constellation id -> session ids
	deviceSessions       map[string][]string // device id -> session ids
	overlays             map[string]DeviceOverlay
	mu                   sync.RWMutex
	logger               *logger.Logger
}

// NewRegistry creates a Registry. overlays may be nil when no per-device
// configuration file is in use.
func NewRegistry(overlays map[string]DeviceOverlay, log *logger.Logger) *Registry {
	if overlays == nil {
		overlays = make(map[string]DeviceOverlay)
	}
	return &Registry{
		clients:              make(map[string]*Client),
		orchestratorSessions: make(map[string][]string),
		deviceSessions:       make(map[string][]string),
		overlays:             overlays,
		logger:               log,
	}
}

// DrainedSessions groups the session ids a departing client owned, split by
// the role the client played in them.
type DrainedSessions struct {
	// Orchestrated are sessions the client originated.
	Orchestrated []string
	// Executing are sessions that were running on the client.
	Executing []string
}

// Empty reports whether no sessions were drained.
func (d DrainedSessions) Empty() bool {
	return len(d.Orchestrated) == 0 && len(d.Executing) == 0
}

// Add registers a client, atomically replacing any prior occupant of the
// same id. The prior client and its drained session ids are returned so the
// caller can schedule cleanup; draining happens in the same critical section
// as the swap, so a task routed to the new client can never be swept up in
// the old client's cancellation.
//
// Devices get their reported system info merged with the server-side
// overlay for their id before the entry becomes visible.
func (r *Registry) Add(client *Client) (evicted *Client, drained DrainedSessions) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client.Type == protocol.ClientTypeDevice {
		overlay, ok := r.overlays[client.ID]
		if ok {
			client.SystemInfo = MergeSystemInfo(client.SystemInfo, &overlay)
		} else {
			client.SystemInfo = MergeSystemInfo(client.SystemInfo, nil)
		}
	}

	prior := r.clients[client.ID]
	r.clients[client.ID] = client

	if prior != nil {
		drained = r.drainLocked(client.ID)
		r.logger.Info("Client replaced by re-registration",
			zap.String("client_id", client.ID),
			zap.String("client_type", string(client.Type)))
	}
	return prior, drained
}

// Drop removes a client's registration only while it still points at c, and
// drains its sessions in the same critical section. A connection that lost
// its registration to a re-registering peer gets owned == false and must not
// touch sessions now owned by its replacement.
func (r *Registry) Drop(c *Client) (owned bool, drained DrainedSessions) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.clients[c.ID]
	if !exists || cur != c {
		return false, DrainedSessions{}
	}
	delete(r.clients, c.ID)
	return true, r.drainLocked(c.ID)
}

func (r *Registry) drainLocked(clientID string) DrainedSessions {
	d := DrainedSessions{
		Orchestrated: r.orchestratorSessions[clientID],
		Executing:    r.deviceSessions[clientID],
	}
	delete(r.orchestratorSessions, clientID)
	delete(r.deviceSessions, clientID)
	return d
}

// Get returns the client registered under id.
func (r *Registry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[clientID]
	return client, exists
}

// GetDevice returns the client under id iff it is a device. This is the
// only existence check task dispatch is allowed to use.
func (r *Registry) GetDevice(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[clientID]
	if !exists || client.Type != protocol.ClientTypeDevice {
		return nil, false
	}
	return client, true
}

// Remove deletes and returns the client registered under id.
func (r *Registry) Remove(clientID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, exists := r.clients[clientID]
	if !exists {
		return nil, false
	}
	delete(r.clients, clientID)
	return client, true
}

// List returns the ids of all connected clients, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddOrchestratorSession records that a constellation originated a session.
func (r *Registry) AddOrchestratorSession(clientID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orchestratorSessions[clientID] = append(r.orchestratorSessions[clientID], sessionID)
}

// AddDeviceSession records that a session executes on a device.
func (r *Registry) AddDeviceSession(deviceID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deviceSessions[deviceID] = append(r.deviceSessions[deviceID], sessionID)
}

// DrainOrchestratorSessions removes and returns all session ids originated
// by the constellation, atomically.
func (r *Registry) DrainOrchestratorSessions(clientID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.orchestratorSessions[clientID]
	delete(r.orchestratorSessions, clientID)
	return sessions
}

// DrainDeviceSessions removes and returns all session ids executing on the
// device, atomically.
func (r *Registry) DrainDeviceSessions(deviceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.deviceSessions[deviceID]
	delete(r.deviceSessions, deviceID)
	return sessions
}

// RemoveOrchestratorSession drops one session id from the constellation's
// originated set. Other clients' entries are untouched, so rolling back a
// refused dispatch cannot disturb a live session that reused the same id.
func (r *Registry) RemoveOrchestratorSession(clientID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessions, ok := r.orchestratorSessions[clientID]; ok {
		r.orchestratorSessions[clientID] = removeString(sessions, sessionID)
		if len(r.orchestratorSessions[clientID]) == 0 {
			delete(r.orchestratorSessions, clientID)
		}
	}
}

// RemoveDeviceSession drops one session id from the device's executing set.
func (r *Registry) RemoveDeviceSession(deviceID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessions, ok := r.deviceSessions[deviceID]; ok {
		r.deviceSessions[deviceID] = removeString(sessions, sessionID)
		if len(r.deviceSessions[deviceID]) == 0 {
			delete(r.deviceSessions, deviceID)
		}
	}
}

// RemoveSession drops one session id from both ownership indexes, whichever
// clients hold it. Used when a session reaches a terminal state on its own
// rather than by disconnect.
func (r *Registry) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for clientID, sessions := range r.orchestratorSessions {
		r.orchestratorSessions[clientID] = removeString(sessions, sessionID)
		if len(r.orchestratorSessions[clientID]) == 0 {
			delete(r.orchestratorSessions, clientID)
		}
	}
	for deviceID, sessions := range r.deviceSessions {
		r.deviceSessions[deviceID] = removeString(sessions, sessionID)
		if len(r.deviceSessions[deviceID]) == 0 {
			delete(r.deviceSessions, deviceID)
		}
	}
}

// DeviceSystemInfo returns a snapshot of a device's merged system info.
// The copy may be read without holding any registry lock.
func (r *Registry) DeviceSystemInfo(deviceID string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[deviceID]
	if !exists || client.Type != protocol.ClientTypeDevice {
		return nil, false
	}

	snapshot := make(map[string]any, len(client.SystemInfo))
	for k, v := range client.SystemInfo {
		snapshot[k] = v
	}
	return snapshot, true
}

func removeString(list []string, target string) []string {
	for i, s := range list {
		if s == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
