package domain

import "encoding/json"

// Message types carried over the wire. Inbound and outbound messages share
// the same "type" discriminator field.
const (
	TypeRegisterVehicle   = "register-vehicle"
	TypeVehicleRegistered = "vehicle-registered"
	TypeObserveVehicle    = "observe-vehicle"
	TypeLocationUpdate    = "location-update"
	TypeStatusUpdate      = "status-update"
	TypeGeofenceAlert     = "geofence-alert"
	TypeSendCommand       = "send-command"
	TypeVehicleCommand    = "vehicle-command"
	TypeCommandComplete   = "command-complete"
	TypePushNotification  = "push-notification"
	TypeTripEvent         = "trip-event"
	TypeServerStats       = "server-stats"
	TypePing              = "ping"
	TypePong              = "pong"
)

// Envelope is the minimal shape decoded from every inbound frame before
// dispatching on Type. VehicleID is required for all vehicle-scoped types.
type Envelope struct {
	Type      string `json:"type"`
	VehicleID string `json:"vehicleId"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type RegisterVehicle struct {
	Type      string `json:"type"`
	VehicleID string `json:"vehicleId"`
}

type VehicleRegistered struct {
	Type      string `json:"type"`
	VehicleID string `json:"vehicleId"`
	Success   bool   `json:"success"`
	Timestamp int64  `json:"timestamp"`
}

// LocationUpdate carries one GPS sample. Values are forwarded as received;
// the relay performs no bounds checking. Timestamp is stamped by the relay
// at receipt (Unix milliseconds), overriding whatever the sender set.
type LocationUpdate struct {
	Type      string  `json:"type"`
	VehicleID string  `json:"vehicleId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
	Timestamp int64   `json:"timestamp"`
}

// StatusUpdate forwards arbitrary status fields untouched.
type StatusUpdate struct {
	Type      string          `json:"type"`
	VehicleID string          `json:"vehicleId"`
	Status    json.RawMessage `json:"status"`
	Timestamp int64           `json:"timestamp"`
}

type GeofenceAlert struct {
	Type         string `json:"type"`
	VehicleID    string `json:"vehicleId"`
	GeofenceID   string `json:"geofenceId"`
	GeofenceName string `json:"geofenceName"`
	AlertType    string `json:"alertType"` // "enter" or "exit"
	Timestamp    int64  `json:"timestamp"`
}

// SendCommand is the dashboard-side request; VehicleCommand is what the
// relay fans out to the channel. Command payloads are opaque to the relay.
type SendCommand struct {
	Type      string          `json:"type"`
	VehicleID string          `json:"vehicleId"`
	CommandID string          `json:"commandId"`
	Command   json.RawMessage `json:"command"`
}

type VehicleCommand struct {
	Type      string          `json:"type"`
	VehicleID string          `json:"vehicleId"`
	CommandID string          `json:"commandId"`
	Command   json.RawMessage `json:"command"`
	Timestamp int64           `json:"timestamp"`
}

// CommandComplete reports the outcome of a previously forwarded command.
// The relay does not correlate CommandID against dispatched commands;
// matching is by shared identifier convention between the endpoints.
type CommandComplete struct {
	Type      string          `json:"type"`
	VehicleID string          `json:"vehicleId"`
	CommandID string          `json:"commandId"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type PushNotification struct {
	Type      string `json:"type"`
	VehicleID string `json:"vehicleId"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Timestamp int64  `json:"timestamp"`
}

type TripEvent struct {
	Type        string  `json:"type"`
	VehicleID   string  `json:"vehicleId"`
	EventType   string  `json:"eventType"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timestamp   int64   `json:"timestamp"`
}

// ServerStats is pushed to every connected session on a fixed interval.
type ServerStats struct {
	Type             string `json:"type"`
	ActiveVehicles   int    `json:"activeVehicleCount"`
	ConnectedClients int    `json:"connectedClientCount"`
	Timestamp        int64  `json:"timestamp"`
}

type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"clientId,omitempty"`
}

// Connection is one live transport session.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Relay owns all connection, channel and registration state.
type Relay interface {
	Connect(conn Connection)
	Disconnect(conn Connection)
	RegisterVehicle(conn Connection, vehicleID string)
	Observe(conn Connection, vehicleID string)
	Broadcast(vehicleID string, data []byte)
	SetLocation(vehicleID string, sample LocationUpdate)
	LastLocation(vehicleID string) (LocationUpdate, bool)
	Stats() (vehicles, clients int)
}

type MessageHandler interface {
	Handle(conn Connection, data []byte)
}

// Sink receives a best-effort copy of every fan-out envelope, keyed by
// vehicle id, for downstream infrastructure. Errors are the caller's to
// log; delivery to channel members never depends on the sink.
type Sink interface {
	Publish(vehicleID string, payload []byte) error
}
