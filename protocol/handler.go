package protocol

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lydianai/otoail.ailydian.com-sub005/domain"
	"github.com/lydianai/otoail.ailydian.com-sub005/metrics"
)

// Handler decodes inbound frames and drives the relay. Every fan-out
// message is stamped with the relay's receipt time so recipients observe a
// consistent timestamp regardless of source clock skew.
type Handler struct {
	relay domain.Relay
	sink  domain.Sink
}

// NewHandler builds a Handler. sink may be nil when no firehose is wired.
func NewHandler(r domain.Relay, sink domain.Sink) *Handler {
	return &Handler{relay: r, sink: sink}
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var head domain.Envelope
	if err := json.Unmarshal(data, &head); err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		metrics.IncDropped("bad-json")
		return
	}

	if head.Type == domain.TypePing {
		h.handlePing(conn, head)
		return
	}

	if head.VehicleID == "" {
		slog.Warn("missing vehicle id", "clientId", conn.ID(), "type", head.Type)
		metrics.IncDropped("missing-vehicle-id")
		return
	}

	switch head.Type {
	case domain.TypeRegisterVehicle:
		h.handleRegister(conn, head.VehicleID)
	case domain.TypeObserveVehicle:
		h.relay.Observe(conn, head.VehicleID)
	case domain.TypeLocationUpdate:
		h.handleLocation(conn, data)
	case domain.TypeStatusUpdate:
		h.handleStatus(conn, data)
	case domain.TypeGeofenceAlert:
		h.handleGeofence(conn, data)
	case domain.TypePushNotification:
		h.handleNotification(conn, data)
	case domain.TypeTripEvent:
		h.handleTrip(conn, data)
	case domain.TypeSendCommand:
		h.handleCommand(conn, data)
	case domain.TypeCommandComplete:
		h.handleCompletion(conn, data)
	default:
		slog.Warn("unknown message type", "clientId", conn.ID(), "type", head.Type)
		metrics.IncDropped("unknown-type")
	}
}

func (h *Handler) handlePing(conn domain.Connection, head domain.Envelope) {
	pong := domain.Ping{Type: domain.TypePong, Timestamp: head.Timestamp, ClientID: conn.ID()}
	if resp, err := json.Marshal(pong); err == nil {
		conn.Send(resp)
	}
}

func (h *Handler) handleRegister(conn domain.Connection, vehicleID string) {
	h.relay.RegisterVehicle(conn, vehicleID)

	ack := domain.VehicleRegistered{
		Type:      domain.TypeVehicleRegistered,
		VehicleID: vehicleID,
		Success:   true,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(ack)
	if err != nil {
		slog.Warn("marshal error", "clientId", conn.ID(), "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("ack send failed", "clientId", conn.ID(), "error", err)
	}
}

func (h *Handler) handleLocation(conn domain.Connection, data []byte) {
	var msg domain.LocationUpdate
	if !h.decode(conn, data, &msg) {
		return
	}
	msg.Type = domain.TypeLocationUpdate
	msg.Timestamp = time.Now().UnixMilli()

	h.relay.SetLocation(msg.VehicleID, msg)
	h.fanOut(msg.VehicleID, msg.Type, msg)
}

func (h *Handler) handleStatus(conn domain.Connection, data []byte) {
	var msg domain.StatusUpdate
	if !h.decode(conn, data, &msg) {
		return
	}
	msg.Type = domain.TypeStatusUpdate
	msg.Timestamp = time.Now().UnixMilli()
	h.fanOut(msg.VehicleID, msg.Type, msg)
}

func (h *Handler) handleGeofence(conn domain.Connection, data []byte) {
	var msg domain.GeofenceAlert
	if !h.decode(conn, data, &msg) {
		return
	}
	msg.Type = domain.TypeGeofenceAlert
	msg.Timestamp = time.Now().UnixMilli()
	h.fanOut(msg.VehicleID, msg.Type, msg)
}

func (h *Handler) handleNotification(conn domain.Connection, data []byte) {
	var msg domain.PushNotification
	if !h.decode(conn, data, &msg) {
		return
	}
	msg.Type = domain.TypePushNotification
	msg.Timestamp = time.Now().UnixMilli()
	h.fanOut(msg.VehicleID, msg.Type, msg)
}

func (h *Handler) handleTrip(conn domain.Connection, data []byte) {
	var msg domain.TripEvent
	if !h.decode(conn, data, &msg) {
		return
	}
	msg.Type = domain.TypeTripEvent
	msg.Timestamp = time.Now().UnixMilli()
	h.fanOut(msg.VehicleID, msg.Type, msg)
}

// handleCommand forwards a dashboard command into the vehicle's channel.
// If the channel has no members the command is dropped silently; there is
// no store-and-forward.
func (h *Handler) handleCommand(conn domain.Connection, data []byte) {
	var msg domain.SendCommand
	if !h.decode(conn, data, &msg) {
		return
	}
	out := domain.VehicleCommand{
		Type:      domain.TypeVehicleCommand,
		VehicleID: msg.VehicleID,
		CommandID: msg.CommandID,
		Command:   msg.Command,
		Timestamp: time.Now().UnixMilli(),
	}
	metrics.IncCommand()
	h.fanOut(out.VehicleID, out.Type, out)
}

// handleCompletion fans the outcome out to the whole channel so every
// dashboard observing the vehicle sees it, not only the command issuer.
// CommandID is not checked against dispatched commands.
func (h *Handler) handleCompletion(conn domain.Connection, data []byte) {
	var msg domain.CommandComplete
	if !h.decode(conn, data, &msg) {
		return
	}
	msg.Type = domain.TypeCommandComplete
	msg.Timestamp = time.Now().UnixMilli()
	h.fanOut(msg.VehicleID, msg.Type, msg)
}

func (h *Handler) decode(conn domain.Connection, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		metrics.IncDropped("bad-json")
		return false
	}
	return true
}

func (h *Handler) fanOut(vehicleID, msgType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal error", "vehicleId", vehicleID, "error", err)
		return
	}

	metrics.IncEvent(msgType)
	h.relay.Broadcast(vehicleID, data)

	if h.sink != nil {
		if err := h.sink.Publish(vehicleID, data); err != nil {
			slog.Warn("sink publish failed", "vehicleId", vehicleID, "type", msgType, "error", err)
		}
	}
}
