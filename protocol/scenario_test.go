package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lydianai/otoail.ailydian.com-sub005/domain"
	"github.com/lydianai/otoail.ailydian.com-sub005/hub"
)

// End-to-end behavior through a real hub rather than the relay mock.

func connect(h *hub.Hub, id string) *mockConn {
	c := &mockConn{id: id}
	h.Connect(c)
	return c
}

func decodeAll[T any](t *testing.T, frames [][]byte, msgType string) []T {
	t.Helper()
	var out []T
	for _, f := range frames {
		var head domain.Envelope
		require.NoError(t, json.Unmarshal(f, &head))
		if head.Type != msgType {
			continue
		}
		var msg T
		require.NoError(t, json.Unmarshal(f, &msg))
		out = append(out, msg)
	}
	return out
}

func TestRelay_LocationFanoutScenario(t *testing.T) {
	h := hub.New()
	handler := NewHandler(h, nil)

	a := connect(h, "A")
	b := connect(h, "B")
	c := connect(h, "C")
	d := connect(h, "D")

	reg, _ := json.Marshal(domain.RegisterVehicle{Type: domain.TypeRegisterVehicle, VehicleID: "car-42"})
	handler.Handle(a, reg)
	h.Observe(b, "car-42")
	h.Observe(c, "car-42")
	h.Observe(d, "car-99")

	loc, _ := json.Marshal(domain.LocationUpdate{
		Type:      domain.TypeLocationUpdate,
		VehicleID: "car-42",
		Latitude:  41.0,
		Longitude: 29.0,
		Speed:     60,
	})
	handler.Handle(a, loc)

	for _, obs := range []*mockConn{b, c} {
		updates := decodeAll[domain.LocationUpdate](t, obs.getSent(), domain.TypeLocationUpdate)
		require.Len(t, updates, 1, "observer %s", obs.ID())
		assert.Equal(t, "car-42", updates[0].VehicleID)
		assert.Equal(t, 41.0, updates[0].Latitude)
		assert.Equal(t, 29.0, updates[0].Longitude)
		assert.Equal(t, 60.0, updates[0].Speed)
		assert.NotZero(t, updates[0].Timestamp)
	}

	// The sender is a channel member too; self-echo is not suppressed.
	assert.Len(t, decodeAll[domain.LocationUpdate](t, a.getSent(), domain.TypeLocationUpdate), 1)

	assert.Empty(t, d.getSent(), "observer of another vehicle must receive nothing")

	snapshot, ok := h.LastLocation("car-42")
	require.True(t, ok)
	assert.Equal(t, 41.0, snapshot.Latitude)
}

func TestRelay_CommandRoundTripScenario(t *testing.T) {
	h := hub.New()
	handler := NewHandler(h, nil)

	a := connect(h, "A")
	b := connect(h, "B")
	c := connect(h, "C")

	reg, _ := json.Marshal(domain.RegisterVehicle{Type: domain.TypeRegisterVehicle, VehicleID: "car-42"})
	handler.Handle(a, reg)
	h.Observe(b, "car-42")
	h.Observe(c, "car-42")

	cmd, _ := json.Marshal(domain.SendCommand{
		Type:      domain.TypeSendCommand,
		VehicleID: "car-42",
		CommandID: "cmd-1",
		Command:   json.RawMessage(`"lock-doors"`),
	})
	handler.Handle(b, cmd)

	forwarded := decodeAll[domain.VehicleCommand](t, a.getSent(), domain.TypeVehicleCommand)
	require.Len(t, forwarded, 1, "registered source must receive the command")
	assert.Equal(t, "cmd-1", forwarded[0].CommandID)

	done, _ := json.Marshal(domain.CommandComplete{
		Type:      domain.TypeCommandComplete,
		VehicleID: "car-42",
		CommandID: "cmd-1",
		Success:   true,
	})
	handler.Handle(a, done)

	// Every observer sees the completion, not only the issuer.
	for _, obs := range []*mockConn{b, c} {
		completions := decodeAll[domain.CommandComplete](t, obs.getSent(), domain.TypeCommandComplete)
		require.Len(t, completions, 1, "observer %s", obs.ID())
		assert.True(t, completions[0].Success)
		assert.Equal(t, "cmd-1", completions[0].CommandID)
	}
}

func TestRelay_CommandToEmptyChannelIsDropped(t *testing.T) {
	h := hub.New()
	handler := NewHandler(h, nil)

	dash := connect(h, "dash")

	cmd, _ := json.Marshal(domain.SendCommand{
		Type:      domain.TypeSendCommand,
		VehicleID: "car-42",
		CommandID: "cmd-1",
		Command:   json.RawMessage(`"lock-doors"`),
	})
	handler.Handle(dash, cmd)

	assert.Empty(t, dash.getSent())

	// No store-and-forward: a later member must not receive it.
	late := connect(h, "late")
	h.Observe(late, "car-42")
	assert.Empty(t, late.getSent())
}
