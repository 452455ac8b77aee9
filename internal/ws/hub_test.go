// README: Hub tests: fan-out, multi-session channels, drop-on-full.
package ws

import (
	"encoding/json"
	"testing"

	"medilink/internal/auth"
	"medilink/internal/types"
)

func testSession(h *Hub, role auth.Role, id types.ID, buffer int) *Session {
	s := &Session{
		hub:       h,
		channel:   auth.ChannelFor(role, id),
		principal: auth.Principal{UserID: id, Role: role},
		send:      make(chan []byte, buffer),
	}
	h.register(s)
	return s
}

func TestPublishDeliversToChannel(t *testing.T) {
	h := NewHub()
	s := testSession(h, auth.RolePatient, 1, 4)

	h.Publish(auth.ChannelFor(auth.RolePatient, 1), "order-status-changed", map[string]any{"order_id": 7})

	select {
	case data := <-s.send:
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if f.Event != "order-status-changed" {
			t.Errorf("event = %s, want order-status-changed", f.Event)
		}
		if f.Timestamp == "" {
			t.Error("expected a server timestamp")
		}
	default:
		t.Fatal("expected a frame on the session buffer")
	}
}

func TestPublishAbsentChannelIsNoop(t *testing.T) {
	h := NewHub()
	// No session registered; must not panic or block.
	h.Publish(auth.ChannelFor(auth.RoleRider, 42), "rider-location-updated", nil)
}

func TestPublishRoleQualifiedChannels(t *testing.T) {
	h := NewHub()
	patient := testSession(h, auth.RolePatient, 5, 4)
	rider := testSession(h, auth.RoleRider, 5, 4)

	// Same numeric ID, different role namespace: only the rider hears this.
	h.Publish(auth.ChannelFor(auth.RoleRider, 5), "order-status-changed", nil)

	if len(rider.send) != 1 {
		t.Fatalf("expected 1 frame for the rider, got %d", len(rider.send))
	}
	if len(patient.send) != 0 {
		t.Fatalf("expected no frames for the patient, got %d", len(patient.send))
	}
}

func TestPublishMultipleSessionsSameChannel(t *testing.T) {
	h := NewHub()
	a := testSession(h, auth.RolePatient, 3, 4)
	b := testSession(h, auth.RolePatient, 3, 4)

	h.Publish(auth.ChannelFor(auth.RolePatient, 3), "order-status-changed", nil)

	if len(a.send) != 1 || len(b.send) != 1 {
		t.Fatalf("expected both sessions to receive the frame, got %d and %d", len(a.send), len(b.send))
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	h := NewHub()
	s := testSession(h, auth.RolePatient, 9, 1)

	h.Publish(auth.ChannelFor(auth.RolePatient, 9), "order-status-changed", map[string]int{"n": 1})
	h.Publish(auth.ChannelFor(auth.RolePatient, 9), "order-status-changed", map[string]int{"n": 2})

	if len(s.send) != 1 {
		t.Fatalf("expected overflow frame to be dropped, buffer holds %d", len(s.send))
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	h := NewHub()
	s := testSession(h, auth.RolePartner, 2, 4)
	h.unregister(s)

	h.Publish(auth.ChannelFor(auth.RolePartner, 2), "order-status-changed", nil)
	if len(s.send) != 0 {
		t.Fatalf("expected no delivery after unregister, got %d", len(s.send))
	}
}
