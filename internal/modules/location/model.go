// README: Immutable rider location samples and the event pushed to trackers.
package location

import (
	"time"

	"medilink/internal/types"
)

// Sample is one GPS reading from a rider, optionally tagged to an order.
// Rows are append-only; the rider's last-known location is a separate,
// overwritable projection.
type Sample struct {
	ID          types.ID
	OrderID     *types.ID
	RiderID     types.ID
	Position    types.Point
	Accuracy    *float64
	Speed       *float64
	AddressText string
	UpdateType  string
	CreatedAt   time.Time
}

// Event mirrors the inbound sample with a rider identity, pushed to the
// order's patient and partner organization.
type Event struct {
	OrderID     *types.ID `json:"order_id,omitempty"`
	RiderID     types.ID  `json:"rider_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Accuracy    *float64  `json:"accuracy,omitempty"`
	Speed       *float64  `json:"speed,omitempty"`
	AddressText string    `json:"address_text,omitempty"`
}

// LastKnown is the cached most-recent position of a rider.
type LastKnown struct {
	Position  types.Point
	UpdatedAt time.Time
}
