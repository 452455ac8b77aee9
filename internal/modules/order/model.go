// README: Order aggregate, status definitions, and the delivery state machine.
package order

import (
	"time"

	"medilink/internal/auth"
	"medilink/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusAssigned  Status = "assigned"
	StatusPickedUp  Status = "picked_up"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusApproved  Status = "approved_by_client"
	StatusCancelled Status = "cancelled"
)

type Order struct {
	ID                 types.ID
	OrderNumber        string
	PatientID          types.ID
	PartnerOrgID       types.ID
	DeliveryRiderID    *types.ID
	Status             Status
	DeliveryAddress    string
	PatientContact     string
	CancelledBy        *string
	CancellationReason *string
	CreatedAt          time.Time
	AssignedAt         *time.Time
}

// Item is one line item of an order; created as a batch at placement time
// and immutable thereafter.
type Item struct {
	ID           types.ID
	OrderID      types.ID
	Name         string
	Description  string
	Quantity     int
	UnitPrice    float64
	TotalPrice   float64
	Dosage       string
	Instructions string
}

// HistoryEntry is one row of the append-only status audit trail. OldStatus
// is nil only for the seed row written at order creation.
type HistoryEntry struct {
	ID            types.ID
	OrderID       types.ID
	OldStatus     *Status
	NewStatus     Status
	ChangedByID   types.ID
	ChangedByRole auth.Role
	Notes         string
	CreatedAt     time.Time
}

// AssignmentLogEntry records one rider assignment event.
type AssignmentLogEntry struct {
	ID             types.ID
	OrderID        types.ID
	RiderID        types.ID
	Method         string
	AssignedByID   types.ID
	AssignedByRole auth.Role
	Status         string
	CreatedAt      time.Time
}

// AllowedTransitions represents the order state flow (diagram) as code.
// Terminal states (approved_by_client, cancelled) have no outgoing edges;
// cancellation is reachable only before the delivery run starts.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusPickedUp, StatusCancelled},
	StatusPickedUp:  {StatusInTransit},
	StatusInTransit: {StatusDelivered},
	StatusDelivered: {StatusApproved},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// riderFlow is the ordered progression a rider drives an order through.
// Legality of a rider update is decided by rank comparison: the requested
// status must sit strictly later in this sequence than the current one.
var riderFlow = []Status{StatusAssigned, StatusPickedUp, StatusInTransit, StatusDelivered}

func riderRank(s Status) int {
	for i, v := range riderFlow {
		if v == s {
			return i
		}
	}
	return -1
}

// ValidRiderStatus reports whether a rider may request this status at all.
func ValidRiderStatus(s Status) bool {
	switch s {
	case StatusPickedUp, StatusInTransit, StatusDelivered:
		return true
	}
	return false
}

// CanRiderAdvance reports whether a rider may move an order from `from` to
// `to`. Equal or lower rank is illegal (blocks replays and backward moves),
// and a current status outside the flow (e.g. cancelled) admits no rider
// transition.
func CanRiderAdvance(from, to Status) bool {
	cur, next := riderRank(from), riderRank(to)
	if cur < 0 || next < 0 {
		return false
	}
	return next > cur
}

// StatusEvent is pushed to an order's interested parties after a transition
// commits.
type StatusEvent struct {
	OrderID       types.ID  `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	NewStatus     Status    `json:"new_status"`
	ChangedByID   types.ID  `json:"changed_by_id"`
	ChangedByRole auth.Role `json:"changed_by_role"`
	Notes         string    `json:"notes,omitempty"`
}
