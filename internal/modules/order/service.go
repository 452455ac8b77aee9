// README: Order service implements lifecycle transitions, access checks, and event fan-out.
package order

import (
	"context"
	"errors"
	"fmt"
	"log"

	"medilink/internal/auth"
	"medilink/internal/types"
)

var (
	ErrBadRequest    = errors.New("bad request")
	ErrNotFound      = errors.New("order not found or access denied")
	ErrInvalidState  = errors.New("invalid state transition")
	ErrInvalidStatus = errors.New("invalid status value")
	ErrConflict      = errors.New("order state conflict")
	ErrRiderNotFound = errors.New("delivery rider not found")
)

// EventStatusChanged is the channel event emitted after a transition commits.
const EventStatusChanged = "order-status-changed"

// Publisher delivers an event to one per-user channel, best-effort. The
// service never enumerates connections; it only publishes.
type Publisher interface {
	Publish(channel, event string, payload any)
}

type Service struct {
	store     *Store
	publisher Publisher
}

func NewService(store *Store, publisher Publisher) *Service {
	return &Service{store: store, publisher: publisher}
}

type ItemInput struct {
	Name         string
	Description  string
	Quantity     int
	UnitPrice    float64
	Dosage       string
	Instructions string
}

type PlaceCommand struct {
	PartnerOrgID    types.ID
	DeliveryAddress string
	PatientContact  string
	Items           []ItemInput
}

// Place creates a new order for the calling patient: order row, item batch,
// and seed history row commit together or not at all.
func (s *Service) Place(ctx context.Context, actor auth.Principal, cmd PlaceCommand) (*Order, []Item, error) {
	if cmd.PartnerOrgID == 0 {
		return nil, nil, ErrBadRequest
	}
	items := make([]Item, 0, len(cmd.Items))
	for _, in := range cmd.Items {
		if in.Name == "" || in.Quantity <= 0 || in.UnitPrice < 0 {
			return nil, nil, ErrBadRequest
		}
		items = append(items, Item{
			Name:         in.Name,
			Description:  in.Description,
			Quantity:     in.Quantity,
			UnitPrice:    in.UnitPrice,
			TotalPrice:   in.UnitPrice * float64(in.Quantity),
			Dosage:       in.Dosage,
			Instructions: in.Instructions,
		})
	}

	o := &Order{
		PatientID:       actor.UserID,
		PartnerOrgID:    cmd.PartnerOrgID,
		DeliveryAddress: cmd.DeliveryAddress,
		PatientContact:  cmd.PatientContact,
	}
	if err := s.store.Create(ctx, o, items); err != nil {
		return nil, nil, err
	}

	s.notify(ctx, StatusEvent{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		NewStatus:     StatusPending,
		ChangedByID:   actor.UserID,
		ChangedByRole: actor.Role,
		Notes:         "Order placed by patient",
	})
	return o, items, nil
}

// Get returns the order if the actor may access it: admins by ID, owners
// through their ownership column; everyone else sees "not found".
func (s *Service) Get(ctx context.Context, actor auth.Principal, orderID types.ID) (*Order, error) {
	return s.store.GetForActor(ctx, orderID, actor)
}

func (s *Service) Items(ctx context.Context, orderID types.ID) ([]Item, error) {
	return s.store.Items(ctx, orderID)
}

func (s *Service) History(ctx context.Context, orderID types.ID) ([]HistoryEntry, error) {
	return s.store.History(ctx, orderID)
}

func (s *Service) AssignmentLog(ctx context.Context, orderID types.ID) ([]AssignmentLogEntry, error) {
	return s.store.AssignmentLog(ctx, orderID)
}

func (s *Service) ListForPatient(ctx context.Context, actor auth.Principal, f Filter) ([]Summary, int, error) {
	return s.store.ListByPatient(ctx, actor.UserID, f)
}

func (s *Service) ListForPartner(ctx context.Context, actor auth.Principal, f Filter) ([]Summary, int, error) {
	return s.store.ListByPartner(ctx, actor.UserID, f)
}

func (s *Service) ListForRider(ctx context.Context, actor auth.Principal, f Filter) ([]Summary, error) {
	return s.store.ListByRider(ctx, actor.UserID, f)
}

func (s *Service) ListAll(ctx context.Context, f Filter) ([]Summary, int, error) {
	return s.store.ListAll(ctx, f)
}

// Accept moves a pending order to accepted on behalf of the fulfilling
// partner organization.
func (s *Service) Accept(ctx context.Context, actor auth.Principal, orderID types.ID) (*Order, error) {
	o, err := s.store.GetForActor(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusAccepted) {
		return nil, ErrInvalidState
	}
	return s.apply(ctx, Transition{
		OrderID:   o.ID,
		From:      o.Status,
		To:        StatusAccepted,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Notes:     "Order accepted by partner",
	})
}

type AssignCommand struct {
	RiderID types.ID
	Method  string
}

// Assign binds a rider to an accepted order: the order update, the
// assignment-log row, and the history row commit in one transaction.
func (s *Service) Assign(ctx context.Context, actor auth.Principal, orderID types.ID, cmd AssignCommand) (*Order, error) {
	o, err := s.store.GetForActor(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusAssigned) {
		return nil, ErrInvalidState
	}
	riderName, err := s.store.RiderName(ctx, cmd.RiderID)
	if err != nil {
		return nil, err
	}
	method := cmd.Method
	if method == "" {
		method = "manual"
	}
	rider := cmd.RiderID
	return s.apply(ctx, Transition{
		OrderID:          o.ID,
		From:             o.Status,
		To:               StatusAssigned,
		ActorID:          actor.UserID,
		ActorRole:        actor.Role,
		Notes:            fmt.Sprintf("Order assigned to rider %s", riderName),
		AssignRiderID:    &rider,
		AssignmentMethod: method,
	})
}

// UpdateRiderStatus advances the delivery run. The requested status must be
// one of picked_up/in_transit/delivered and sit strictly later in the run
// than the order's current status.
func (s *Service) UpdateRiderStatus(ctx context.Context, actor auth.Principal, orderID types.ID, status Status) (*Order, error) {
	if !ValidRiderStatus(status) {
		return nil, ErrInvalidStatus
	}
	o, err := s.store.GetForActor(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if !CanRiderAdvance(o.Status, status) {
		return nil, ErrInvalidState
	}
	return s.apply(ctx, Transition{
		OrderID:   o.ID,
		From:      o.Status,
		To:        status,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Notes:     fmt.Sprintf("Status updated to %s by delivery rider", status),
	})
}

// Cancel is available to the patient and the partner organization while the
// order has not left the facility.
func (s *Service) Cancel(ctx context.Context, actor auth.Principal, orderID types.ID, reason string) (*Order, error) {
	o, err := s.store.GetForActor(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, ErrInvalidState
	}
	cancelledBy := string(actor.Role)
	if reason == "" {
		reason = fmt.Sprintf("Cancelled by %s", actor.Role)
	}
	return s.apply(ctx, Transition{
		OrderID:            o.ID,
		From:               o.Status,
		To:                 StatusCancelled,
		ActorID:            actor.UserID,
		ActorRole:          actor.Role,
		Notes:              reason,
		CancelledBy:        &cancelledBy,
		CancellationReason: &reason,
	})
}

// Approve records the patient's verdict on a delivered order. approved=true
// closes the order as approved_by_client; approved=false appends a feedback
// history row and leaves the status at delivered, however often it is
// called.
func (s *Service) Approve(ctx context.Context, actor auth.Principal, orderID types.ID, approved bool, feedback string) (*Order, error) {
	o, err := s.store.GetForActor(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusDelivered {
		return nil, ErrInvalidState
	}
	if approved {
		return s.apply(ctx, Transition{
			OrderID:   o.ID,
			From:      o.Status,
			To:        StatusApproved,
			ActorID:   actor.UserID,
			ActorRole: actor.Role,
			Notes:     "Delivery approved by patient",
		})
	}

	if feedback == "" {
		feedback = "No feedback provided"
	}
	old := o.Status
	err = s.store.AppendHistory(ctx, HistoryEntry{
		OrderID:       o.ID,
		OldStatus:     &old,
		NewStatus:     StatusDelivered,
		ChangedByID:   actor.UserID,
		ChangedByRole: actor.Role,
		Notes:         fmt.Sprintf("Delivery not approved by patient. Feedback: %s", feedback),
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// apply runs the atomic transition, re-reads the row, and fans the change
// out to the order's interested parties. Notification is best-effort and
// happens only after the write committed.
func (s *Service) apply(ctx context.Context, t Transition) (*Order, error) {
	if err := s.store.ApplyTransition(ctx, t); err != nil {
		return nil, err
	}
	o, err := s.store.Get(ctx, t.OrderID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, StatusEvent{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		NewStatus:     o.Status,
		ChangedByID:   t.ActorID,
		ChangedByRole: t.ActorRole,
		Notes:         t.Notes,
	})
	return o, nil
}

func (s *Service) notify(ctx context.Context, ev StatusEvent) {
	if s.publisher == nil {
		return
	}
	parties, err := s.store.Parties(ctx, ev.OrderID)
	if err != nil {
		log.Printf("order %d: resolve parties for notify: %v", ev.OrderID, err)
		return
	}
	s.publisher.Publish(auth.ChannelFor(auth.RolePatient, parties.PatientID), EventStatusChanged, ev)
	s.publisher.Publish(auth.ChannelFor(auth.RolePartner, parties.PartnerOrgID), EventStatusChanged, ev)
	if parties.RiderID != nil {
		s.publisher.Publish(auth.ChannelFor(auth.RoleRider, *parties.RiderID), EventStatusChanged, ev)
	}
}
