// README: Location service: validates samples, appends the ledger, refreshes caches, notifies trackers.
package location

import (
	"context"
	"errors"
	"log"

	"medilink/internal/auth"
	"medilink/internal/types"
)

var (
	ErrMissingCoordinates = errors.New("latitude and longitude are required")
	ErrNotAssigned        = errors.New("order not found or not assigned to you")
	ErrOrderNotFound      = errors.New("order not found")
)

// EventLocationUpdated is the channel event emitted after a sample persists.
const EventLocationUpdated = "rider-location-updated"

// Geocoder resolves a coordinate pair to a human-readable address. Optional;
// samples keep whatever address text the rider sent when no geocoder is
// configured or the lookup fails.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// Publisher delivers an event to one per-user channel, best-effort.
type Publisher interface {
	Publish(channel, event string, payload any)
}

type Service struct {
	store        *Store
	geocoder     Geocoder
	publisher    Publisher
	historyLimit int
}

func NewService(store *Store, geocoder Geocoder, publisher Publisher, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Service{store: store, geocoder: geocoder, publisher: publisher, historyLimit: historyLimit}
}

type RecordCommand struct {
	RiderID     types.ID
	OrderID     *types.ID
	Latitude    *float64
	Longitude   *float64
	Accuracy    *float64
	Speed       *float64
	AddressText string
	UpdateType  string
}

// Record appends one ledger row and overwrites the rider's last-known
// location. When the sample is tagged to an order, the reporting rider must
// be that order's assigned rider; otherwise nothing is written. Cache
// refresh and notification are best-effort and never fail the call.
func (s *Service) Record(ctx context.Context, cmd RecordCommand) (*Sample, error) {
	if cmd.Latitude == nil || cmd.Longitude == nil {
		return nil, ErrMissingCoordinates
	}
	if cmd.OrderID != nil {
		rider, err := s.store.AssignedRider(ctx, *cmd.OrderID)
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrNotAssigned
		}
		if err != nil {
			return nil, err
		}
		if rider == nil || *rider != cmd.RiderID {
			return nil, ErrNotAssigned
		}
	}

	updateType := cmd.UpdateType
	if updateType == "" {
		updateType = "in_transit"
	}
	address := cmd.AddressText
	if address == "" && s.geocoder != nil {
		if a, err := s.geocoder.ReverseGeocode(ctx, *cmd.Latitude, *cmd.Longitude); err != nil {
			log.Printf("rider %d: reverse geocode: %v", cmd.RiderID, err)
		} else {
			address = a
		}
	}

	sm := &Sample{
		OrderID:     cmd.OrderID,
		RiderID:     cmd.RiderID,
		Position:    types.Point{Lat: *cmd.Latitude, Lng: *cmd.Longitude},
		Accuracy:    cmd.Accuracy,
		Speed:       cmd.Speed,
		AddressText: address,
		UpdateType:  updateType,
	}
	if err := s.store.Append(ctx, sm); err != nil {
		return nil, err
	}

	if err := s.store.UpdateRiderCache(ctx, sm.RiderID, sm.Position); err != nil {
		log.Printf("rider %d: refresh profile location: %v", sm.RiderID, err)
	}
	if err := s.store.CacheLastKnown(ctx, sm.RiderID, sm.Position, sm.CreatedAt); err != nil {
		log.Printf("rider %d: refresh redis location cache: %v", sm.RiderID, err)
	}

	s.notify(ctx, sm)
	return sm, nil
}

// History returns the order's location trail, newest-first, capped at the
// configured window.
func (s *Service) History(ctx context.Context, orderID types.ID) ([]Sample, error) {
	return s.store.HistoryByOrder(ctx, orderID, s.historyLimit)
}

// LastKnown returns the rider's cached most-recent position.
func (s *Service) LastKnown(ctx context.Context, riderID types.ID) (LastKnown, bool, error) {
	return s.store.LastKnown(ctx, riderID)
}

func (s *Service) notify(ctx context.Context, sm *Sample) {
	if s.publisher == nil || sm.OrderID == nil {
		return
	}
	patientID, partnerID, err := s.store.OrderParties(ctx, *sm.OrderID)
	if err != nil {
		log.Printf("order %d: resolve parties for location notify: %v", *sm.OrderID, err)
		return
	}
	ev := Event{
		OrderID:     sm.OrderID,
		RiderID:     sm.RiderID,
		Latitude:    sm.Position.Lat,
		Longitude:   sm.Position.Lng,
		Accuracy:    sm.Accuracy,
		Speed:       sm.Speed,
		AddressText: sm.AddressText,
	}
	s.publisher.Publish(auth.ChannelFor(auth.RolePatient, patientID), EventLocationUpdated, ev)
	s.publisher.Publish(auth.ChannelFor(auth.RolePartner, partnerID), EventLocationUpdated, ev)
}
