// README: Location store: Postgres ledger plus Redis GEO fast-path cache.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"medilink/internal/types"
)

const (
	riderGeoKey        = "location:riders"
	riderHashKeyFormat = "location:rider:%d"
	// Cache entries outlive any realistic delivery run.
	cacheTTL = 24 * time.Hour
)

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

// Append writes one immutable ledger row and fills in the generated ID and
// timestamp.
func (s *Store) Append(ctx context.Context, sm *Sample) error {
	var orderID *int64
	if sm.OrderID != nil {
		v := int64(*sm.OrderID)
		orderID = &v
	}
	return s.db.QueryRow(ctx, `
		INSERT INTO order_location_updates (order_id, rider_id, latitude, longitude, accuracy, speed, address_text, update_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING location_id, created_at`,
		orderID, int64(sm.RiderID), sm.Position.Lat, sm.Position.Lng,
		sm.Accuracy, sm.Speed, sm.AddressText, sm.UpdateType,
	).Scan(&sm.ID, &sm.CreatedAt)
}

// AssignedRider returns the rider currently bound to the order, nil when
// unassigned, or ErrOrderNotFound.
func (s *Store) AssignedRider(ctx context.Context, orderID types.ID) (*types.ID, error) {
	var rider *int64
	err := s.db.QueryRow(ctx,
		`SELECT delivery_rider_id FROM orders WHERE order_id = $1`, int64(orderID),
	).Scan(&rider)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if rider == nil {
		return nil, nil
	}
	v := types.ID(*rider)
	return &v, nil
}

// OrderParties returns the patient and partner to notify for an order's
// location events.
func (s *Store) OrderParties(ctx context.Context, orderID types.ID) (patientID, partnerID types.ID, err error) {
	err = s.db.QueryRow(ctx,
		`SELECT patient_id, partner_org_id FROM orders WHERE order_id = $1`, int64(orderID),
	).Scan(&patientID, &partnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrOrderNotFound
	}
	return patientID, partnerID, err
}

// UpdateRiderCache overwrites the rider profile's last-known-location
// columns. Last write wins; no ordering guarantee beyond that.
func (s *Store) UpdateRiderCache(ctx context.Context, riderID types.ID, pos types.Point) error {
	_, err := s.db.Exec(ctx, `
		UPDATE delivery_riders
		SET last_location_latitude = $2, last_location_longitude = $3, last_location_updated_at = now()
		WHERE rider_id = $1`,
		int64(riderID), pos.Lat, pos.Lng,
	)
	return err
}

// CacheLastKnown mirrors the last-known location into Redis: a GEO set for
// proximity reads and a per-rider hash for point lookups.
func (s *Store) CacheLastKnown(ctx context.Context, riderID types.ID, pos types.Point, at time.Time) error {
	if s.redis == nil {
		return nil
	}
	pipe := s.redis.Pipeline()
	pipe.GeoAdd(ctx, riderGeoKey, &redis.GeoLocation{
		Name:      fmt.Sprintf("%d", riderID),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	})
	key := fmt.Sprintf(riderHashKeyFormat, riderID)
	pipe.HSet(ctx, key, "lat", pos.Lat, "lng", pos.Lng, "updated_at", at.UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, cacheTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// LastKnown reads the rider's cached position, Redis first with a Postgres
// fallback. ok is false when the rider has never reported a location.
func (s *Store) LastKnown(ctx context.Context, riderID types.ID) (LastKnown, bool, error) {
	if s.redis != nil {
		vals, err := s.redis.HGetAll(ctx, fmt.Sprintf(riderHashKeyFormat, riderID)).Result()
		if err == nil && len(vals) > 0 {
			var lk LastKnown
			if _, err := fmt.Sscanf(vals["lat"], "%f", &lk.Position.Lat); err == nil {
				if _, err := fmt.Sscanf(vals["lng"], "%f", &lk.Position.Lng); err == nil {
					lk.UpdatedAt, _ = time.Parse(time.RFC3339, vals["updated_at"])
					return lk, true, nil
				}
			}
		}
	}

	var lk LastKnown
	var lat, lng *float64
	var at *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT last_location_latitude, last_location_longitude, last_location_updated_at
		FROM delivery_riders
		WHERE rider_id = $1`, int64(riderID),
	).Scan(&lat, &lng, &at)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && (lat == nil || lng == nil)) {
		return lk, false, nil
	}
	if err != nil {
		return lk, false, err
	}
	lk.Position = types.Point{Lat: *lat, Lng: *lng}
	if at != nil {
		lk.UpdatedAt = *at
	}
	return lk, true, nil
}

// HistoryByOrder returns an order's samples newest-first, capped to bound
// the response size.
func (s *Store) HistoryByOrder(ctx context.Context, orderID types.ID, limit int) ([]Sample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT location_id, order_id, rider_id, latitude, longitude, accuracy, speed, address_text, update_type, created_at
		FROM order_location_updates
		WHERE order_id = $1
		ORDER BY created_at DESC, location_id DESC
		LIMIT $2`, int64(orderID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var sm Sample
		var orderID *int64
		if err := rows.Scan(&sm.ID, &orderID, &sm.RiderID, &sm.Position.Lat, &sm.Position.Lng,
			&sm.Accuracy, &sm.Speed, &sm.AddressText, &sm.UpdateType, &sm.CreatedAt); err != nil {
			return nil, err
		}
		if orderID != nil {
			v := types.ID(*orderID)
			sm.OrderID = &v
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
