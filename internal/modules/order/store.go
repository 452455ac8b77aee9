// README: Order store backed by PostgreSQL; owns the atomic multi-statement operations.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"medilink/internal/auth"
	"medilink/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const orderColumns = `order_id, order_number, patient_id, partner_org_id, delivery_rider_id,
	       order_status, delivery_address, patient_contact, cancelled_by, cancellation_reason,
	       created_at, assigned_at`

// Create inserts the order row, its item batch, and the seed history row as
// one transaction. Order-number allocation is serialized per year with an
// advisory lock held for the duration of the transaction.
func (s *Store) Create(ctx context.Context, o *Order, items []Item) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	year := time.Now().Year()
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(year)); err != nil {
		return err
	}

	number, err := nextOrderNumber(ctx, tx, year)
	if err != nil {
		return err
	}
	o.OrderNumber = number
	o.Status = StatusPending

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (order_number, patient_id, partner_org_id, order_status, delivery_address, patient_contact)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING order_id, created_at`,
		o.OrderNumber, int64(o.PatientID), int64(o.PartnerOrgID), string(o.Status), o.DeliveryAddress, o.PatientContact,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return err
	}

	for i := range items {
		items[i].OrderID = o.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, item_name, item_description, item_quantity, unit_price, total_price, dosage, instructions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING order_item_id`,
			int64(o.ID), items[i].Name, items[i].Description, items[i].Quantity,
			items[i].UnitPrice, items[i].TotalPrice, items[i].Dosage, items[i].Instructions,
		).Scan(&items[i].ID)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, old_status, new_status, changed_by_user_id, changed_by_user_type, notes)
		VALUES ($1, NULL, $2, $3, $4, $5)`,
		int64(o.ID), string(StatusPending), int64(o.PatientID), string(auth.RolePatient), "Order placed by patient",
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// nextOrderNumber reads the highest ORD-<year>-NNNNN suffix and increments
// it; the first order of a year starts at 00001. Callers must hold the
// per-year advisory lock.
func nextOrderNumber(ctx context.Context, tx pgx.Tx, year int) (string, error) {
	var last string
	err := tx.QueryRow(ctx, `
		SELECT order_number FROM orders
		WHERE order_number LIKE $1
		ORDER BY order_id DESC
		LIMIT 1`, fmt.Sprintf("ORD-%d-%%", year),
	).Scan(&last)

	next := 1
	switch {
	case err == nil:
		parts := strings.Split(last, "-")
		var n int
		if _, err := fmt.Sscanf(parts[len(parts)-1], "%d", &n); err != nil {
			return "", fmt.Errorf("malformed order number %q: %w", last, err)
		}
		next = n + 1
	case errors.Is(err, pgx.ErrNoRows):
		// first order of the year
	default:
		return "", err
	}
	return fmt.Sprintf("ORD-%d-%05d", year, next), nil
}

// Transition describes one status change to apply atomically: the
// conditional order update plus exactly one history row, and for
// assignments one assignment-log row.
type Transition struct {
	OrderID   types.ID
	From      Status
	To        Status
	ActorID   types.ID
	ActorRole auth.Role
	Notes     string

	AssignRiderID    *types.ID
	AssignmentMethod string

	CancelledBy        *string
	CancellationReason *string
}

// ApplyTransition performs the conditional status write and the history
// append in one transaction. The UPDATE only matches while the row still
// holds the expected prior status, so a lost race surfaces as ErrConflict
// with no partial write.
func (s *Store) ApplyTransition(ctx context.Context, t Transition) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var rider *int64
	if t.AssignRiderID != nil {
		v := int64(*t.AssignRiderID)
		rider = &v
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET order_status = $2,
		    delivery_rider_id = COALESCE($3, delivery_rider_id),
		    assigned_at = CASE WHEN $2 = 'assigned' THEN now() ELSE assigned_at END,
		    cancelled_by = COALESCE($4, cancelled_by),
		    cancellation_reason = COALESCE($5, cancellation_reason)
		WHERE order_id = $1 AND order_status = $6`,
		int64(t.OrderID), string(t.To), rider, t.CancelledBy, t.CancellationReason, string(t.From),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}

	if t.AssignRiderID != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_assignment_log
			    (order_id, assigned_rider_id, assignment_method, assigned_by_user_id, assigned_by_user_type, assignment_status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			int64(t.OrderID), *rider, t.AssignmentMethod, int64(t.ActorID), string(t.ActorRole), string(t.To),
		)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, old_status, new_status, changed_by_user_id, changed_by_user_type, notes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(t.OrderID), string(t.From), string(t.To), int64(t.ActorID), string(t.ActorRole), t.Notes,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// AppendHistory writes a history row without touching the order row. Used
// for the delivery re-flag path, where feedback is recorded but the status
// stays `delivered`.
func (s *Store) AppendHistory(ctx context.Context, e HistoryEntry) error {
	var old *string
	if e.OldStatus != nil {
		v := string(*e.OldStatus)
		old = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_status_history (order_id, old_status, new_status, changed_by_user_id, changed_by_user_type, notes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(e.OrderID), old, string(e.NewStatus), int64(e.ChangedByID), string(e.ChangedByRole), e.Notes,
	)
	return err
}

// GetForActor loads an order only if the principal may access it: admins by
// ID alone, every other role through its ownership column. A missing row
// and a denied row are indistinguishable to the caller.
func (s *Store) GetForActor(ctx context.Context, id types.ID, p auth.Principal) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`
	args := []any{int64(id)}

	switch p.Role {
	case auth.RoleAdmin:
	case auth.RolePatient:
		q += ` AND patient_id = $2`
		args = append(args, int64(p.UserID))
	case auth.RolePartner:
		q += ` AND partner_org_id = $2`
		args = append(args, int64(p.UserID))
	case auth.RoleRider:
		q += ` AND delivery_rider_id = $2`
		args = append(args, int64(p.UserID))
	default:
		return nil, ErrNotFound
	}

	return scanOrder(s.db.QueryRow(ctx, q, args...))
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	return scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, int64(id)))
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var riderID *int64
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.PatientID, &o.PartnerOrgID, &riderID,
		&o.Status, &o.DeliveryAddress, &o.PatientContact, &o.CancelledBy, &o.CancellationReason,
		&o.CreatedAt, &o.AssignedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if riderID != nil {
		v := types.ID(*riderID)
		o.DeliveryRiderID = &v
	}
	return &o, nil
}

// RiderName returns the rider's display name, or ErrRiderNotFound.
func (s *Store) RiderName(ctx context.Context, riderID types.ID) (string, error) {
	var name string
	err := s.db.QueryRow(ctx,
		`SELECT username FROM delivery_riders WHERE rider_id = $1`, int64(riderID),
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrRiderNotFound
	}
	return name, err
}

func (s *Store) Items(ctx context.Context, orderID types.ID) ([]Item, error) {
	rows, err := s.db.Query(ctx, `
		SELECT order_item_id, order_id, item_name, item_description, item_quantity,
		       unit_price, total_price, dosage, instructions
		FROM order_items
		WHERE order_id = $1
		ORDER BY order_item_id`, int64(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Name, &it.Description, &it.Quantity,
			&it.UnitPrice, &it.TotalPrice, &it.Dosage, &it.Instructions); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) History(ctx context.Context, orderID types.ID) ([]HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT history_id, order_id, old_status, new_status, changed_by_user_id, changed_by_user_type, notes, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY history_id`, int64(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var old *string
		var actorID *int64
		var role *string
		if err := rows.Scan(&e.ID, &e.OrderID, &old, &e.NewStatus, &actorID, &role, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		if old != nil {
			v := Status(*old)
			e.OldStatus = &v
		}
		if actorID != nil {
			e.ChangedByID = types.ID(*actorID)
		}
		if role != nil {
			e.ChangedByRole = auth.Role(*role)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) AssignmentLog(ctx context.Context, orderID types.ID) ([]AssignmentLogEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT log_id, order_id, assigned_rider_id, assignment_method, assigned_by_user_id, assigned_by_user_type, assignment_status, created_at
		FROM order_assignment_log
		WHERE order_id = $1
		ORDER BY log_id`, int64(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AssignmentLogEntry
	for rows.Next() {
		var e AssignmentLogEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.RiderID, &e.Method, &e.AssignedByID, &e.AssignedByRole, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Parties identifies the interested parties of an order for event fan-out.
type Parties struct {
	PatientID    types.ID
	PartnerOrgID types.ID
	RiderID      *types.ID
}

func (s *Store) Parties(ctx context.Context, orderID types.ID) (Parties, error) {
	var p Parties
	var rider *int64
	err := s.db.QueryRow(ctx, `
		SELECT patient_id, partner_org_id, delivery_rider_id FROM orders WHERE order_id = $1`,
		int64(orderID),
	).Scan(&p.PatientID, &p.PartnerOrgID, &rider)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if rider != nil {
		v := types.ID(*rider)
		p.RiderID = &v
	}
	return p, nil
}
