// README: Scoped order listings with the filters each actor's console uses.
package order

import (
	"context"
	"fmt"

	"medilink/internal/types"
)

// Summary is one row of an order listing, with the display names joined in
// and the line-item count precomputed.
type Summary struct {
	Order
	PatientName  string
	PartnerName  string
	RiderName    string
	RiderContact string
	ItemCount    int
}

// Filter narrows a listing. Zero values mean "no restriction"; dates are
// inclusive YYYY-MM-DD bounds on the creation day.
type Filter struct {
	Status    Status
	StartDate string
	EndDate   string
	Search    string
	PartnerID types.ID
	RiderID   types.ID
	Page      int
	Limit     int
}

func (f Filter) page() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

const summaryColumns = `
	SELECT o.order_id, o.order_number, o.patient_id, o.partner_org_id, o.delivery_rider_id,
	       o.order_status, o.delivery_address, o.patient_contact, o.cancelled_by, o.cancellation_reason,
	       o.created_at, o.assigned_at,
	       COALESCE(p.full_name, ''), COALESCE(po.facility_name, ''),
	       COALESCE(dr.username, ''), COALESCE(dr.phone_number, ''),
	       (SELECT COUNT(*) FROM order_items oi WHERE oi.order_id = o.order_id)
	FROM orders o
	LEFT JOIN patients p ON o.patient_id = p.patient_id
	LEFT JOIN partner_organizations po ON o.partner_org_id = po.partner_id
	LEFT JOIN delivery_riders dr ON o.delivery_rider_id = dr.rider_id`

// ListByPatient returns the patient's orders newest-first plus the total
// matching count for pagination.
func (s *Store) ListByPatient(ctx context.Context, patientID types.ID, f Filter) ([]Summary, int, error) {
	w := newWhere()
	w.add("o.patient_id = %s", int64(patientID))
	applyCommonFilters(&w, f)
	return s.list(ctx, w, f, true)
}

// ListByPartner returns the partner organization's orders; Search matches
// the order number or the patient's name.
func (s *Store) ListByPartner(ctx context.Context, partnerID types.ID, f Filter) ([]Summary, int, error) {
	w := newWhere()
	w.add("o.partner_org_id = %s", int64(partnerID))
	applyCommonFilters(&w, f)
	return s.list(ctx, w, f, true)
}

// ListByRider returns the rider's assigned orders newest-first. The listing
// is not paginated; a status filter is the only narrowing the rider app
// sends.
func (s *Store) ListByRider(ctx context.Context, riderID types.ID, f Filter) ([]Summary, error) {
	w := newWhere()
	w.add("o.delivery_rider_id = %s", int64(riderID))
	if f.Status != "" {
		w.add("o.order_status = %s", string(f.Status))
	}
	rows, err := s.db.Query(ctx, summaryColumns+w.clause()+" ORDER BY o.created_at DESC", w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// ListAll is the administrator listing across every order.
func (s *Store) ListAll(ctx context.Context, f Filter) ([]Summary, int, error) {
	w := newWhere()
	if f.PartnerID != 0 {
		w.add("o.partner_org_id = %s", int64(f.PartnerID))
	}
	if f.RiderID != 0 {
		w.add("o.delivery_rider_id = %s", int64(f.RiderID))
	}
	applyCommonFilters(&w, f)
	return s.list(ctx, w, f, true)
}

func applyCommonFilters(w *where, f Filter) {
	if f.Status != "" {
		w.add("o.order_status = %s", string(f.Status))
	}
	if f.StartDate != "" {
		w.add("o.created_at::date >= %s::date", f.StartDate)
	}
	if f.EndDate != "" {
		w.add("o.created_at::date <= %s::date", f.EndDate)
	}
	if f.Search != "" {
		term := "%" + f.Search + "%"
		w.addTwo("(o.order_number ILIKE %s OR p.full_name ILIKE %s)", term, term)
	}
}

func (s *Store) list(ctx context.Context, w where, f Filter, paged bool) ([]Summary, int, error) {
	countQ := `
	SELECT COUNT(*)
	FROM orders o
	LEFT JOIN patients p ON o.patient_id = p.patient_id` + w.clause()

	var total int
	if err := s.db.QueryRow(ctx, countQ, w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := summaryColumns + w.clause() + " ORDER BY o.created_at DESC"
	args := w.args
	if paged {
		limit, offset := f.page()
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

type summaryRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSummaries(rows summaryRows) ([]Summary, error) {
	var out []Summary
	for rows.Next() {
		var sm Summary
		var riderID *int64
		if err := rows.Scan(
			&sm.ID, &sm.OrderNumber, &sm.PatientID, &sm.PartnerOrgID, &riderID,
			&sm.Status, &sm.DeliveryAddress, &sm.PatientContact, &sm.CancelledBy, &sm.CancellationReason,
			&sm.CreatedAt, &sm.AssignedAt,
			&sm.PatientName, &sm.PartnerName, &sm.RiderName, &sm.RiderContact,
			&sm.ItemCount,
		); err != nil {
			return nil, err
		}
		if riderID != nil {
			v := types.ID(*riderID)
			sm.DeliveryRiderID = &v
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// where accumulates AND-joined conditions with positional placeholders.
type where struct {
	conds []string
	args  []any
}

func newWhere() where { return where{} }

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) addTwo(cond string, a, b any) {
	w.args = append(w.args, a, b)
	w.conds = append(w.conds, fmt.Sprintf(cond,
		fmt.Sprintf("$%d", len(w.args)-1), fmt.Sprintf("$%d", len(w.args))))
}

func (w where) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	out := " WHERE " + w.conds[0]
	for _, c := range w.conds[1:] {
		out += " AND " + c
	}
	return out
}
