// README: Order service tests (state machine + lifecycle flows + access scoping).
package order

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"medilink/internal/auth"
	"medilink/internal/types"
)

// TestCanTransition verifies the state machine transition table without a database.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// happy-path forward transitions
		{StatusPending, StatusAccepted, true},
		{StatusAccepted, StatusAssigned, true},
		{StatusAssigned, StatusPickedUp, true},
		{StatusPickedUp, StatusInTransit, true},
		{StatusInTransit, StatusDelivered, true},
		{StatusDelivered, StatusApproved, true},
		// cancellation is legal only before the run starts
		{StatusPending, StatusCancelled, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusAssigned, StatusCancelled, true},
		{StatusPickedUp, StatusCancelled, false},
		{StatusInTransit, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		// terminal states have no outgoing transitions
		{StatusApproved, StatusPending, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusAccepted, false},
		// invalid: skipping or reversing
		{StatusPending, StatusAssigned, false},
		{StatusPending, StatusDelivered, false},
		{StatusAccepted, StatusPickedUp, false},
		{StatusDelivered, StatusInTransit, false},
		{StatusAssigned, StatusAccepted, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRiderAdvance(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusAssigned, StatusPickedUp, true},
		{StatusPickedUp, StatusInTransit, true},
		{StatusInTransit, StatusDelivered, true},
		{StatusAssigned, StatusDelivered, true}, // forward jumps are legal
		// replays and backward moves are not
		{StatusPickedUp, StatusPickedUp, false},
		{StatusInTransit, StatusPickedUp, false},
		{StatusDelivered, StatusInTransit, false},
		// statuses outside the run admit no rider transition
		{StatusCancelled, StatusPickedUp, false},
		{StatusPending, StatusPickedUp, false},
		{StatusDelivered, StatusApproved, false},
	}
	for _, tc := range cases {
		got := CanRiderAdvance(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanRiderAdvance(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}

	for _, s := range []Status{StatusPickedUp, StatusInTransit, StatusDelivered} {
		if !ValidRiderStatus(s) {
			t.Errorf("ValidRiderStatus(%s) = false, want true", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusAccepted, StatusAssigned, StatusApproved, StatusCancelled} {
		if ValidRiderStatus(s) {
			t.Errorf("ValidRiderStatus(%s) = true, want false", s)
		}
	}
}

func TestPlaceOrder(t *testing.T) {
	store, _ := setupTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	o, items, err := svc.Place(ctx, patientActor(1), PlaceCommand{
		PartnerOrgID:    2,
		DeliveryAddress: "12 Riverside Close, Nakuru",
		PatientContact:  "+254700000001",
		Items: []ItemInput{
			{Name: "Amoxicillin 500mg", Quantity: 2, UnitPrice: 3.50, Dosage: "500mg", Instructions: "After meals"},
			{Name: "Paracetamol", Quantity: 1, UnitPrice: 1.25},
		},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	wantNumber := fmt.Sprintf("ORD-%d-00001", time.Now().Year())
	if o.OrderNumber != wantNumber {
		t.Errorf("order number = %s, want %s", o.OrderNumber, wantNumber)
	}
	if o.Status != StatusPending {
		t.Errorf("status = %s, want %s", o.Status, StatusPending)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID == 0 || items[1].ID == 0 {
		t.Error("expected item ids to be assigned")
	}
	if items[0].TotalPrice != 7.00 {
		t.Errorf("total price = %v, want 7.00", items[0].TotalPrice)
	}

	history, err := svc.History(ctx, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 seed history row, got %d", len(history))
	}
	if history[0].OldStatus != nil {
		t.Errorf("seed row old status = %v, want nil", *history[0].OldStatus)
	}
	if history[0].NewStatus != StatusPending {
		t.Errorf("seed row new status = %s, want %s", history[0].NewStatus, StatusPending)
	}

	// The second order of the year gets the next suffix.
	o2, _, err := svc.Place(ctx, patientActor(1), PlaceCommand{PartnerOrgID: 2})
	if err != nil {
		t.Fatalf("place second: %v", err)
	}
	if want := fmt.Sprintf("ORD-%d-00002", time.Now().Year()); o2.OrderNumber != want {
		t.Errorf("second order number = %s, want %s", o2.OrderNumber, want)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	store, _ := setupTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	if _, _, err := svc.Place(ctx, patientActor(1), PlaceCommand{}); err != ErrBadRequest {
		t.Errorf("missing partner: expected ErrBadRequest, got %v", err)
	}
	if _, _, err := svc.Place(ctx, patientActor(1), PlaceCommand{
		PartnerOrgID: 2,
		Items:        []ItemInput{{Name: "Ibuprofen", Quantity: 0, UnitPrice: 1}},
	}); err != ErrBadRequest {
		t.Errorf("zero quantity: expected ErrBadRequest, got %v", err)
	}
	if _, _, err := svc.Place(ctx, patientActor(1), PlaceCommand{
		PartnerOrgID: 2,
		Items:        []ItemInput{{Quantity: 1, UnitPrice: 1}},
	}); err != ErrBadRequest {
		t.Errorf("unnamed item: expected ErrBadRequest, got %v", err)
	}
}

func TestOrderFlowHappyPath(t *testing.T) {
	store, db := setupTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	riderID := seedRider(t, db, "rider_happy")
	orderID := mustPlace(t, svc, 1, 2)
	assertStatus(t, svc, orderID, StatusPending)

	if _, err := svc.Accept(ctx, partnerActor(2), orderID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	assertStatus(t, svc, orderID, StatusAccepted)

	o, err := svc.Assign(ctx, partnerActor(2), orderID, AssignCommand{RiderID: riderID})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if o.DeliveryRiderID == nil || *o.DeliveryRiderID != riderID {
		t.Fatalf("expected rider %d bound to order, got %v", riderID, o.DeliveryRiderID)
	}
	if o.AssignedAt == nil {
		t.Fatal("expected assigned_at to be set")
	}

	log, err := svc.AssignmentLog(ctx, orderID)
	if err != nil {
		t.Fatalf("assignment log: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("expected 1 assignment log row, got %d", len(log))
	}
	if log[0].Method != "manual" {
		t.Errorf("assignment method = %s, want manual", log[0].Method)
	}

	for _, status := range []Status{StatusPickedUp, StatusInTransit, StatusDelivered} {
		if _, err := svc.UpdateRiderStatus(ctx, riderActor(riderID), orderID, status); err != nil {
			t.Fatalf("rider update to %s: %v", status, err)
		}
		assertStatus(t, svc, orderID, status)
	}

	if _, err := svc.Approve(ctx, patientActor(1), orderID, true, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	assertStatus(t, svc, orderID, StatusApproved)

	history, err := svc.History(ctx, orderID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	// seed + accept + assign + 3 rider updates + approval
	if len(history) != 7 {
		t.Fatalf("expected 7 history rows, got %d", len(history))
	}
}

func TestRiderStatusGuards(t *testing.T) {
	store, db := setupTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	riderID := seedRider(t, db, "rider_guard")
	orderID := mustPlace(t, svc, 1, 2)
	mustAccept(t, svc, 2, orderID)
	mustAssign(t, svc, 2, orderID, riderID)

	if _, err := svc.UpdateRiderStatus(ctx, riderActor(riderID), orderID, StatusAccepted); err != ErrInvalidStatus {
		t.Fatalf("accepted is not a rider status: expected ErrInvalidStatus, got %v", err)
	}
	if _, err := svc.UpdateRiderStatus(ctx, riderActor(riderID+999), orderID, StatusPickedUp); err != ErrNotFound {
		t.Fatalf("foreign rider: expected ErrNotFound, got %v", err)
	}

	if _, err := svc.UpdateRiderStatus(ctx, riderActor(riderID), orderID, StatusPickedUp); err != nil {
		t.Fatalf("picked_up: %v", err)
	}
	if _, err := svc.UpdateRiderStatus(ctx, riderActor(riderID), orderID, StatusPickedUp); err != ErrInvalidState {
		t.Fatalf("replayed picked_up: expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.UpdateRiderStatus(ctx, riderActor(riderID), orderID, StatusInTransit); err != nil {
		t.Fatalf("in_transit: %v", err)
	}
	if _, err := svc.UpdateRiderStatus(ctx, riderActor(riderID), orderID, StatusPickedUp); err != ErrInvalidState {
		t.Fatalf("backward move: expected ErrInvalidState, got %v", err)
	}
}

func TestCancelRules(t *testing.T) {
	store, db := setupTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	// Patient cancels a pending order.
	orderID := mustPlace(t, svc, 1, 2)
	o, err := svc.Cancel(ctx, patientActor(1), orderID, "changed my mind")
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if o.Status != StatusCancelled {
		t.Fatalf("status = %s, want %s", o.Status, StatusCancelled)
	}
	if o.CancelledBy == nil || *o.CancelledBy != string(auth.RolePatient) {
		t.Errorf("cancelled_by = %v, want %s", o.CancelledBy, auth.RolePatient)
	}
	if o.CancellationReason == nil || *o.CancellationReason != "changed my mind" {
		t.Errorf("cancellation_reason = %v, want the given reason", o.CancellationReason)
	}

	// Once the rider has the package, nobody can cancel.
	riderID := seedRider(t, db, "rider_cancel")
	orderID = mustPlace(t, svc, 1, 2)
	mustAccept(t, svc, 2, orderID)
	mustAssign(t, svc, 2, orderID, riderID)
	if _, err := svc.UpdateRiderStatus(ctx, riderActor(riderID), orderID, StatusPickedUp); err != nil {
		t.Fatalf("picked_up: %v", err)
	}
	if _, err := svc.Cancel(ctx, patientActor(1), orderID, "too late"); err != ErrInvalidState {
		t.Fatalf("cancel after pickup: expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.Cancel(ctx, partnerActor(2), orderID, "too late"); err != ErrInvalidState {
		t.Fatalf("partner cancel after pickup: expected ErrInvalidState, got %v", err)
	}
}

func TestApprovalFlow(t *testing.T) {
	store, db := setupTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	riderID := seedRider(t, db, "rider_approve")
	orderID := mustPlace(t, svc, 1, 2)

	if _, err := svc.Approve(ctx, patientActor(1), orderID, true, ""); err != ErrInvalidState {
		t.Fatalf("approve before delivery: expected ErrInvalidState, got %v", err)
	}

	mustAccept(t, svc, 2, orderID)
	mustAssign(t, svc, 2, orderID, riderID)
	if _, err := svc.UpdateRiderStatus(ctx, riderActor(riderID), orderID, StatusDelivered); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	// Rejection records feedback and leaves the order delivered, repeatably.
	before := len(mustHistory(t, svc, orderID))
	for i := 0; i < 2; i++ {
		o, err := svc.Approve(ctx, patientActor(1), orderID, false, "seal was broken")
		if err != nil {
			t.Fatalf("reject delivery: %v", err)
		}
		if o.Status != StatusDelivered {
			t.Fatalf("status after rejection = %s, want %s", o.Status, StatusDelivered)
		}
	}
	history := mustHistory(t, svc, orderID)
	if len(history) != before+2 {
		t.Fatalf("expected %d history rows after two rejections, got %d", before+2, len(history))
	}
	last := history[len(history)-1]
	if last.OldStatus == nil || *last.OldStatus != StatusDelivered || last.NewStatus != StatusDelivered {
		t.Errorf("feedback row should be delivered → delivered, got %v → %s", last.OldStatus, last.NewStatus)
	}
	if !strings.Contains(last.Notes, "seal was broken") {
		t.Errorf("feedback row notes = %q, want the feedback text", last.Notes)
	}

	if _, err := svc.Approve(ctx, patientActor(1), orderID, true, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	assertStatus(t, svc, orderID, StatusApproved)
	if _, err := svc.Approve(ctx, patientActor(1), orderID, true, ""); err != ErrInvalidState {
		t.Fatalf("double approve: expected ErrInvalidState, got %v", err)
	}
}

func TestAccessScoping(t *testing.T) {
	store, _ := setupTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	orderID := mustPlace(t, svc, 1, 2)

	// Owners and admins see the order; everyone else sees "not found".
	if _, err := svc.Get(ctx, patientActor(1), orderID); err != nil {
		t.Fatalf("owning patient: %v", err)
	}
	if _, err := svc.Get(ctx, partnerActor(2), orderID); err != nil {
		t.Fatalf("fulfilling partner: %v", err)
	}
	if _, err := svc.Get(ctx, adminActor(99), orderID); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if _, err := svc.Get(ctx, patientActor(7), orderID); err != ErrNotFound {
		t.Fatalf("foreign patient: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(ctx, partnerActor(8), orderID); err != ErrNotFound {
		t.Fatalf("foreign partner: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(ctx, riderActor(3), orderID); err != ErrNotFound {
		t.Fatalf("unassigned rider: expected ErrNotFound, got %v", err)
	}

	if _, err := svc.Accept(ctx, partnerActor(8), orderID); err != ErrNotFound {
		t.Fatalf("foreign partner accept: expected ErrNotFound, got %v", err)
	}
}

func TestAssignUnknownRider(t *testing.T) {
	store, _ := setupTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	orderID := mustPlace(t, svc, 1, 2)
	mustAccept(t, svc, 2, orderID)
	if _, err := svc.Assign(ctx, partnerActor(2), orderID, AssignCommand{RiderID: 424242}); err != ErrRiderNotFound {
		t.Fatalf("expected ErrRiderNotFound, got %v", err)
	}
}

func patientActor(id types.ID) auth.Principal {
	return auth.Principal{UserID: id, Role: auth.RolePatient}
}

func partnerActor(id types.ID) auth.Principal {
	return auth.Principal{UserID: id, Role: auth.RolePartner}
}

func riderActor(id types.ID) auth.Principal {
	return auth.Principal{UserID: id, Role: auth.RoleRider}
}

func adminActor(id types.ID) auth.Principal {
	return auth.Principal{UserID: id, Role: auth.RoleAdmin}
}

func mustPlace(t *testing.T, svc *Service, patientID, partnerID types.ID) types.ID {
	t.Helper()
	o, _, err := svc.Place(context.Background(), patientActor(patientID), PlaceCommand{
		PartnerOrgID:    partnerID,
		DeliveryAddress: "7 Acacia Avenue",
		Items:           []ItemInput{{Name: "Metformin 850mg", Quantity: 1, UnitPrice: 2.00}},
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return o.ID
}

func mustAccept(t *testing.T, svc *Service, partnerID, orderID types.ID) {
	t.Helper()
	if _, err := svc.Accept(context.Background(), partnerActor(partnerID), orderID); err != nil {
		t.Fatalf("accept order: %v", err)
	}
}

func mustAssign(t *testing.T, svc *Service, partnerID, orderID, riderID types.ID) {
	t.Helper()
	if _, err := svc.Assign(context.Background(), partnerActor(partnerID), orderID, AssignCommand{RiderID: riderID}); err != nil {
		t.Fatalf("assign order: %v", err)
	}
}

func mustHistory(t *testing.T, svc *Service, orderID types.ID) []HistoryEntry {
	t.Helper()
	history, err := svc.History(context.Background(), orderID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return history
}

func assertStatus(t *testing.T, svc *Service, orderID types.ID, want Status) {
	t.Helper()
	o, err := svc.Get(context.Background(), adminActor(1), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != want {
		t.Fatalf("expected status %s, got %s", want, o.Status)
	}
}

func seedRider(t *testing.T, db *pgxpool.Pool, name string) types.ID {
	t.Helper()
	var id int64
	err := db.QueryRow(context.Background(),
		`INSERT INTO delivery_riders (username, phone_number) VALUES ($1, $2) RETURNING rider_id`,
		name, "+254711111111",
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed rider: %v", err)
	}
	return types.ID(id)
}

func setupTestStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("MEDILINK_TEST_DSN")
	if dsn == "" {
		t.Skip("MEDILINK_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	if _, err := db.Exec(ctx, `TRUNCATE TABLE order_location_updates, order_assignment_log,
		order_status_history, order_items, orders, delivery_riders, partner_organizations, patients`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return NewStore(db), db
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	cleaned := stripSQLComments(string(content))
	for _, stmt := range splitSQL(cleaned) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
