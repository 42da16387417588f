package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/diamondshop-system/internal/model"
	"github.com/mmeshcher/diamondshop-system/internal/period"
	"github.com/mmeshcher/diamondshop-system/internal/repository"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

type stubRepo struct {
	createUserID  int64
	createUserErr error

	getUser    *model.User
	getUserErr error

	applyBalance int64
	applyErr     error
	applyKind    model.EntryKind
	applyAmount  int64

	createdOrder   *model.Order
	createOrderErr error

	rejectOrder *model.Order
	rejectErr   error

	completeOrder *model.Order
	completeErr   error

	reconcileRes   *model.Reconciliation
	reconcileErr   error
	reconcileStart time.Time
	reconcileEnd   time.Time
	reconcileDone  chan struct{}
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.UserRole) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) ApplyEntry(ctx context.Context, userID, amountCents int64, kind model.EntryKind, description string, actorID *int64) (int64, error) {
	s.applyKind = kind
	s.applyAmount = amountCents
	return s.applyBalance, s.applyErr
}

func (s *stubRepo) CreateOrder(ctx context.Context, o *model.Order) error {
	if s.createOrderErr != nil {
		return s.createOrderErr
	}
	o.ID = 1
	o.Status = model.OrderStatusPending
	s.createdOrder = o
	return nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	return nil, repository.ErrOrderNotFound
}

func (s *stubRepo) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return nil, nil
}

func (s *stubRepo) GetOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	return nil, nil
}

func (s *stubRepo) RejectOrder(ctx context.Context, orderID int64, actorID int64) (*model.Order, error) {
	return s.rejectOrder, s.rejectErr
}

func (s *stubRepo) CompleteOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	return s.completeOrder, s.completeErr
}

func (s *stubRepo) ReconcileReward(ctx context.Context, userID int64, weekStart, weekEnd time.Time) (*model.Reconciliation, error) {
	s.reconcileStart = weekStart
	s.reconcileEnd = weekEnd
	if s.reconcileDone != nil {
		defer close(s.reconcileDone)
	}
	return s.reconcileRes, s.reconcileErr
}

func (s *stubRepo) GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return nil, nil
}

func (s *stubRepo) GetWeeklySummary(ctx context.Context, weekStart, weekEnd time.Time) (*model.WeeklySummary, error) {
	return &model.WeeklySummary{
		Period: model.RewardPeriod{WeekStart: weekStart, WeekEnd: weekEnd},
	}, nil
}

func TestCreateOrder_Validation(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil)

	tests := []struct {
		name     string
		amount   int64
		quantity int64
		wantErr  error
	}{
		{name: "package not in enumeration", amount: 111, quantity: 1, wantErr: ErrInvalidPackage},
		{name: "zero quantity", amount: 25, quantity: 0, wantErr: ErrInvalidQuantity},
		{name: "quantity above limit", amount: 25, quantity: 101, wantErr: ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateOrder(context.Background(), 1, tt.amount, tt.quantity)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateOrder error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateOrder_ComputesPointsUsed(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil)

	o, err := svc.CreateOrder(context.Background(), 7, 610, 3)
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	if o.PointsUsed != 1830 {
		t.Fatalf("PointsUsed = %d, want 1830", o.PointsUsed)
	}
	if o.Number == "" {
		t.Fatalf("order number must be generated")
	}
	if o.Status != model.OrderStatusPending {
		t.Fatalf("status = %s, want PENDING", o.Status)
	}
	if repo.createdOrder == nil || repo.createdOrder.UserID != 7 {
		t.Fatalf("order was not passed to the repository: %+v", repo.createdOrder)
	}
}

func TestCreateOrder_InsufficientBalance(t *testing.T) {
	repo := &stubRepo{createOrderErr: repository.ErrInsufficientBalance}
	svc := NewService(repo, nil, nil)

	_, err := svc.CreateOrder(context.Background(), 1, 25, 1)
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestOrderNumbersDiffer(t *testing.T) {
	a := newOrderNumber()
	b := newOrderNumber()
	if a == b {
		t.Fatalf("consecutive order numbers must differ, got %s twice", a)
	}
}

func TestTransitionOrder_InvalidStatus(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), 1, model.OrderStatusPending, 2)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestTransitionOrder_RejectPropagatesConflict(t *testing.T) {
	repo := &stubRepo{rejectErr: repository.ErrOrderNotPending}
	svc := NewService(repo, nil, nil)

	_, err := svc.TransitionOrder(context.Background(), 1, model.OrderStatusRejected, 2)
	if !errors.Is(err, repository.ErrOrderNotPending) {
		t.Fatalf("expected ErrOrderNotPending, got %v", err)
	}
}

func TestTransitionOrder_CompleteTriggersReconcile(t *testing.T) {
	done := make(chan struct{})
	repo := &stubRepo{
		completeOrder: &model.Order{
			ID:     1,
			Number: "DS-1",
			UserID: 7,
			Status: model.OrderStatusCompleted,
		},
		reconcileRes:  &model.Reconciliation{},
		reconcileDone: done,
	}
	svc := NewService(repo, nil, nil)

	o, err := svc.TransitionOrder(context.Background(), 1, model.OrderStatusCompleted, 2)
	if err != nil {
		t.Fatalf("TransitionOrder error: %v", err)
	}
	if o.Status != model.OrderStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", o.Status)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("completion did not trigger reward reconcile")
	}
}

func TestTransitionOrder_ReconcileFailureDoesNotFailCompletion(t *testing.T) {
	done := make(chan struct{})
	repo := &stubRepo{
		completeOrder: &model.Order{
			ID:     1,
			Number: "DS-1",
			UserID: 7,
			Status: model.OrderStatusCompleted,
		},
		reconcileErr:  errors.New("database is down"),
		reconcileDone: done,
	}
	svc := NewService(repo, nil, nil)

	o, err := svc.TransitionOrder(context.Background(), 1, model.OrderStatusCompleted, 2)
	if err != nil {
		t.Fatalf("completion must not fail on reconcile error, got %v", err)
	}
	if o == nil || o.Status != model.OrderStatusCompleted {
		t.Fatalf("unexpected order: %+v", o)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reconcile was not attempted")
	}
}

func TestReconcileWeeklyReward_PassesCurrentPeriod(t *testing.T) {
	repo := &stubRepo{reconcileRes: &model.Reconciliation{WeeklySales: 100}}
	svc := NewService(repo, nil, nil)

	if _, err := svc.ReconcileWeeklyReward(context.Background(), 7); err != nil {
		t.Fatalf("ReconcileWeeklyReward error: %v", err)
	}

	if !repo.reconcileEnd.Equal(repo.reconcileStart.AddDate(0, 0, 7)) {
		t.Fatalf("period must be exactly 7 days: %v .. %v", repo.reconcileStart, repo.reconcileEnd)
	}

	local := repo.reconcileStart.In(period.Location())
	if local.Weekday() != time.Thursday || local.Hour() != 21 || local.Minute() != 30 {
		t.Fatalf("week start must be thursday 21:30, got %v", local)
	}
}

func TestGetDashboard(t *testing.T) {
	repo := &stubRepo{
		getUser:      &model.User{ID: 7, BalanceCents: 12345},
		reconcileRes: &model.Reconciliation{WeeklySales: 5000, RewardAdded: true, RewardCents: 500, TotalRewardCents: 500},
	}
	svc := NewService(repo, nil, nil)

	d, err := svc.GetDashboard(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetDashboard error: %v", err)
	}
	if d.BalanceCents != 12345 {
		t.Fatalf("BalanceCents = %d, want 12345", d.BalanceCents)
	}
	if !d.Reconciliation.RewardAdded || d.Reconciliation.RewardCents != 500 {
		t.Fatalf("unexpected reconciliation: %+v", d.Reconciliation)
	}
}

func TestGetDashboard_ReconcileErrorPropagates(t *testing.T) {
	repo := &stubRepo{reconcileErr: errors.New("lock timeout")}
	svc := NewService(repo, nil, nil)

	if _, err := svc.GetDashboard(context.Background(), 7); err == nil {
		t.Fatalf("dashboard must propagate reconcile errors")
	}
}

func TestGrantPoints(t *testing.T) {
	repo := &stubRepo{applyBalance: 20000}
	svc := NewService(repo, nil, nil)

	balance, err := svc.GrantPoints(context.Background(), 7, 150.5, "bonus", 1)
	if err != nil {
		t.Fatalf("GrantPoints error: %v", err)
	}
	if balance != 200 {
		t.Fatalf("balance = %v, want 200", balance)
	}
	if repo.applyKind != model.EntryAdded || repo.applyAmount != 15050 {
		t.Fatalf("unexpected entry: kind=%s amount=%d", repo.applyKind, repo.applyAmount)
	}
}

func TestGrantPoints_RoundsToCents(t *testing.T) {
	repo := &stubRepo{applyBalance: 1055}
	svc := NewService(repo, nil, nil)

	// 10.55 в float64 хранится как 10.549999..., усечение дало бы 1054.
	if _, err := svc.GrantPoints(context.Background(), 7, 10.55, "bonus", 1); err != nil {
		t.Fatalf("GrantPoints error: %v", err)
	}
	if repo.applyAmount != 1055 {
		t.Fatalf("amount = %d cents, want 1055", repo.applyAmount)
	}
}

func TestGrantPoints_RejectsNonPositive(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil)

	if _, err := svc.GrantPoints(context.Background(), 7, 0, "", 1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.GrantPoints(context.Background(), 7, -5, "", 1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestGetWeeklySummary_SnapsExplicitStart(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil)

	// Понедельник 2 марта 2026 — не якорь, сдвигается к четвергу 5 марта 21:30.
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, period.Location())
	s, err := svc.GetWeeklySummary(context.Background(), &monday)
	if err != nil {
		t.Fatalf("GetWeeklySummary error: %v", err)
	}

	want := time.Date(2026, 3, 5, 21, 30, 0, 0, period.Location())
	if !s.Period.WeekStart.Equal(want) {
		t.Fatalf("week start = %v, want %v", s.Period.WeekStart, want)
	}
	if !s.Period.WeekEnd.Equal(want.AddDate(0, 0, 7)) {
		t.Fatalf("week end = %v, want %v", s.Period.WeekEnd, want.AddDate(0, 0, 7))
	}
}
