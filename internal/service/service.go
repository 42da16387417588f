// Package service реализует бизнес-логику платформы пополнения алмазов.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/diamondshop-system/internal/model"
	"github.com/mmeshcher/diamondshop-system/internal/notifier"
	"github.com/mmeshcher/diamondshop-system/internal/period"
	"github.com/mmeshcher/diamondshop-system/internal/validation"
)

// ErrInvalidPackage возвращается для размера пакета вне фиксированного набора.
var (
	ErrInvalidPackage = errors.New("invalid diamond package")
	// ErrInvalidQuantity возвращается для количества вне допустимых границ.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidStatus возвращается для недопустимого целевого статуса заявки.
	ErrInvalidStatus = errors.New("invalid target status")
	// ErrInvalidAmount возвращается для неположительной суммы начисления.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.UserRole) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ApplyEntry(ctx context.Context, userID, amountCents int64, kind model.EntryKind, description string, actorID *int64) (int64, error)
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	RejectOrder(ctx context.Context, orderID int64, actorID int64) (*model.Order, error)
	CompleteOrder(ctx context.Context, orderID int64) (*model.Order, error)
	ReconcileReward(ctx context.Context, userID int64, weekStart, weekEnd time.Time) (*model.Reconciliation, error)
	GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
	GetWeeklySummary(ctx context.Context, weekStart, weekEnd time.Time) (*model.WeeklySummary, error)
}

// Dashboard содержит данные личного кабинета реселлера после сверки.
type Dashboard struct {
	BalanceCents   int64
	Period         model.RewardPeriod
	Reconciliation model.Reconciliation
}

// Service содержит бизнес-логику платформы пополнения алмазов.
type Service struct {
	repo     Repository
	notifier *notifier.Client
	logger   *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом уведомлений.
func NewService(repo Repository, n *notifier.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		notifier: n,
		logger:   logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового реселлера.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	return s.repo.CreateUser(ctx, login, hashed, model.RoleReseller)
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, errors.New("invalid credentials")
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// CreateOrder создаёт заявку на пополнение, списывая её стоимость с баланса.
// Размер пакета и количество перепроверяются независимо от внешней валидации.
func (s *Service) CreateOrder(ctx context.Context, userID, diamondAmount, quantity int64) (*model.Order, error) {
	if !validation.IsValidPackage(diamondAmount) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPackage, diamondAmount)
	}
	if !validation.IsValidQuantity(quantity) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	pointsUsed, ok := validation.PointsUsed(diamondAmount, quantity)
	if !ok {
		return nil, fmt.Errorf("%w: %d x %d exceeds limit", ErrInvalidQuantity, diamondAmount, quantity)
	}

	o := &model.Order{
		Number:        newOrderNumber(),
		UserID:        userID,
		DiamondAmount: diamondAmount,
		Quantity:      quantity,
		PointsUsed:    pointsUsed,
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	return o, nil
}

// newOrderNumber генерирует номер заявки: момент создания плюс случайный
// суффикс. Уникальность добивает ограничение в БД, глобальная
// упорядоченность номеров не требуется.
func newOrderNumber() string {
	suffix, err := rand.Int(rand.Reader, big.NewInt(1<<24))
	if err != nil {
		suffix = big.NewInt(time.Now().UnixNano() & (1<<24 - 1))
	}
	return fmt.Sprintf("DS-%s-%06X", time.Now().In(period.Location()).Format("20060102150405"), suffix.Int64())
}

// TransitionOrder переводит заявку из PENDING в указанный конечный статус.
// Для REJECTED списание возвращается в той же транзакции; для COMPLETED
// сверка вознаграждения и уведомление выполняются после фиксации перевода и
// не влияют на его результат.
func (s *Service) TransitionOrder(ctx context.Context, orderID int64, status model.OrderStatus, actorID int64) (*model.Order, error) {
	var (
		o   *model.Order
		err error
	)

	switch status {
	case model.OrderStatusRejected:
		o, err = s.repo.RejectOrder(ctx, orderID, actorID)
	case model.OrderStatusCompleted:
		o, err = s.repo.CompleteOrder(ctx, orderID)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	if err != nil {
		return nil, err
	}

	go s.afterTransition(o)

	return o, nil
}

// afterTransition выполняет побочные действия завершённого перевода: сверку
// вознаграждения владельца и уведомление. Ошибки здесь только логируются —
// сверка идемпотентна и будет повторена при следующем срабатывании.
func (s *Service) afterTransition(o *model.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if o.Status == model.OrderStatusCompleted {
		if _, err := s.ReconcileWeeklyReward(ctx, o.UserID); err != nil {
			s.logger.Warn("post-completion reward reconcile failed",
				zap.Error(err), zap.Int64("userID", o.UserID), zap.String("order", o.Number))
		}
	}

	err := s.notifier.NotifyOrderStatus(ctx, o.Number, string(o.Status), o.UserID)
	if err != nil && !errors.Is(err, notifier.ErrNotConfigured) {
		s.logger.Warn("order status notification failed",
			zap.Error(err), zap.String("order", o.Number))
	}
}

// ReconcileWeeklyReward сверяет вознаграждение пользователя за текущую
// отчётную неделю и доначисляет недостающую часть. Повторные вызовы без
// новых завершённых заявок ничего не меняют.
func (s *Service) ReconcileWeeklyReward(ctx context.Context, userID int64) (*model.Reconciliation, error) {
	weekStart, weekEnd := period.Current(time.Now())
	return s.repo.ReconcileReward(ctx, userID, weekStart, weekEnd)
}

// GetDashboard выполняет сверку вознаграждения и возвращает данные личного
// кабинета: так продажи, накопившиеся с прошлой сверки, попадают в баланс
// при первом же просмотре.
func (s *Service) GetDashboard(ctx context.Context, userID int64) (*Dashboard, error) {
	rec, err := s.ReconcileWeeklyReward(ctx, userID)
	if err != nil {
		return nil, err
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	weekStart, weekEnd := period.Current(time.Now())

	return &Dashboard{
		BalanceCents:   u.BalanceCents,
		Period:         model.RewardPeriod{WeekStart: weekStart, WeekEnd: weekEnd},
		Reconciliation: *rec,
	}, nil
}

// GrantPoints начисляет пользователю баллы от имени администратора.
func (s *Service) GrantPoints(ctx context.Context, userID int64, amount float64, description string, actorID int64) (float64, error) {
	amountCents := int64(math.Round(amount * 100))
	if amountCents <= 0 {
		return 0, ErrInvalidAmount
	}

	if description == "" {
		description = "points added by admin"
	}

	newBalance, err := s.repo.ApplyEntry(ctx, userID, amountCents, model.EntryAdded, description, &actorID)
	if err != nil {
		return 0, err
	}

	return float64(newBalance) / 100, nil
}

// GetOrdersByUser возвращает список заявок пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// GetOrdersByStatus возвращает заявки в указанном статусе.
func (s *Service) GetOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	return s.repo.GetOrdersByStatus(ctx, status)
}

// GetLedgerByUser возвращает историю операций пользователя.
func (s *Service) GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return s.repo.GetLedgerByUser(ctx, userID)
}

// CurrentPeriod возвращает границы текущей отчётной недели.
func (s *Service) CurrentPeriod() model.RewardPeriod {
	weekStart, weekEnd := period.Current(time.Now())
	return model.RewardPeriod{WeekStart: weekStart, WeekEnd: weekEnd}
}

// GetWeeklySummary возвращает сводку за отчётную неделю. Если явное начало
// не задано, берётся текущая неделя; иначе дата сдвигается вперёд к
// ближайшему началу недели.
func (s *Service) GetWeeklySummary(ctx context.Context, explicitStart *time.Time) (*model.WeeklySummary, error) {
	var weekStart, weekEnd time.Time
	if explicitStart == nil {
		weekStart, weekEnd = period.Current(time.Now())
	} else {
		weekStart = period.SnapForward(*explicitStart)
		weekEnd = weekStart.AddDate(0, 0, 7)
	}

	return s.repo.GetWeeklySummary(ctx, weekStart, weekEnd)
}
