// Package model содержит доменные сущности платформы пополнения алмазов.
package model

import "time"

// UserRole описывает роль пользователя в системе.
type UserRole string

const (
	RoleReseller UserRole = "reseller"
	RoleAdmin    UserRole = "admin"
)

// User представляет зарегистрированного реселлера или администратора.
// Поле BalanceCents изменяется только внутри транзакции вместе с записью
// в журнал операций.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         UserRole
	BalanceCents int64
	CreatedAt    time.Time
}

// OrderStatus описывает статус заявки на пополнение.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal сообщает, является ли статус конечным.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusRejected
}

// DiamondPackages — фиксированный набор допустимых размеров пакета алмазов.
var DiamondPackages = []int64{25, 50, 115, 240, 610, 1240, 2530}

// Ограничения заявки.
const (
	MinQuantity   = 1
	MaxQuantity   = 100
	MaxPointsUsed = 1_000_000
)

// Order описывает заявку реселлера на пополнение алмазов.
type Order struct {
	ID            int64
	Number        string
	UserID        int64
	DiamondAmount int64
	Quantity      int64
	PointsUsed    int64
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EntryKind описывает вид записи журнала операций с балансом.
type EntryKind string

const (
	EntryAdded    EntryKind = "ADDED"
	EntryDeducted EntryKind = "DEDUCTED"
	EntryRefunded EntryKind = "REFUNDED"
)

// Sign возвращает знак записи для вычисления баланса: списание отрицательно,
// начисление и возврат положительны.
func (k EntryKind) Sign() int64 {
	if k == EntryDeducted {
		return -1
	}
	return 1
}

// LedgerEntry — одна неизменяемая запись журнала операций. AmountCents
// всегда хранится положительным, знак определяется видом записи.
type LedgerEntry struct {
	ID          int64
	UserID      int64
	AmountCents int64
	Kind        EntryKind
	Description string
	ActorID     *int64
	CreatedAt   time.Time
}

// RewardPeriod — отчётная неделя продаж [WeekStart, WeekEnd).
// Не хранится отдельной сущностью, всегда вычисляется заново.
type RewardPeriod struct {
	WeekStart time.Time
	WeekEnd   time.Time
}

// Reconciliation — результат сверки еженедельного вознаграждения.
type Reconciliation struct {
	WeeklySales      int64
	RewardAdded      bool
	RewardCents      int64
	TotalRewardCents int64
}

// WeeklySummary — сводка по завершённым заявкам за одну отчётную неделю.
type WeeklySummary struct {
	Period           RewardPeriod
	TotalUsers       int64
	TotalOrders      int64
	TotalSales       int64
	TotalRewardCents int64
}
