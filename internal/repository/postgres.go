// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/diamondshop-system/internal/model"
	"github.com/mmeshcher/diamondshop-system/internal/reward"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заявка не найдена.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotPending возвращается при попытке перевести заявку из конечного статуса.
	ErrOrderNotPending = errors.New("order is not pending")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при временных ошибках БД: сбоях сериализации,
// дедлоках и обрывах соединения. Откат транзакции делает повтор безопасным.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с нулевым балансом.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.UserRole) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, points_balance, created_at FROM users WHERE login = $1`,
		login,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, points_balance, created_at FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.BalanceCents, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.UserRole(role)
	return &u, nil
}

// applyEntryTx атомарно изменяет баланс пользователя и добавляет запись в
// журнал операций. Строка пользователя должна быть заблокирована вызывающей
// стороной (FOR UPDATE) до чтения баланса.
func applyEntryTx(ctx context.Context, tx pgx.Tx, userID, amountCents int64, kind model.EntryKind, description string, actorID *int64) (int64, error) {
	delta := amountCents * kind.Sign()

	var newBalance int64
	err := tx.QueryRow(ctx,
		`UPDATE users SET points_balance = points_balance + $2 WHERE id = $1 RETURNING points_balance`,
		userID, delta,
	).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("update balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (user_id, amount, kind, description, actor_id) VALUES ($1, $2, $3, $4, $5)`,
		userID, amountCents, string(kind), description, actorID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}

	return newBalance, nil
}

func lockUser(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT points_balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("lock user for update: %w", err)
	}
	return balance, nil
}

// ApplyEntry атомарно применяет одну запись журнала к балансу пользователя.
// Используется для административных начислений; достаточность баланса для
// списаний проверяют вызывающие операции.
func (r *PostgresRepository) ApplyEntry(ctx context.Context, userID, amountCents int64, kind model.EntryKind, description string, actorID *int64) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := lockUser(ctx, tx, userID); err != nil {
			return err
		}

		newBalance, err = applyEntryTx(ctx, tx, userID, amountCents, kind, description, actorID)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// CreateOrder создаёт заявку в статусе PENDING, списывая её стоимость с
// баланса владельца в той же транзакции. Блокировка строки пользователя
// сериализует конкурирующие списания, превышающие баланс.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	deduction := o.PointsUsed * 100

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		balance, err := lockUser(ctx, tx, o.UserID)
		if err != nil {
			return err
		}

		if balance < deduction {
			return ErrInsufficientBalance
		}

		desc := fmt.Sprintf("diamond top-up order %s: %d x %d", o.Number, o.DiamondAmount, o.Quantity)
		if _, err := applyEntryTx(ctx, tx, o.UserID, deduction, model.EntryDeducted, desc, nil); err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO orders (number, user_id, diamond_amount, quantity, points_used, status)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at, updated_at`,
			o.Number, o.UserID, o.DiamondAmount, o.Quantity, o.PointsUsed, string(model.OrderStatusPending),
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		o.Status = model.OrderStatusPending

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// GetOrderByID возвращает заявку по идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, number, user_id, diamond_amount, quantity, points_used, status, created_at, updated_at
		 FROM orders WHERE id = $1`,
		id,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
	)
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.DiamondAmount, &o.Quantity, &o.PointsUsed, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// GetOrdersByUser возвращает список заявок пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, number, user_id, diamond_amount, quantity, points_used, status, created_at, updated_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// GetOrdersByStatus возвращает заявки в указанном статусе, старые первыми.
func (r *PostgresRepository) GetOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, number, user_id, diamond_amount, quantity, points_used, status, created_at, updated_at
		 FROM orders
		 WHERE status = $1
		 ORDER BY created_at`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select orders by status: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// RejectOrder переводит заявку из PENDING в REJECTED и возвращает владельцу
// ровно исходное списание. Из конечного статуса перевод невозможен.
func (r *PostgresRepository) RejectOrder(ctx context.Context, orderID int64, actorID int64) (*model.Order, error) {
	var result *model.Order

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if o.Status != model.OrderStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrOrderNotPending, o.Number, o.Status)
		}

		if err := setOrderStatus(ctx, tx, o, model.OrderStatusRejected); err != nil {
			return err
		}

		if _, err := lockUser(ctx, tx, o.UserID); err != nil {
			return err
		}

		desc := fmt.Sprintf("refund for rejected order %s", o.Number)
		if _, err := applyEntryTx(ctx, tx, o.UserID, o.PointsUsed*100, model.EntryRefunded, desc, &actorID); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CompleteOrder переводит заявку из PENDING в COMPLETED. Сверка
// еженедельного вознаграждения выполняется отдельно от этой транзакции.
func (r *PostgresRepository) CompleteOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	var result *model.Order

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if o.Status != model.OrderStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrOrderNotPending, o.Number, o.Status)
		}

		if err := setOrderStatus(ctx, tx, o, model.OrderStatusCompleted); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func lockOrder(ctx context.Context, tx pgx.Tx, orderID int64) (*model.Order, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, number, user_id, diamond_amount, quantity, points_used, status, created_at, updated_at
		 FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return o, nil
}

func setOrderStatus(ctx context.Context, tx pgx.Tx, o *model.Order, status model.OrderStatus) error {
	err := tx.QueryRow(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING updated_at`,
		o.ID, string(status),
	).Scan(&o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	o.Status = status
	return nil
}

// ReconcileReward сверяет вознаграждение пользователя за отчётную неделю и
// доначисляет недостающую часть. Блокировка строки пользователя сериализует
// чтение базовой суммы и запись дельты: одновременные вызовы (просмотр
// кабинета и завершение заявки) не могут начислить одну дельту дважды.
func (r *PostgresRepository) ReconcileReward(ctx context.Context, userID int64, weekStart, weekEnd time.Time) (*model.Reconciliation, error) {
	var result *model.Reconciliation

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := lockUser(ctx, tx, userID); err != nil {
			return err
		}

		var weeklySales int64
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(diamond_amount * quantity), 0)
			 FROM orders
			 WHERE user_id = $1 AND status = $2 AND created_at >= $3 AND created_at < $4`,
			userID, string(model.OrderStatusCompleted), weekStart, weekEnd,
		).Scan(&weeklySales)
		if err != nil {
			return fmt.Errorf("sum completed sales: %w", err)
		}

		res := &model.Reconciliation{WeeklySales: weeklySales}

		if weeklySales < reward.Threshold {
			result = res
			return tx.Commit(ctx)
		}

		var granted int64
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(total_reward), 0)
			 FROM weekly_rewards
			 WHERE user_id = $1 AND week_start = $2`,
			userID, weekStart,
		).Scan(&granted)
		if err != nil {
			return fmt.Errorf("select granted reward: %w", err)
		}

		total, delta := reward.Delta(weeklySales, granted)
		res.TotalRewardCents = total

		if delta == 0 {
			result = res
			return tx.Commit(ctx)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO weekly_rewards (user_id, week_start, total_reward, weekly_sales)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, week_start)
			 DO UPDATE SET total_reward = EXCLUDED.total_reward, weekly_sales = EXCLUDED.weekly_sales, updated_at = now()`,
			userID, weekStart, total, weeklySales,
		)
		if err != nil {
			return fmt.Errorf("upsert weekly reward: %w", err)
		}

		desc := fmt.Sprintf("weekly reward: total %d.%02d for sales %d", total/100, total%100, weeklySales)
		if _, err := applyEntryTx(ctx, tx, userID, delta, model.EntryAdded, desc, nil); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		res.RewardAdded = true
		res.RewardCents = delta
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetLedgerByUser возвращает историю операций пользователя, новые первыми.
func (r *PostgresRepository) GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, kind, description, actor_id, created_at
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var (
			e    model.LedgerEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.AmountCents, &kind, &e.Description, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		e.Kind = model.EntryKind(kind)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return entries, nil
}

// GetWeeklySummary возвращает сводку по завершённым заявкам за одну неделю.
func (r *PostgresRepository) GetWeeklySummary(ctx context.Context, weekStart, weekEnd time.Time) (*model.WeeklySummary, error) {
	s := &model.WeeklySummary{
		Period: model.RewardPeriod{WeekStart: weekStart, WeekEnd: weekEnd},
	}

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT user_id), COUNT(*), COALESCE(SUM(diamond_amount * quantity), 0)
		 FROM orders
		 WHERE status = $1 AND created_at >= $2 AND created_at < $3`,
		string(model.OrderStatusCompleted), weekStart, weekEnd,
	).Scan(&s.TotalUsers, &s.TotalOrders, &s.TotalSales)
	if err != nil {
		return nil, fmt.Errorf("sum completed orders: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_reward), 0) FROM weekly_rewards WHERE week_start = $1`,
		weekStart,
	).Scan(&s.TotalRewardCents)
	if err != nil {
		return nil, fmt.Errorf("sum weekly rewards: %w", err)
	}

	return s, nil
}
