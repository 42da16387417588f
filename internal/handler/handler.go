// Package handler содержит HTTP-обработчики API платформы пополнения алмазов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/diamondshop-system/internal/middleware"
	"github.com/mmeshcher/diamondshop-system/internal/model"
	"github.com/mmeshcher/diamondshop-system/internal/period"
	"github.com/mmeshcher/diamondshop-system/internal/repository"
	"github.com/mmeshcher/diamondshop-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	CreateOrder(ctx context.Context, userID, diamondAmount, quantity int64) (*model.Order, error)
	TransitionOrder(ctx context.Context, orderID int64, status model.OrderStatus, actorID int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetOrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	GetDashboard(ctx context.Context, userID int64) (*service.Dashboard, error)
	GrantPoints(ctx context.Context, userID int64, amount float64, description string, actorID int64) (float64, error)
	GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
	CurrentPeriod() model.RewardPeriod
	GetWeeklySummary(ctx context.Context, explicitStart *time.Time) (*model.WeeklySummary, error)
}

// Handler реализует HTTP-обработчики API платформы пополнения алмазов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового реселлера.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || err.Error() == "invalid credentials" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type createOrderRequest struct {
	DiamondAmount int64 `json:"diamond_amount"`
	Quantity      int64 `json:"quantity"`
}

type orderResponse struct {
	ID            int64  `json:"id"`
	Number        string `json:"number"`
	UserID        int64  `json:"user_id"`
	DiamondAmount int64  `json:"diamond_amount"`
	Quantity      int64  `json:"quantity"`
	PointsUsed    int64  `json:"points_used"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		Number:        o.Number,
		UserID:        o.UserID,
		DiamondAmount: o.DiamondAmount,
		Quantity:      o.Quantity,
		PointsUsed:    o.PointsUsed,
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     o.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateOrder принимает заявку на пополнение от текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), userID, req.DiamondAmount, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPackage), errors.Is(err, service.ErrInvalidQuantity):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrInsufficientBalance):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("create order error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toOrderResponse(order)); err != nil {
		h.logger.Error("encode order error", zap.Error(err))
	}
}

// GetOrders возвращает список заявок текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeOrders(w, orders)
}

func writeOrders(w http.ResponseWriter, orders []model.Order) {
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type dashboardResponse struct {
	Balance      float64 `json:"balance"`
	WeekStart    string  `json:"week_start"`
	WeekEnd      string  `json:"week_end"`
	WeeklySales  int64   `json:"weekly_sales"`
	RewardAdded  bool    `json:"reward_added"`
	RewardAmount float64 `json:"reward_amount"`
	TotalReward  float64 `json:"total_reward"`
}

// GetDashboard выполняет сверку вознаграждения и возвращает личный кабинет.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	d, err := h.service.GetDashboard(r.Context(), userID)
	if err != nil {
		h.logger.Error("get dashboard error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := dashboardResponse{
		Balance:      float64(d.BalanceCents) / 100,
		WeekStart:    d.Period.WeekStart.Format(time.RFC3339),
		WeekEnd:      d.Period.WeekEnd.Format(time.RFC3339),
		WeeklySales:  d.Reconciliation.WeeklySales,
		RewardAdded:  d.Reconciliation.RewardAdded,
		RewardAmount: float64(d.Reconciliation.RewardCents) / 100,
		TotalReward:  float64(d.Reconciliation.TotalRewardCents) / 100,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type ledgerEntryResponse struct {
	Amount      float64 `json:"amount"`
	Kind        string  `json:"kind"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"created_at"`
}

// GetTransactions возвращает историю операций текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	entries, err := h.service.GetLedgerByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ledgerEntryResponse{
			Amount:      float64(e.AmountCents*e.Kind.Sign()) / 100,
			Kind:        string(e.Kind),
			Description: e.Description,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type periodResponse struct {
	WeekStart string `json:"week_start"`
	WeekEnd   string `json:"week_end"`
}

// GetPeriod возвращает границы текущей отчётной недели.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	p := h.service.CurrentPeriod()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(periodResponse{
		WeekStart: p.WeekStart.Format(time.RFC3339),
		WeekEnd:   p.WeekEnd.Format(time.RFC3339),
	}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// requireAdmin проверяет, что запрос выполняет администратор, и возвращает
// его идентификатор.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return 0, false
	}

	u, err := h.service.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return 0, false
		}
		h.logger.Error("get user error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return 0, false
	}

	if u.Role != model.RoleAdmin {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return 0, false
	}

	return userID, true
}

type transitionRequest struct {
	Status string `json:"status"`
}

// TransitionOrder переводит заявку в конечный статус от имени администратора.
func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.TransitionOrder(r.Context(), orderID, model.OrderStatus(req.Status), actorID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidStatus):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrOrderNotPending):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("transition order error", zap.Error(err), zap.Int64("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toOrderResponse(order)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type grantRequest struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

type grantResponse struct {
	Balance float64 `json:"balance"`
}

// GrantPoints начисляет баллы пользователю от имени администратора.
func (h *Handler) GrantPoints(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.GrantPoints(r.Context(), userID, req.Amount, req.Description, actorID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("grant points error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(grantResponse{Balance: balance}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// ListOrders возвращает заявки в указанном статусе для администратора.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	status := model.OrderStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.OrderStatusPending
	}

	switch status {
	case model.OrderStatusPending, model.OrderStatusCompleted, model.OrderStatusRejected:
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orders, err := h.service.GetOrdersByStatus(r.Context(), status)
	if err != nil {
		h.logger.Error("list orders error", zap.Error(err), zap.String("status", string(status)))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeOrders(w, orders)
}

type summaryResponse struct {
	WeekStart    string  `json:"week_start"`
	WeekEnd      string  `json:"week_end"`
	TotalUsers   int64   `json:"total_users"`
	TotalOrders  int64   `json:"total_orders"`
	TotalSales   int64   `json:"total_sales"`
	TotalRewards float64 `json:"total_rewards"`
}

// WeeklySummary возвращает сводку за отчётную неделю для администратора.
// Параметр week_start (YYYY-MM-DD) задаёт историческую неделю; дата вне
// якоря сдвигается вперёд к ближайшему началу недели.
func (h *Handler) WeeklySummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	var explicitStart *time.Time
	if v := r.URL.Query().Get("week_start"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, period.Location())
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		explicitStart = &t
	}

	s, err := h.service.GetWeeklySummary(r.Context(), explicitStart)
	if err != nil {
		h.logger.Error("weekly summary error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := summaryResponse{
		WeekStart:    s.Period.WeekStart.Format(time.RFC3339),
		WeekEnd:      s.Period.WeekEnd.Format(time.RFC3339),
		TotalUsers:   s.TotalUsers,
		TotalOrders:  s.TotalOrders,
		TotalSales:   s.TotalSales,
		TotalRewards: float64(s.TotalRewardCents) / 100,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}
