package handler

import (
	"errors"
	"strconv"
	"time"

	"coffeeshop/internal/infrastructure/lock"
	"coffeeshop/internal/model"
	"coffeeshop/internal/service"
	"coffeeshop/pkg/money"
	"coffeeshop/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler adapts HTTP requests to the order, balance, loyalty and QR services.
type Handler struct {
	orders  *service.OrderService
	balance *service.BalanceService
	loyalty *service.LoyaltyService
	qr      *service.QRService
	log     *zap.Logger
}

type Services struct {
	Orders  *service.OrderService
	Balance *service.BalanceService
	Loyalty *service.LoyaltyService
	QR      *service.QRService
}

func NewHandler(svc Services, log *zap.Logger) *Handler {
	return &Handler{
		orders:  svc.Orders,
		balance: svc.Balance,
		loyalty: svc.Loyalty,
		qr:      svc.QR,
		log:     log.Named("handler"),
	}
}

// businessCodes maps domain errors to envelope codes.
var businessCodes = []struct {
	err  error
	code int
}{
	{service.ErrOrderNotFound, response.CodeOrderNotFound},
	{service.ErrInvalidTransition, response.CodeInvalidTransition},
	{service.ErrInsufficientBalance, response.CodeInsufficientBalance},
	{service.ErrInvalidAmount, response.CodeInvalidAmount},
	{service.ErrNoFreeCoffeeAvailable, response.CodeNoFreeCoffee},
	{service.ErrInvalidFreeCoffeeUsage, response.CodeInvalidFreeCoffeeUsage},
	{service.ErrEmptyOrder, response.CodeEmptyOrder},
	{service.ErrProductUnavailable, response.CodeProductUnavailable},
	{service.ErrTokenNotFound, response.CodeTokenNotFound},
	{service.ErrTokenExpired, response.CodeTokenExpired},
	{service.ErrForbidden, response.CodeForbidden},
	{service.ErrInvalidRequest, response.CodeParamError},
}

func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, service.ErrReconciliationRequired):
		// Details are already logged for operators.
		response.Error(c, response.CodeProcessing, "your request is being processed, please check again shortly")
		return
	case errors.Is(err, service.ErrTokenAlreadyRedeemed):
		response.Conflict(c, response.CodeTokenAlreadyRedeemed, err.Error())
		return
	case errors.Is(err, service.ErrConcurrentModification), errors.Is(err, lock.ErrLockFailed):
		response.Conflict(c, response.CodeConcurrentModification, "the resource was changed concurrently, reload and retry")
		return
	}

	for _, bc := range businessCodes {
		if errors.Is(err, bc.err) {
			response.BusinessError(c, bc.code, err.Error())
			return
		}
	}

	h.log.Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
	response.ServerError(c, "internal server error")
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return service.NormalizePage(page, pageSize)
}

type OrderItemView struct {
	ProductID     int64                  `json:"product_id"`
	ProductName   string                 `json:"product_name"`
	Category      string                 `json:"category"`
	Quantity      int                    `json:"quantity"`
	UnitPrice     string                 `json:"unit_price"`
	LineTotal     string                 `json:"line_total"`
	Customization map[string]interface{} `json:"customization,omitempty"`
}

type OrderView struct {
	OrderNo         string          `json:"order_no"`
	UserID          int64           `json:"user_id"`
	Status          string          `json:"status"`
	Items           []OrderItemView `json:"items"`
	Subtotal        string          `json:"subtotal"`
	TotalAmount     string          `json:"total_amount"`
	PaymentMethod   string          `json:"payment_method"`
	IsFreeCoffee    bool            `json:"is_free_coffee"`
	PickupTime      *time.Time      `json:"pickup_time,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	StatusChangedAt time.Time       `json:"status_changed_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

func newOrderView(o *model.Order) OrderView {
	items := make([]OrderItemView, 0, len(o.Items))
	for i := range o.Items {
		it := &o.Items[i]
		items = append(items, OrderItemView{
			ProductID:     it.ProductID,
			ProductName:   it.ProductName,
			Category:      it.Category,
			Quantity:      it.Quantity,
			UnitPrice:     money.Format(it.UnitPriceSnapshot),
			LineTotal:     money.Format(it.LineTotal()),
			Customization: it.Customization,
		})
	}
	return OrderView{
		OrderNo:         o.OrderNo,
		UserID:          o.UserID,
		Status:          o.Status,
		Items:           items,
		Subtotal:        money.Format(o.Subtotal),
		TotalAmount:     money.Format(o.TotalAmount),
		PaymentMethod:   o.PaymentMethod,
		IsFreeCoffee:    o.IsFreeCoffee,
		PickupTime:      o.PickupTime,
		Notes:           o.Notes,
		StatusChangedAt: o.StatusChangedAt,
		CreatedAt:       o.CreatedAt,
	}
}

func newOrderList(orders []*model.Order) []OrderView {
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, newOrderView(o))
	}
	return views
}

// ============================================================
// Orders
// ============================================================

type PlaceOrderItemRequest struct {
	ProductID     int64                  `json:"product_id" binding:"required"`
	Quantity      int                    `json:"quantity" binding:"required,gt=0"`
	Customization map[string]interface{} `json:"customization"`
}

type PlaceOrderRequest struct {
	RequestID     string                  `json:"request_id" binding:"max=64"`
	Items         []PlaceOrderItemRequest `json:"items" binding:"dive"`
	PaymentMethod string                  `json:"payment_method" binding:"required,oneof=balance cash card"`
	UseFreeCoffee bool                    `json:"use_free_coffee"`
	PickupTime    *time.Time              `json:"pickup_time"`
	Notes         string                  `json:"notes" binding:"max=512"`
}

// PlaceOrder POST /api/v1/orders
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	userID, _ := currentUser(c)
	items := make([]service.PlaceOrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, service.PlaceOrderItem{
			ProductID:     it.ProductID,
			Quantity:      it.Quantity,
			Customization: it.Customization,
		})
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), &service.PlaceOrderRequest{
		RequestID:     req.RequestID,
		UserID:        userID,
		Items:         items,
		PaymentMethod: req.PaymentMethod,
		UseFreeCoffee: req.UseFreeCoffee,
		PickupTime:    req.PickupTime,
		Notes:         req.Notes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, newOrderView(order))
}

// ListOrders GET /api/v1/orders?page=1&page_size=20
func (h *Handler) ListOrders(c *gin.Context) {
	userID, _ := currentUser(c)
	page, pageSize := pagination(c)

	orders, total, err := h.orders.ListUserOrders(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      newOrderList(orders),
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetOrder GET /api/v1/orders/:order_no
func (h *Handler) GetOrder(c *gin.Context) {
	userID, role := currentUser(c)

	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("order_no"), userID, role)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, newOrderView(order))
}

// CancelOrder PUT /api/v1/orders/:order_no/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	userID, _ := currentUser(c)

	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("order_no"), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, newOrderView(order))
}

type UpdateStatusRequest struct {
	Status         string `json:"status" binding:"required"`
	ExpectedStatus string `json:"expected_status"`
}

// UpdateOrderStatus PUT /api/v1/orders/:order_no/status
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	userID, role := currentUser(c)
	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), &service.UpdateStatusRequest{
		OrderNo:        c.Param("order_no"),
		NewStatus:      req.Status,
		ExpectedStatus: req.ExpectedStatus,
		ActingUserID:   userID,
		ActingRole:     role,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, newOrderView(order))
}

// AdminListOrders GET /api/v1/admin/orders?status=pending
func (h *Handler) AdminListOrders(c *gin.Context) {
	status := c.Query("status")
	page, pageSize := pagination(c)

	orders, total, err := h.orders.ListOrdersByStatus(c.Request.Context(), status, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      newOrderList(orders),
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// Balance
// ============================================================

// GetBalance GET /api/v1/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID, _ := currentUser(c)

	balance, err := h.balance.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": userID,
		"balance": money.Format(balance),
	})
}

type LedgerEntryView struct {
	TransactionNo string    `json:"transaction_no"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	BalanceAfter  string    `json:"balance_after"`
	Reference     string    `json:"reference,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// BalanceHistory GET /api/v1/balance/history?page=1&page_size=20
func (h *Handler) BalanceHistory(c *gin.Context) {
	userID, _ := currentUser(c)
	page, pageSize := pagination(c)

	entries, total, err := h.balance.ListHistory(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	list := make([]LedgerEntryView, 0, len(entries))
	for _, e := range entries {
		list = append(list, LedgerEntryView{
			TransactionNo: e.TransactionNo,
			Type:          e.Type,
			Amount:        money.Format(e.Amount),
			BalanceAfter:  money.Format(e.BalanceAfter),
			Reference:     e.Reference,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		})
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type GenerateQRRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// GenerateQR POST /api/v1/balance/generate-qr
func (h *Handler) GenerateQR(c *gin.Context) {
	var req GenerateQRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	amount, err := money.ToMinor(req.Amount)
	if err != nil {
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
		return
	}

	userID, _ := currentUser(c)
	token, err := h.qr.Issue(c.Request.Context(), userID, amount)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"token":      token.Token,
		"amount":     money.Format(token.Amount),
		"status":     token.Status,
		"expires_at": token.ExpiresAt,
	})
}

type RedeemQRRequest struct {
	Token string `json:"token" binding:"required"`
}

// RedeemQR POST /api/v1/balance/redeem-qr (staff)
func (h *Handler) RedeemQR(c *gin.Context) {
	var req RedeemQRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	staffID, _ := currentUser(c)
	result, err := h.qr.Redeem(c.Request.Context(), req.Token, staffID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":     result.UserID,
		"amount":      money.Format(result.Amount),
		"new_balance": money.Format(result.NewBalance),
	})
}

// ============================================================
// Loyalty
// ============================================================

// GetLoyalty GET /api/v1/loyalty
func (h *Handler) GetLoyalty(c *gin.Context) {
	userID, _ := currentUser(c)

	state, err := h.loyalty.GetLoyalty(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, state)
}
