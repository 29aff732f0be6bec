package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coffeeshop/internal/config"
	"coffeeshop/internal/model"
	"coffeeshop/internal/repository"
	"coffeeshop/internal/service"
	"coffeeshop/internal/testutil"
	"coffeeshop/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type apiEnv struct {
	db     *gorm.DB
	router *gin.Engine
	svc    Services
}

func newAPIEnv(t *testing.T, mutate ...func(*config.Config)) *apiEnv {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	log := zaptest.NewLogger(t)

	balance := service.NewBalanceService(db, log)
	loyalty := service.NewLoyaltyService(db, cfg, log)
	catalog := service.NewCachedCatalog(db, nil, cfg.Business.ProductCacheTTL(), log)
	svc := Services{
		Orders:  service.NewOrderService(db, nil, cfg, balance, loyalty, catalog, log),
		Balance: balance,
		Loyalty: loyalty,
		QR:      service.NewQRService(db, cfg, balance, log),
	}

	return &apiEnv{db: db, router: SetupRouter(cfg, svc, log), svc: svc}
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	Data      json.RawMessage `json:"data"`
}

func (e *apiEnv) do(t *testing.T, method, path string, userID int64, role string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set(HeaderUserID, fmt.Sprint(userID))
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (e *apiEnv) addCoffee(t *testing.T, price int64) *model.Product {
	t.Helper()
	p := &model.Product{Name: "Latte", Category: model.ProductCategoryCoffee, Price: price, IsAvailable: true}
	require.NoError(t, repository.NewProductRepository(e.db).Create(context.Background(), p))
	return p
}

func (e *apiEnv) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := e.svc.Balance.Credit(context.Background(), userID, amount, model.TransactionTypeDeposit, "seed", "")
	require.NoError(t, err)
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestRequestsNeedIdentity(t *testing.T) {
	env := newAPIEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/v1/balance", 0, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.CodeUnauthorized, body.Code)

	status, _ = env.do(t, http.MethodGet, "/api/v1/balance", 1, "barista", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestPlaceOrderEndToEnd(t *testing.T) {
	env := newAPIEnv(t)
	coffee := env.addCoffee(t, 1800)
	env.fund(t, 1, 5000)

	status, body := env.do(t, http.MethodPost, "/api/v1/orders", 1, "", gin.H{
		"items":          []gin.H{{"product_id": coffee.ID, "quantity": 1, "customization": gin.H{"milk": "oat"}}},
		"payment_method": "balance",
		"notes":          "extra hot",
	})
	require.Equal(t, http.StatusOK, status, body.Message)

	var order OrderView
	decode(t, body.Data, &order)
	assert.Equal(t, "18.00", order.TotalAmount)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "oat", order.Items[0].Customization["milk"])

	status, body = env.do(t, http.MethodGet, "/api/v1/balance", 1, "", nil)
	require.Equal(t, http.StatusOK, status)
	var bal struct {
		Balance string `json:"balance"`
	}
	decode(t, body.Data, &bal)
	assert.Equal(t, "32.00", bal.Balance)

	status, body = env.do(t, http.MethodGet, "/api/v1/loyalty", 1, "", nil)
	require.Equal(t, http.StatusOK, status)
	var loyalty service.LoyaltyState
	decode(t, body.Data, &loyalty)
	assert.Equal(t, 1, loyalty.CoffeeCount)

	status, body = env.do(t, http.MethodGet, "/api/v1/orders/"+order.OrderNo, 2, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.CodeOrderNotFound, body.Code)

	status, body = env.do(t, http.MethodPut, "/api/v1/orders/"+order.OrderNo+"/cancel", 1, "", nil)
	require.Equal(t, http.StatusOK, status, body.Message)

	status, body = env.do(t, http.MethodGet, "/api/v1/balance/history?page=1&page_size=1", 1, "", nil)
	require.Equal(t, http.StatusOK, status)
	var history struct {
		List  []LedgerEntryView `json:"list"`
		Total int64             `json:"total"`
	}
	decode(t, body.Data, &history)
	assert.Equal(t, int64(3), history.Total)
	require.Len(t, history.List, 1)
	assert.Equal(t, "18.00", history.List[0].Amount)
	assert.Equal(t, model.TransactionTypeRefund, history.List[0].Type)
}

func TestPlaceOrderBusinessErrors(t *testing.T) {
	env := newAPIEnv(t)
	coffee := env.addCoffee(t, 1800)

	status, body := env.do(t, http.MethodPost, "/api/v1/orders", 1, "", gin.H{
		"items":          []gin.H{{"product_id": coffee.ID, "quantity": 1}},
		"payment_method": "balance",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, response.CodeInsufficientBalance, body.Code)
	assert.False(t, body.Retryable)

	status, body = env.do(t, http.MethodPost, "/api/v1/orders", 1, "", gin.H{
		"items":          []gin.H{},
		"payment_method": "cash",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, response.CodeEmptyOrder, body.Code)

	status, body = env.do(t, http.MethodPost, "/api/v1/orders", 1, "", gin.H{
		"items":           []gin.H{{"product_id": coffee.ID, "quantity": 1}},
		"payment_method":  "cash",
		"use_free_coffee": true,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, response.CodeNoFreeCoffee, body.Code)

	status, body = env.do(t, http.MethodPost, "/api/v1/orders", 1, "", gin.H{
		"items":          []gin.H{{"product_id": coffee.ID, "quantity": 1}},
		"payment_method": "iou",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeParamError, body.Code)
}

func TestStatusUpdates(t *testing.T) {
	env := newAPIEnv(t)
	coffee := env.addCoffee(t, 1800)

	_, body := env.do(t, http.MethodPost, "/api/v1/orders", 1, "", gin.H{
		"items":          []gin.H{{"product_id": coffee.ID, "quantity": 1}},
		"payment_method": "cash",
	})
	var order OrderView
	decode(t, body.Data, &order)
	path := "/api/v1/orders/" + order.OrderNo + "/status"

	status, body := env.do(t, http.MethodPut, path, 1, service.RoleCustomer, gin.H{"status": "accepted"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, response.CodeForbidden, body.Code)

	status, body = env.do(t, http.MethodPut, path, 100, service.RoleStaff, gin.H{"status": "accepted", "expected_status": "pending"})
	require.Equal(t, http.StatusOK, status, body.Message)

	status, body = env.do(t, http.MethodPut, path, 101, service.RoleAdmin, gin.H{"status": "preparing", "expected_status": "pending"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, response.CodeConcurrentModification, body.Code)
	assert.True(t, body.Retryable)

	status, body = env.do(t, http.MethodPut, path, 100, service.RoleStaff, gin.H{"status": "completed"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, response.CodeInvalidTransition, body.Code)

	status, body = env.do(t, http.MethodPut, "/api/v1/orders/"+order.OrderNo+"/cancel", 1, "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, response.CodeInvalidTransition, body.Code)
}

func TestAdminOrderQueue(t *testing.T) {
	env := newAPIEnv(t)
	coffee := env.addCoffee(t, 1800)
	for user := int64(1); user <= 3; user++ {
		status, body := env.do(t, http.MethodPost, "/api/v1/orders", user, "", gin.H{
			"items":          []gin.H{{"product_id": coffee.ID, "quantity": 1}},
			"payment_method": "card",
		})
		require.Equal(t, http.StatusOK, status, body.Message)
	}

	status, _ := env.do(t, http.MethodGet, "/api/v1/admin/orders", 1, service.RoleCustomer, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := env.do(t, http.MethodGet, "/api/v1/admin/orders?status=pending&page_size=2", 100, service.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		List  []OrderView `json:"list"`
		Total int64       `json:"total"`
	}
	decode(t, body.Data, &page)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.List, 2)

	status, body = env.do(t, http.MethodGet, "/api/v1/admin/orders?status=lost", 100, service.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeParamError, body.Code)
}

func TestQRTopUpFlow(t *testing.T) {
	env := newAPIEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/v1/balance/generate-qr", 1, "", gin.H{"amount": "100.00"})
	require.Equal(t, http.StatusOK, status, body.Message)
	var issued struct {
		Token  string `json:"token"`
		Amount string `json:"amount"`
	}
	decode(t, body.Data, &issued)
	assert.Equal(t, "100.00", issued.Amount)

	status, _ = env.do(t, http.MethodPost, "/api/v1/balance/redeem-qr", 2, service.RoleCustomer, gin.H{"token": issued.Token})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = env.do(t, http.MethodPost, "/api/v1/balance/redeem-qr", 100, service.RoleStaff, gin.H{"token": issued.Token})
	require.Equal(t, http.StatusOK, status, body.Message)
	var redeemed struct {
		UserID     int64  `json:"user_id"`
		NewBalance string `json:"new_balance"`
	}
	decode(t, body.Data, &redeemed)
	assert.Equal(t, int64(1), redeemed.UserID)
	assert.Equal(t, "100.00", redeemed.NewBalance)

	status, body = env.do(t, http.MethodPost, "/api/v1/balance/redeem-qr", 100, service.RoleStaff, gin.H{"token": issued.Token})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, response.CodeTokenAlreadyRedeemed, body.Code)
	assert.True(t, body.Retryable)

	status, body = env.do(t, http.MethodPost, "/api/v1/balance/redeem-qr", 100, service.RoleStaff, gin.H{"token": "nope"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.CodeTokenNotFound, body.Code)
}

func TestGenerateQRValidatesAmount(t *testing.T) {
	env := newAPIEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/v1/balance/generate-qr", 1, "", gin.H{"amount": "10.005"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, response.CodeInvalidAmount, body.Code)

	status, body = env.do(t, http.MethodPost, "/api/v1/balance/generate-qr", 1, "", gin.H{"amount": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, response.CodeInvalidAmount, body.Code)
}

func TestGenerateQRIsRateLimitedPerUser(t *testing.T) {
	env := newAPIEnv(t, func(c *config.Config) { c.Business.QRGenerateRatePerMinute = 2 })

	for i := 0; i < 2; i++ {
		status, body := env.do(t, http.MethodPost, "/api/v1/balance/generate-qr", 1, "", gin.H{"amount": 5})
		require.Equal(t, http.StatusOK, status, body.Message)
	}
	status, body := env.do(t, http.MethodPost, "/api/v1/balance/generate-qr", 1, "", gin.H{"amount": 5})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, response.CodeTooManyReqs, body.Code)

	status, _ = env.do(t, http.MethodPost, "/api/v1/balance/generate-qr", 2, "", gin.H{"amount": 5})
	assert.Equal(t, http.StatusOK, status)
}

func TestReconciliationFailureIsGeneric(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(Services{}, zaptest.NewLogger(t))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/balance/redeem-qr", nil)

	h.fail(c, fmt.Errorf("%w: token abc", service.ErrReconciliationRequired))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, response.CodeProcessing, body.Code)
	assert.NotContains(t, body.Message, "reconciliation")
	assert.NotContains(t, body.Message, "abc")
}

func TestHealthAndMetrics(t *testing.T) {
	env := newAPIEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	env.do(t, http.MethodGet, "/api/v1/loyalty", 1, "", nil)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `coffeeshop_http_requests_total{method="GET",route="/api/v1/loyalty",status="200"}`))
}

func TestListResponsesEchoNormalizedPaging(t *testing.T) {
	env := newAPIEnv(t)
	env.fund(t, 1, 5000)

	type paging struct {
		Total    int64             `json:"total"`
		Page     int               `json:"page"`
		PageSize int               `json:"page_size"`
		List     []json.RawMessage `json:"list"`
	}

	cases := []struct {
		path     string
		page     int
		pageSize int
	}{
		{"/api/v1/balance/history?page=0&page_size=0", 1, 20},
		{"/api/v1/balance/history?page=-3&page_size=500", 1, 100},
		{"/api/v1/orders?page_size=abc", 1, 20},
	}
	for _, tc := range cases {
		status, body := env.do(t, http.MethodGet, tc.path, 1, "", nil)
		require.Equal(t, http.StatusOK, status, tc.path)

		var got paging
		decode(t, body.Data, &got)
		assert.Equal(t, tc.page, got.Page, tc.path)
		assert.Equal(t, tc.pageSize, got.PageSize, tc.path)
	}

	status, body := env.do(t, http.MethodGet, "/api/v1/admin/orders?page_size=0", 100, service.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, status)
	var got paging
	decode(t, body.Data, &got)
	assert.Equal(t, 20, got.PageSize)
}
