package httpinterface_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/escrowchat/tradecoord/internal/core/application/pubsub"
	"github.com/escrowchat/tradecoord/internal/core/application/trade"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	httpinterface "github.com/escrowchat/tradecoord/internal/interfaces/http"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTradeService struct {
	mock.Mock
}

func (m *mockTradeService) Snapshot() *domain.Trade {
	args := m.Called()
	if t := args.Get(0); t != nil {
		return t.(*domain.Trade)
	}
	return nil
}

func (m *mockTradeService) MarkSellerReady(
	ctx context.Context, price decimal.Decimal,
) (*domain.Trade, error) {
	return tradeResult(m.Called(ctx, price))
}

func (m *mockTradeService) AcceptTrade(ctx context.Context) (*domain.Trade, error) {
	return tradeResult(m.Called(ctx))
}

func (m *mockTradeService) SubmitOffer(
	ctx context.Context, in trade.OfferInput,
) (*domain.Trade, error) {
	return tradeResult(m.Called(ctx, in))
}

func (m *mockTradeService) LockFunds(ctx context.Context) (*domain.Trade, error) {
	return tradeResult(m.Called(ctx))
}

func (m *mockTradeService) ReleaseFunds(
	ctx context.Context, pin string,
) (*domain.Trade, error) {
	return tradeResult(m.Called(ctx, pin))
}

func (m *mockTradeService) CancelTrade(ctx context.Context) (trade.CancelResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(trade.CancelResult), args.Error(1)
}

func (m *mockTradeService) ListTrades(ctx context.Context) ([]domain.TradeRecord, error) {
	args := m.Called(ctx)
	var res []domain.TradeRecord
	if a := args.Get(0); a != nil {
		res = a.([]domain.TradeRecord)
	}
	return res, args.Error(1)
}

func tradeResult(args mock.Arguments) (*domain.Trade, error) {
	var res *domain.Trade
	if a := args.Get(0); a != nil {
		res = a.(*domain.Trade)
	}
	return res, args.Error(1)
}

type mockWebhookService struct {
	mock.Mock
}

func (m *mockWebhookService) AddWebhook(
	ctx context.Context, hook pubsub.Webhook,
) (string, error) {
	args := m.Called(ctx, hook)
	return args.String(0), args.Error(1)
}

func (m *mockWebhookService) RemoveWebhook(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockWebhookService) ListWebhooks(
	ctx context.Context, event string,
) ([]pubsub.WebhookInfo, error) {
	args := m.Called(ctx, event)
	var res []pubsub.WebhookInfo
	if a := args.Get(0); a != nil {
		res = a.([]pubsub.WebhookInfo)
	}
	return res, args.Error(1)
}

func newTestHandler(
	tradeSvc *mockTradeService, webhookSvc *mockWebhookService,
) http.Handler {
	return httpinterface.NewHandler(httpinterface.ServiceOpts{
		Address:    ":0",
		TradeSvc:   tradeSvc,
		WebhookSvc: webhookSvc,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "tradecoord_signals_total 1")
		}),
	})
}

func do(h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	res := map[string]interface{}{}
	// nolint
	json.Unmarshal(rec.Body.Bytes(), &res)
	return rec, res
}

func TestTradeRoutes(t *testing.T) {
	tradeSvc := &mockTradeService{}
	h := newTestHandler(tradeSvc, &mockWebhookService{})

	ready := domain.NewTrade("chan", "sally", "")
	ready.Phase = domain.PhaseSellerReady
	ready.Price = decimal.RequireFromString("120.50")

	tradeSvc.On("Snapshot").Return(ready)
	tradeSvc.On(
		"MarkSellerReady", mock.Anything,
		mock.MatchedBy(func(p decimal.Decimal) bool {
			return p.Equal(decimal.RequireFromString("120.50"))
		}),
	).Return(ready, nil)
	tradeSvc.On("ReleaseFunds", mock.Anything, "1234").Return(nil, domain.ErrInvalidState)
	tradeSvc.On("SubmitOffer", mock.Anything, mock.MatchedBy(func(in trade.OfferInput) bool {
		return in.Asset.Platform == "instagram" &&
			in.Credentials.AccountPassword == "secret" &&
			in.Amount.Equal(decimal.NewFromInt(100))
	})).Return(ready, nil)
	tradeSvc.On("CancelTrade", mock.Anything).Return(trade.CancelRequested, nil)
	tradeSvc.On("ListTrades", mock.Anything).Return([]domain.TradeRecord{{
		ID:            "TXN789",
		Asset:         domain.Asset{Platform: "instagram", AccountUsername: "@shop"},
		Amount:        decimal.NewFromInt(100),
		TransactionID: "TXN789",
		Phase:         domain.PhaseCompleted,
	}}, nil)

	rec, res := do(h, http.MethodGet, "/v1/trade", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "SELLER_READY", res["trade"].(map[string]interface{})["phase"])

	rec, _ = do(h, http.MethodPost, "/v1/trade/ready", `{"price":"120.50"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(h, http.MethodPost, "/v1/trade/offer", `{
		"amount": 100, "currency": "USD", "platform": "instagram",
		"account_username": "@shop", "social_account_password": "secret"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, res = do(h, http.MethodPost, "/v1/trade/release", `{"pin":"1234"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, domain.ErrInvalidState.Error(), res["error"])

	rec, res = do(h, http.MethodPost, "/v1/trade/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, string(trade.CancelRequested), res["result"])

	rec, res = do(h, http.MethodGet, "/v1/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	trades := res["trades"].([]interface{})
	require.Len(t, trades, 1)
	require.Equal(t, "COMPLETED", trades[0].(map[string]interface{})["phase"])

	rec, _ = do(h, http.MethodPost, "/v1/trade/ready", `{"price":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(h, http.MethodGet, "/v1/trade/ready", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	tradeSvc.AssertExpectations(t)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"nothing to do", domain.ErrNoActiveTransaction, http.StatusOK},
		{"unknown state", fmt.Errorf("%w: no answer", domain.ErrBackendTimeout), http.StatusAccepted},
		{"insufficient funds", &domain.InsufficientFundsError{
			Shortfall: decimal.RequireFromString("20.5"), Currency: "USD",
		}, http.StatusPaymentRequired},
		{"invalid state", domain.ErrInvalidState, http.StatusConflict},
		{"trade in progress", trade.ErrTradeInProgress, http.StatusConflict},
		{"no trade", trade.ErrNoTrade, http.StatusNotFound},
		{"not participant", domain.ErrNotParticipant, http.StatusForbidden},
		{"missing data", domain.ErrMissingTradeData, http.StatusBadRequest},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tradeSvc := &mockTradeService{}
			tradeSvc.On("LockFunds", mock.Anything).Return(nil, tt.err)
			h := newTestHandler(tradeSvc, &mockWebhookService{})

			rec, res := do(h, http.MethodPost, "/v1/trade/lock", "")
			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusPaymentRequired {
				require.Equal(t, "20.5", res["shortfall"])
				require.Equal(t, "USD", res["currency"])
			}
		})
	}
}

func TestWebhookRoutes(t *testing.T) {
	webhookSvc := &mockWebhookService{}
	h := newTestHandler(&mockTradeService{}, webhookSvc)

	hook := pubsub.Webhook{
		Event: pubsub.EventTradeCompleted, Endpoint: "http://localhost/hook",
	}
	webhookSvc.On("AddWebhook", mock.Anything, hook).Return("hook1", nil)
	webhookSvc.On("ListWebhooks", mock.Anything, "").Return([]pubsub.WebhookInfo{{
		ID: "hook1", Event: hook.Event, Endpoint: hook.Endpoint,
	}}, nil)
	webhookSvc.On("RemoveWebhook", mock.Anything, "hook1").Return(nil)
	webhookSvc.On("RemoveWebhook", mock.Anything, "hook2").Return(ports.ErrSubscriptionNotFound)

	rec, res := do(h, http.MethodPost, "/v1/webhooks", `{
		"event": "TRADE_COMPLETED", "endpoint": "http://localhost/hook"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "hook1", res["id"])

	rec, res = do(h, http.MethodGet, "/v1/webhooks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, res["webhooks"], 1)

	rec, _ = do(h, http.MethodDelete, "/v1/webhooks/hook1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = do(h, http.MethodDelete, "/v1/webhooks/hook2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	webhookSvc.AssertExpectations(t)
}
