package httpinterface

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/escrowchat/tradecoord/internal/core/application/pubsub"
	"github.com/escrowchat/tradecoord/internal/core/application/trade"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// TradeService is the subset of the trade driver exposed to the operator.
type TradeService interface {
	Snapshot() *domain.Trade
	MarkSellerReady(ctx context.Context, price decimal.Decimal) (*domain.Trade, error)
	AcceptTrade(ctx context.Context) (*domain.Trade, error)
	SubmitOffer(ctx context.Context, in trade.OfferInput) (*domain.Trade, error)
	LockFunds(ctx context.Context) (*domain.Trade, error)
	ReleaseFunds(ctx context.Context, pin string) (*domain.Trade, error)
	CancelTrade(ctx context.Context) (trade.CancelResult, error)
	ListTrades(ctx context.Context) ([]domain.TradeRecord, error)
}

// WebhookService manages the webhook subscriptions.
type WebhookService interface {
	AddWebhook(ctx context.Context, hook pubsub.Webhook) (string, error)
	RemoveWebhook(ctx context.Context, id string) error
	ListWebhooks(ctx context.Context, event string) ([]pubsub.WebhookInfo, error)
}

type handler struct {
	tradeSvc   TradeService
	webhookSvc WebhookService
	timeout    time.Duration
}

type readyRequest struct {
	Price decimal.Decimal `json:"price"`
}

type offerRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentMethod   string          `json:"payment_method"`
	Network         string          `json:"network"`
	Platform        string          `json:"platform"`
	AccountUsername string          `json:"account_username"`
	domain.Credentials
}

type releaseRequest struct {
	Pin string `json:"pin"`
}

type webhookRequest struct {
	Event    string `json:"event"`
	Endpoint string `json:"endpoint"`
	Secret   string `json:"secret"`
}

type recordView struct {
	ID              string          `json:"id"`
	ChannelID       string          `json:"channel_id"`
	BuyerID         string          `json:"buyer_id"`
	SellerID        string          `json:"seller_id"`
	Platform        string          `json:"platform"`
	AccountUsername string          `json:"account_username"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	InvoiceID       string          `json:"invoice_id,omitempty"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	Phase           string          `json:"phase"`
	CreatedAt       time.Time       `json:"created_at"`
	ClosedAt        time.Time       `json:"closed_at"`
}

func (h *handler) getTrade(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trade": h.tradeSvc.Snapshot(),
	})
}

func (h *handler) markSellerReady(w http.ResponseWriter, r *http.Request) {
	req := readyRequest{}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()

	h.writeTrade(w)(h.tradeSvc.MarkSellerReady(ctx, req.Price))
}

func (h *handler) acceptTrade(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	h.writeTrade(w)(h.tradeSvc.AcceptTrade(ctx))
}

func (h *handler) submitOffer(w http.ResponseWriter, r *http.Request) {
	req := offerRequest{}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()

	h.writeTrade(w)(h.tradeSvc.SubmitOffer(ctx, trade.OfferInput{
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		Network:       req.Network,
		Asset: domain.Asset{
			Platform:        req.Platform,
			AccountUsername: req.AccountUsername,
		},
		Credentials: req.Credentials,
	}))
}

func (h *handler) lockFunds(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	h.writeTrade(w)(h.tradeSvc.LockFunds(ctx))
}

func (h *handler) releaseFunds(w http.ResponseWriter, r *http.Request) {
	req := releaseRequest{}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()

	h.writeTrade(w)(h.tradeSvc.ReleaseFunds(ctx, req.Pin))
}

func (h *handler) cancelTrade(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()

	res, err := h.tradeSvc.CancelTrade(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": res,
		"trade":  h.tradeSvc.Snapshot(),
	})
}

func (h *handler) listTrades(w http.ResponseWriter, r *http.Request) {
	records, err := h.tradeSvc.ListTrades(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	trades := make([]recordView, 0, len(records))
	for _, rec := range records {
		trades = append(trades, recordView{
			ID:              rec.ID,
			ChannelID:       rec.ChannelID,
			BuyerID:         rec.BuyerID,
			SellerID:        rec.SellerID,
			Platform:        rec.Asset.Platform,
			AccountUsername: rec.Asset.AccountUsername,
			Amount:          rec.Amount,
			Currency:        rec.Currency,
			InvoiceID:       rec.InvoiceID.String(),
			TransactionID:   rec.TransactionID.String(),
			Phase:           rec.Phase.String(),
			CreatedAt:       rec.CreatedAt,
			ClosedAt:        rec.ClosedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (h *handler) addWebhook(w http.ResponseWriter, r *http.Request) {
	req := webhookRequest{}
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := h.webhookSvc.AddWebhook(r.Context(), pubsub.Webhook{
		Event:    req.Event,
		Endpoint: req.Endpoint,
		Secret:   req.Secret,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handler) removeWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.webhookSvc.RemoveWebhook(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.webhookSvc.ListWebhooks(r.Context(), r.URL.Query().Get("event"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": hooks})
}

// context bounds an operation with enough room for a reconciliation and
// the money-moving call that follows it.
func (h *handler) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *handler) writeTrade(w http.ResponseWriter) func(*domain.Trade, error) {
	return func(t *domain.Trade, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"trade": t})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

type errorResponse struct {
	Error     string           `json:"error"`
	Shortfall *decimal.Decimal `json:"shortfall,omitempty"`
	Currency  string           `json:"currency,omitempty"`
}

// writeError maps the errors of the trade driver to status codes. A backend
// timeout is reported as accepted since the outcome is unknown, and having
// no active transaction means there is nothing left to do.
func writeError(w http.ResponseWriter, err error) {
	var fundsErr *domain.InsufficientFundsError
	switch {
	case errors.As(err, &fundsErr):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{
			Error:     fundsErr.Error(),
			Shortfall: &fundsErr.Shortfall,
			Currency:  fundsErr.Currency,
		})
		return
	case errors.Is(err, domain.ErrNoActiveTransaction):
		writeJSON(w, http.StatusOK, map[string]string{"message": "nothing to do"})
		return
	case errors.Is(err, domain.ErrBackendTimeout):
		writeJSON(w, http.StatusAccepted, map[string]string{
			"message": "state unknown, the backend did not answer in time",
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, trade.ErrTradeInProgress),
		errors.Is(err, domain.ErrStaleReference):
		status = http.StatusConflict
	case errors.Is(err, trade.ErrNoTrade),
		errors.Is(err, ports.ErrSubscriptionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotParticipant):
		status = http.StatusForbidden
	case errors.Is(err, trade.ErrInvalidAmount),
		errors.Is(err, trade.ErrMissingAsset),
		errors.Is(err, trade.ErrMissingCredentials),
		errors.Is(err, trade.ErrMissingPin),
		errors.Is(err, domain.ErrMissingTradeData),
		errors.Is(err, pubsub.ErrInvalidWebhook):
		status = http.StatusBadRequest
	case errors.Is(err, pubsub.ErrPubSubNotInitialized):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).Warn("operator request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Debug("failed to write response")
	}
}
