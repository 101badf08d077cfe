// Package httpinterface exposes the trade driver to the operator through a
// REST API.
package httpinterface

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	interfaces "github.com/escrowchat/tradecoord/internal/interfaces"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
)

const defaultOperationTimeout = 40 * time.Second

type ServiceOpts struct {
	Address     string
	CORSOrigins []string
	// OperationTimeout bounds every operation that reaches the backend.
	OperationTimeout time.Duration

	TradeSvc   TradeService
	WebhookSvc WebhookService
	// MetricsHandler, if defined, is served at /metrics.
	MetricsHandler http.Handler
}

func (o ServiceOpts) validate() error {
	if o.Address == "" {
		return fmt.Errorf("missing listening address")
	}
	if o.TradeSvc == nil {
		return fmt.Errorf("trade app service must not be null")
	}
	if o.WebhookSvc == nil {
		return fmt.Errorf("webhook app service must not be null")
	}
	return nil
}

type service struct {
	opts   ServiceOpts
	server *http.Server
}

func NewService(opts ServiceOpts) (interfaces.Service, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid opts: %s", err)
	}

	return &service{
		opts: opts,
		server: &http.Server{
			Addr:              opts.Address,
			Handler:           NewHandler(opts),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *service) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("operator interface stopped")
		}
	}()
	log.Infof("operator interface is listening on %s", s.opts.Address)
	return nil
}

func (s *service) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// NewHandler returns the router of the operator API wrapped with CORS.
func NewHandler(opts ServiceOpts) http.Handler {
	timeout := opts.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	h := &handler{opts.TradeSvc, opts.WebhookSvc, timeout}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/trade", h.getTrade)
	mux.HandleFunc("POST /v1/trade/ready", h.markSellerReady)
	mux.HandleFunc("POST /v1/trade/accept", h.acceptTrade)
	mux.HandleFunc("POST /v1/trade/offer", h.submitOffer)
	mux.HandleFunc("POST /v1/trade/lock", h.lockFunds)
	mux.HandleFunc("POST /v1/trade/release", h.releaseFunds)
	mux.HandleFunc("POST /v1/trade/cancel", h.cancelTrade)
	mux.HandleFunc("GET /v1/trades", h.listTrades)
	mux.HandleFunc("GET /v1/webhooks", h.listWebhooks)
	mux.HandleFunc("POST /v1/webhooks", h.addWebhook)
	mux.HandleFunc("DELETE /v1/webhooks/{id}", h.removeWebhook)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	origins := opts.CORSOrigins
	if len(origins) <= 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodDelete,
		},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}
