package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/escrowchat/tradecoord/internal/config"
	"github.com/escrowchat/tradecoord/internal/core/application/pubsub"
	"github.com/escrowchat/tradecoord/internal/core/application/reconcile"
	"github.com/escrowchat/tradecoord/internal/core/application/trade"
	"github.com/escrowchat/tradecoord/internal/core/application/tradecache"
	"github.com/escrowchat/tradecoord/internal/core/ports"
	"github.com/escrowchat/tradecoord/internal/infrastructure/ledger"
	wsmessaging "github.com/escrowchat/tradecoord/internal/infrastructure/messaging/websocket"
	"github.com/escrowchat/tradecoord/internal/infrastructure/metrics"
	webhookpubsub "github.com/escrowchat/tradecoord/internal/infrastructure/pubsub"
	dbbadger "github.com/escrowchat/tradecoord/internal/infrastructure/storage/db/badger"
	dbinmemory "github.com/escrowchat/tradecoord/internal/infrastructure/storage/db/inmemory"
	httpinterface "github.com/escrowchat/tradecoord/internal/interfaces/http"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const (
	startTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	var (
		partyID        = config.GetString(config.PartyIDKey)
		datadir        = config.GetDatadir()
		dbType         = config.GetString(config.DBTypeKey)
		ledgerTimeout  = config.GetDuration(config.LedgerTimeoutKey)
		operatorAddr   = fmt.Sprintf(":%d", config.GetInt(config.OperatorListeningPortKey))
		webhookTimeout = config.GetDuration(config.WebhookTimeoutKey)
	)

	repoManager, subsStore, err := newStorage(dbType, datadir)
	if err != nil {
		log.WithError(err).Fatal("failed to open storage")
	}

	m := metrics.New()

	ledgerClient, err := ledger.NewClient(
		config.GetString(config.LedgerURLKey), ledgerTimeout,
		config.GetInt(config.LedgerRateLimitKey),
	)
	if err != nil {
		log.WithError(err).Fatal("failed to init ledger client")
	}
	backend := m.WrapBackend(ledgerClient)

	chatClient, err := wsmessaging.NewClient(config.GetString(config.ChatWSURLKey), partyID)
	if err != nil {
		log.WithError(err).Fatal("failed to init chat client")
	}

	webhookSvc, err := webhookpubsub.NewService(subsStore, webhookTimeout)
	if err != nil {
		log.WithError(err).Fatal("failed to init webhook service")
	}
	pubsubSvc := pubsub.NewService(webhookSvc)

	tradeSvc, err := trade.NewService(
		trade.Config{
			PartyID:        partyID,
			PartyName:      config.GetString(config.PartyNameKey),
			CounterpartID:  config.GetString(config.CounterpartIDKey),
			ChannelID:      config.GetString(config.ChannelIDKey),
			Currency:       config.GetString(config.CurrencyKey),
			ResponseWindow: config.GetDuration(config.ResponseWindowKey),
			FundLockWindow: config.GetDuration(config.FundLockWindowKey),
			BackendTimeout: ledgerTimeout,
		},
		trade.Deps{
			Channel: chatClient,
			Backend: backend,
			Cache: tradecache.NewStore(
				repoManager.KVStore(), config.GetDuration(config.CacheStaleAfterKey),
			),
			Archive:    repoManager.TradeRecordRepository(),
			Reconciler: reconcile.NewEngine(backend, ledgerTimeout, m.ObserveReconciliation),
			PubSub:     pubsubSvc,
			Observer:   m,
		},
	)
	if err != nil {
		log.WithError(err).Fatal("failed to init trade service")
	}

	operatorSvc, err := httpinterface.NewService(httpinterface.ServiceOpts{
		Address:          operatorAddr,
		CORSOrigins:      config.GetList(config.CORSOriginsKey),
		OperationTimeout: 5 * ledgerTimeout,
		TradeSvc:         tradeSvc,
		WebhookSvc:       pubsubSvc,
		MetricsHandler:   m.Handler(),
	})
	if err != nil {
		log.WithError(err).Fatal("failed to init operator interface")
	}

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	if err := chatClient.Start(ctx); err != nil {
		cancel()
		log.WithError(err).Fatal("failed to connect to chat gateway")
	}
	if err := tradeSvc.Start(ctx); err != nil {
		cancel()
		log.WithError(err).Fatal("failed to start trade service")
	}
	cancel()

	if err := operatorSvc.Start(); err != nil {
		log.WithError(err).Fatal("failed to start operator interface")
	}

	log.Infof("coordinating trades of %s on channel %s", partyID, config.GetString(config.ChannelIDKey))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)
	<-sigChan

	log.Info("shutting down daemon")

	ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := operatorSvc.Stop(ctx); err != nil {
		log.WithError(err).Warn("failed to stop operator interface")
	}
	tradeSvc.Stop()
	chatClient.Stop()
	pubsubSvc.Close()
	repoManager.Close()

	log.Info("exiting")
}

// newStorage returns the repositories of the daemon and the store of the
// webhook subscriptions. An in-memory badger store backs the webhooks when
// the daemon runs without persistence.
func newStorage(
	dbType, datadir string,
) (ports.RepoManager, *badgerhold.Store, error) {
	if dbType == config.DBInMemory {
		subsStore, err := dbbadger.OpenStore("", nil)
		if err != nil {
			return nil, nil, err
		}
		return dbinmemory.NewRepoManager(), subsStore, nil
	}

	repoManager, err := dbbadger.NewRepoManager(
		filepath.Join(datadir, config.DbLocation), nil,
	)
	if err != nil {
		return nil, nil, err
	}
	subsStore, err := dbbadger.OpenStore(
		filepath.Join(datadir, config.PubSubLocation), nil,
	)
	if err != nil {
		repoManager.Close()
		return nil, nil, err
	}
	return repoManager, subsStore, nil
}
