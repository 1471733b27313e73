package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/walletledger/internal/cache"
	"github.com/congo-pay/walletledger/internal/command"
	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/idempotency"
	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/messaging"
	"github.com/congo-pay/walletledger/internal/metrics"
	"github.com/congo-pay/walletledger/internal/notification"
	"github.com/congo-pay/walletledger/internal/outbox"
	"github.com/congo-pay/walletledger/internal/projection"
	"github.com/congo-pay/walletledger/internal/routes"
	"github.com/congo-pay/walletledger/internal/settlement"
	"github.com/congo-pay/walletledger/internal/store"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// Backends are the storage implementations the services run on.
type Backends struct {
	Tx      store.TxManager
	Wallets wallet.Repository
	Ledger  ledger.Store
	Users   identity.Repository
	Outbox  outbox.Store
	Applied projection.AppliedLog
}

// PostgresBackends builds every store on db.
func PostgresBackends(db *store.DB) Backends {
	return Backends{
		Tx:      db,
		Wallets: wallet.NewPostgresRepository(db),
		Ledger:  ledger.NewPostgresLedger(db),
		Users:   identity.NewPostgresRepository(db),
		Outbox:  outbox.NewPostgresStore(db),
		Applied: projection.NewPostgresAppliedLog(db),
	}
}

// MemoryBackends builds in-memory stores sharing one transaction manager.
func MemoryBackends() Backends {
	return Backends{
		Tx:      store.NewMemoryTxManager(),
		Wallets: wallet.NewMemoryRepository(),
		Ledger:  ledger.NewInMemory(),
		Users:   identity.NewMemoryRepository(),
		Outbox:  outbox.NewMemoryStore(),
		Applied: projection.NewMemoryAppliedLog(),
	}
}

// ReaderFactory opens a consumer-group reader for topic.
type ReaderFactory func(topic string) (messaging.MessageReader, error)

// Options wires a Server.
type Options struct {
	Config    config.Config
	Backends  Backends
	Redis     *redis.Client
	Publisher messaging.Publisher
	Registry  *prometheus.Registry
	Checks    map[string]routes.Check
	Logger    *slog.Logger
}

// Server owns the HTTP tier and the settlement-tier workers.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	publisher  messaging.Publisher
	wallets    *wallet.Service
	users      *identity.Service
	dispatcher *settlement.Dispatcher
	projector  *projection.Projector
	relay      *outbox.Relay
}

// New assembles the services and registers the HTTP routes.
func New(o Options) (*Server, error) {
	if o.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if o.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	logger := o.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	reg := o.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	cfg := o.Config
	b := o.Backends
	m := metrics.New(reg)

	guard := idempotency.NewRedisGuard(o.Redis, cfg.IdempotencyTTL, logging.Component(logger, "idempotency"))
	balances := cache.NewBalances(o.Redis, cfg.BalanceCacheTTL, logging.Component(logger, "cache"), m)

	users := identity.NewService(b.Tx, b.Users, guard, m, logging.Component(logger, "identity"))
	wallets := wallet.NewService(wallet.Dependencies{
		Tx:                b.Tx,
		Wallets:           b.Wallets,
		Ledger:            b.Ledger,
		Users:             users,
		Guard:             guard,
		Balances:          balances,
		Publisher:         o.Publisher,
		TransactionsTopic: cfg.TransactionsTopic,
		Metrics:           m,
		Logger:            logging.Component(logger, "wallet"),
	})

	executor := settlement.NewExecutor(settlement.Dependencies{
		Tx:           b.Tx,
		Wallets:      b.Wallets,
		Ledger:       b.Ledger,
		Outbox:       b.Outbox,
		Balances:     balances,
		BalanceTopic: cfg.BalanceUpdatesTopic,
		Logger:       logging.Component(logger, "settlement"),
	})
	notifier := notification.NewLoggerNotifier(logging.Component(logger, "notification"))
	dispatcher := settlement.NewDispatcher(executor, notifier, m, logging.Component(logger, "dispatcher"))
	projector := projection.NewProjector(b.Tx, b.Wallets, b.Applied, balances, m, logging.Component(logger, "projection"))
	relay := outbox.NewRelay(b.Tx, b.Outbox, o.Publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logging.Component(logger, "outbox"), m)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: routes.ErrorHandler(logger),
	})
	routes.Setup(app, routes.Deps{
		Wallets:  wallet.NewHandler(wallets),
		Users:    identity.NewHandler(users),
		Checks:   o.Checks,
		Gatherer: reg,
		Logger:   logging.Component(logger, "http"),
	})

	return &Server{
		app:        app,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		publisher:  o.Publisher,
		wallets:    wallets,
		users:      users,
		dispatcher: dispatcher,
		projector:  projector,
		relay:      relay,
	}, nil
}

// App exposes the Fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Wallets returns the admission and read service.
func (s *Server) Wallets() *wallet.Service { return s.wallets }

// Users returns the user directory service.
func (s *Server) Users() *identity.Service { return s.users }

// Dispatcher returns the transactions-topic handler.
func (s *Server) Dispatcher() *settlement.Dispatcher { return s.dispatcher }

// Projector returns the balance-updates-topic handler.
func (s *Server) Projector() *projection.Projector { return s.projector }

// Relay returns the outbox relay.
func (s *Server) Relay() *outbox.Relay { return s.relay }

// Run serves HTTP and runs the settlement and projection consumers and the
// outbox relay until ctx is cancelled or one of them fails.
func (s *Server) Run(ctx context.Context, newReader ReaderFactory) error {
	consumers, err := s.consumers(newReader)
	defer func() {
		for _, c := range consumers {
			if err := c.Close(); err != nil {
				s.logger.Warn("close consumer", slog.Any("error", err))
			}
		}
	}()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.app.Listen(s.cfg.Address()); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownPeriod)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	})
	g.Go(func() error { return s.relay.Run(ctx) })
	for _, c := range consumers {
		c := c
		g.Go(func() error { return c.Run(ctx) })
	}

	s.logger.Info("wallet ledger started",
		slog.String("address", s.cfg.Address()),
		slog.Int("settlement_workers", s.cfg.SettlementWorkers),
		slog.Int("projection_workers", s.cfg.ProjectionWorkers))

	return g.Wait()
}

// consumers opens one reader per worker. On error the consumers opened so far
// are returned so the caller can close them.
func (s *Server) consumers(newReader ReaderFactory) ([]*messaging.Consumer, error) {
	pools := []struct {
		workers int
		cfg     messaging.ConsumerConfig
		handler messaging.Handler
	}{
		{s.cfg.SettlementWorkers, messaging.ConsumerConfig{
			Topic:       s.cfg.TransactionsTopic,
			MaxAttempts: s.cfg.ConsumerMaxAttempts,
			Backoff:     s.cfg.ConsumerBackoff,
			Permanent:   settlement.Permanent,
		}, s.dispatcher.Handle},
		{s.cfg.ProjectionWorkers, messaging.ConsumerConfig{
			Topic:       s.cfg.BalanceUpdatesTopic,
			MaxAttempts: s.cfg.ConsumerMaxAttempts,
			Backoff:     s.cfg.ConsumerBackoff,
			Permanent:   malformed,
		}, s.projector.Handle},
	}

	var consumers []*messaging.Consumer
	for _, pool := range pools {
		for i := 0; i < pool.workers; i++ {
			reader, err := newReader(pool.cfg.Topic)
			if err != nil {
				return consumers, fmt.Errorf("open reader for %s: %w", pool.cfg.Topic, err)
			}
			logger := logging.Component(s.logger, "consumer").With(slog.Int("worker", i))
			consumers = append(consumers, messaging.NewConsumer(reader, pool.handler, s.publisher, pool.cfg, logger, s.metrics))
		}
	}
	return consumers, nil
}

func malformed(err error) bool {
	return errors.Is(err, command.ErrSerialization) || errors.Is(err, command.ErrUnknownCommand)
}
