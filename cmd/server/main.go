package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"orchestrator/internal/api"
	"orchestrator/internal/approval"
	"orchestrator/internal/broker"
	"orchestrator/internal/config"
	"orchestrator/internal/conn"
	"orchestrator/internal/models"
	"orchestrator/internal/notify"
	"orchestrator/internal/repository"
	"orchestrator/internal/store"
	"orchestrator/internal/trader"
	"orchestrator/internal/websocket"
	"orchestrator/pkg/ratelimit"
	"orchestrator/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer log.Logger.Sync()

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatal("database connection failed", utils.Err(err))
	}
	defer db.Close()
	log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Репозитории
	stateRepo := repository.NewStateRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// State Store: восстановление durable-снимка до любых мутаций
	st := store.New(log)
	record, err := stateRepo.LoadState(ctx)
	if err != nil {
		log.Fatal("state load failed", utils.Err(err))
	}
	if record != nil {
		if err := st.Restore(record); err != nil {
			log.Fatal("state restore failed", utils.Err(err))
		}
		log.Info("state restored",
			utils.Int("positions", len(record.Positions)),
			utils.Int("trades", len(record.ClosedTrades)),
			utils.String("last_connection", record.Connection))
	}

	// Rate limiter вызовов брокера
	limiter := ratelimit.New()
	limiter.Register(conn.ServiceBroker, cfg.Broker.RateLimit, cfg.Broker.RateBurst)

	// Сессия с брокером
	// TODO: адаптер реального venue; пока торгует симулятор (paper)
	brokerPassword, err := cfg.BrokerPassword()
	if err != nil {
		log.Fatal("broker credentials unusable", utils.Err(err))
	}
	brk := broker.NewSimBroker(10000, 100)
	creds := broker.Credentials{
		Login:    cfg.Broker.Login,
		Password: brokerPassword,
		Server:   cfg.Broker.Server,
	}
	cm := conn.NewManager(brk, creds, limiter, cfg.ConnConfig(), log)

	// Канал уведомлений и команд оператора
	notifySvc := notify.NewService(notificationRepo, cfg.Notify.KeepCount, log)
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		notifySvc.AddNotifier(notify.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
		log.Info("telegram notifications enabled")
	}

	// Approval Workflow: код подтверждения уходит оператору
	// через канал уведомлений
	dispatcher := func(plan *models.ActionPlan, code string) error {
		msg := fmt.Sprintf("plan %s awaits confirmation, code: %s", plan.ID, code)
		return notifySvc.PublishApproval(context.Background(), plan.ID, msg)
	}
	workflow := approval.New(cfg.ApprovalWorkflowConfig(), dispatcher, log)

	// Движок исполнения
	engine := trader.NewEngine(cfg.TraderEngineConfig(), cm, st, workflow, notifySvc, auditRepo, log)

	// WebSocket hub: снимок при подключении + трансляция событий Store
	hub := websocket.NewHub(log)
	hub.SetSnapshotProvider(st.Snapshot)
	notifySvc.SetBroadcaster(hub)
	go hub.Run(ctx)
	go hub.PumpStoreEvents(ctx, st.Subscribe(64))

	// Закрытые сделки дублируются в отдельный журнал БД
	go persistClosedTrades(ctx, st.Subscribe(64), tradeRepo, log)

	// Периодическое сохранение состояния: снимок несёт и состояние
	// соединения на момент записи
	persister := store.NewPersister(st, stateRepo, cfg.Trader.PersistInterval, log)
	persister.SetConnState(func() string { return cm.State().String() })
	persister.Start(ctx)

	cm.Start(ctx)
	engine.Run(ctx)

	// Сверка позиций после первого подключения
	go reconcileOnConnect(ctx, cm, st, log)

	// HTTP API
	deps := &api.Dependencies{
		Engine:     engine,
		Store:      st,
		Notify:     notifySvc,
		Workflow:   workflow,
		Limiter:    limiter,
		Audits:     auditRepo,
		Hub:        hub,
		APIKeyHash: cfg.Security.APIKeyHash,
		Log:        log,
	}
	router := api.SetupRoutes(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", utils.String("addr", server.Addr))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", utils.Err(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", utils.Err(err))
	}

	// Порядок остановки: сначала движок (никаких новых шагов), затем
	// workflow (ожидающие планы истекают), затем сессия с брокером,
	// последним - финальный сброс состояния
	engine.Stop()
	workflow.Shutdown()
	cm.Stop()
	cancel()

	if err := persister.Stop(shutdownCtx); err != nil {
		log.Error("final state persist failed", utils.Err(err))
	}

	log.Info("server exited")
}

// reconcileOnConnect ждёт первую живую сессию и сверяет позиции с брокером
func reconcileOnConnect(ctx context.Context, cm *conn.Manager, st *store.Store, log *utils.Logger) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !cm.IsConnected() {
				continue
			}

			live, err := cm.OpenPositions(ctx)
			if err != nil {
				log.Warn("reconcile query failed", utils.Err(err))
				continue
			}
			st.Reconcile(live)
			log.Info("positions reconciled", utils.Int("live", len(live)))
			return
		}
	}
}

// persistClosedTrades дублирует закрытые сделки в журнал closed_trades
func persistClosedTrades(ctx context.Context, events <-chan store.Event, repo *repository.TradeRepository, log *utils.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type != store.EventPositionClosed || event.Trade == nil {
				continue
			}
			trade := *event.Trade
			if err := repo.Create(&trade); err != nil {
				log.Error("closed trade not journaled",
					utils.String("position_id", trade.PositionID),
					utils.Err(err))
			}
		}
	}
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
