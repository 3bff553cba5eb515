// Package app инициализирует все компоненты приложения.
// app.go: точка сборки. Создаёт хранилище, сервисы, обработчики,
// планировщик и собирает всё в один объект App.
package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"borgia.ae/ledger/internal/audit"
	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/config"
	"borgia.ae/ledger/internal/db/memory"
	"borgia.ae/ledger/internal/db/postgres"
	"borgia.ae/ledger/internal/features/accounts"
	"borgia.ae/ledger/internal/features/events"
	"borgia.ae/ledger/internal/features/gateway"
	"borgia.ae/ledger/internal/features/ledger"
	"borgia.ae/ledger/internal/httpapi"
	"borgia.ae/ledger/internal/jobs"
)

// storage: всё, что сервисы требуют от хранилища. Реализуется
// postgres.Store и memory.Store.
type storage interface {
	common.Transactor
	accounts.Store
	ledger.Store
	events.Store
	audit.Sink
	httpapi.AuditLister
}

// App содержит все компоненты приложения.
type App struct {
	Server    *httpapi.Server
	Scheduler *jobs.Scheduler
	Audit     *audit.Worker
	Limiter   *httpapi.RateLimiter

	closeDB func()
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен: компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loc := common.LoadLocation(cfg.AppTimezone)

	// === 1. Хранилище ===
	store, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := ensureAssociation(ctx, store, cfg.AssociationAccountID); err != nil {
		closeDB()
		return nil, err
	}

	// === 2. Журнал аудита ===
	auditWorker := audit.NewWorker(store, cfg.AuditBufferSize)

	// === 3. Сервисы ===
	accountService := accounts.NewService(store, cfg.BalanceLowThreshold, cfg.AssociationAccountID)
	ledgerService := ledger.NewService(store, store, cfg.AssociationAccountID)
	eventService := events.NewService(store, store, ledgerService, accountService, auditWorker, loc)
	gatewayService := gateway.NewService(ledgerService, accountService, auditWorker, gateway.Config{
		Secret:      cfg.GatewaySharedSecret,
		VendorToken: cfg.GatewayVendorToken,
		Currency:    cfg.GatewayCurrency,
		FeeEnabled:  cfg.GatewayFeeEnabled,
		Fees:        cfg.FeeSchedule(),
		MinRecharge: cfg.GatewayMinRecharge,
		MaxRecharge: cfg.GatewayMaxRecharge,
	})

	// === 4. HTTP ===
	limiter := httpapi.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	router := httpapi.NewRouter(httpapi.Deps{
		Accounts:  accounts.NewHandler(accountService),
		Ledger:    ledger.NewHandler(ledgerService),
		Events:    events.NewHandler(eventService),
		Gateway:   gateway.NewHandler(gatewayService),
		Tokens:    httpapi.NewTokenVerifier(cfg.OperatorTokenHash),
		Operators: accountService,
		Audit:     auditWorker,
		AuditLog:  store,
		Limiter:   limiter,
	})
	server := httpapi.NewServer(cfg.HTTPAddr, router, cfg.HTTPReadTimeout, cfg.HTTPWriteTimeout)

	// === 5. Планировщик задач ===
	scheduler := jobs.NewScheduler(loc, jobs.Schedule{
		LowBalance: cfg.BalanceAlertCron,
		Audit:      cfg.LedgerAuditCron,
	}, accountService, ledgerService, auditWorker, nil)

	return &App{
		Server:    server,
		Scheduler: scheduler,
		Audit:     auditWorker,
		Limiter:   limiter,
		closeDB:   closeDB,
	}, nil
}

// Close освобождает ресурсы после остановки сервера и планировщика.
func (a *App) Close() {
	a.Limiter.Close()
	a.Audit.Shutdown()
	a.closeDB()
}

// openStore открывает хранилище по STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config) (storage, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ошибка миграций: %w", err)
		}
		store := postgres.NewStore(pool, postgres.TxOptions{
			Timeout:     cfg.DBTxTimeout,
			LockTimeout: cfg.DBLockTimeout,
			Retries:     cfg.DBTxRetries,
		})
		return store, pool.Close, nil
	case "memory":
		log.Warn("Хранилище в памяти: данные пропадут при остановке")
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// ensureAssociation проверяет системный счёт ассоциации. В пустой базе
// он создаётся; если полученный ID не совпал с настройкой, запуск
// прерывается, чтобы не проводить операции на чужой счёт.
func ensureAssociation(ctx context.Context, store storage, id int64) error {
	_, err := store.GetAccount(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrAccountNotFound) {
		return fmt.Errorf("ошибка проверки счёта ассоциации: %w", err)
	}

	a := &accounts.Account{
		Username:  "association",
		FirstName: "Association",
		IsActive:  true,
	}
	if err := store.CreateAccount(ctx, a); err != nil {
		return fmt.Errorf("ошибка создания счёта ассоциации: %w", err)
	}
	if a.ID != id {
		return fmt.Errorf("счёт ассоциации создан с ID %d, укажите ASSOCIATION_ACCOUNT_ID=%d", a.ID, a.ID)
	}
	log.WithField("account_id", a.ID).Info("Создан счёт ассоциации")
	return nil
}
