// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: ежедневное уведомление о низком
// балансе и ночную сверку балансов с журналом.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"borgia.ae/ledger/internal/audit"
	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/features/accounts"
	"borgia.ae/ledger/internal/features/ledger"
	"borgia.ae/ledger/internal/money"
)

// LowBalanceLister находит счета ниже порога.
type LowBalanceLister interface {
	LowBalance(ctx context.Context) ([]*accounts.Account, error)
	Threshold() money.Money
}

// Auditor сверяет балансы с журналом.
type Auditor interface {
	Audit(ctx context.Context) ([]ledger.Mismatch, error)
}

// NotifyFunc уведомляет владельца счёта о низком балансе.
type NotifyFunc func(ctx context.Context, a *accounts.Account, threshold money.Money) error

// Schedule: расписание задач в формате cron.
type Schedule struct {
	LowBalance string
	Audit      string
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron     *cron.Cron
	schedule Schedule
	accounts LowBalanceLister
	auditor  Auditor
	auditLog audit.Logger
	notify   NotifyFunc
}

// NewScheduler создаёт планировщик в часовом поясе ассоциации.
// notify == nil: уведомления только пишутся в лог.
func NewScheduler(loc *time.Location, schedule Schedule, accts LowBalanceLister, auditor Auditor, auditLog audit.Logger, notify NotifyFunc) *Scheduler {
	if auditLog == nil {
		auditLog = audit.Discard{}
	}
	if notify == nil {
		notify = logNotify
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		schedule: schedule,
		accounts: accts,
		auditor:  auditor,
		auditLog: auditLog,
		notify:   notify,
	}
}

// Start регистрирует задачи и запускает cron.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule.LowBalance, func() {
		log.Info("[CRON] Проверка низких балансов")
		if _, err := s.RunLowBalance(ctx); err != nil {
			log.WithError(err).Error("[CRON] Ошибка проверки балансов")
		}
	}); err != nil {
		return fmt.Errorf("некорректное расписание уведомлений %q: %w", s.schedule.LowBalance, err)
	}

	if _, err := s.cron.AddFunc(s.schedule.Audit, func() {
		log.Info("[CRON] Сверка балансов с журналом")
		if _, err := s.RunAudit(ctx); err != nil {
			log.WithError(err).Error("[CRON] Ошибка сверки")
		}
	}); err != nil {
		return fmt.Errorf("некорректное расписание сверки %q: %w", s.schedule.Audit, err)
	}

	s.cron.Start()
	log.WithField("location", s.cron.Location().String()).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт выполняющиеся задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// RunLowBalance уведомляет каждый счёт ниже порога. Ошибка уведомления
// одного счёта не мешает остальным. Возвращает число отправленных.
func (s *Scheduler) RunLowBalance(ctx context.Context) (int, error) {
	list, err := s.accounts.LowBalance(ctx)
	if err != nil {
		return 0, err
	}
	threshold := s.accounts.Threshold()
	sent := 0
	for _, a := range list {
		if err := s.notify(ctx, a, threshold); err != nil {
			log.WithError(err).WithField("account_id", a.ID).Warn("[CRON] Не удалось отправить уведомление")
			continue
		}
		sent++
	}
	log.WithFields(log.Fields{
		"found": len(list),
		"sent":  sent,
	}).Info("[CRON] Уведомления о низком балансе отправлены")
	return sent, nil
}

// RunAudit сверяет балансы и пишет каждое расхождение в аудит.
func (s *Scheduler) RunAudit(ctx context.Context) ([]ledger.Mismatch, error) {
	mismatches, err := s.auditor.Audit(ctx)
	if err != nil && !errors.Is(err, common.ErrBalanceMismatch) {
		return nil, err
	}
	for _, m := range mismatches {
		log.WithFields(log.Fields{
			"account_id": m.AccountID,
			"balance":    m.Balance.String(),
			"ledger":     m.Ledger.String(),
		}).Error("[CRON] Баланс расходится с журналом")
		s.auditLog.Log(audit.NewEvent(
			audit.WithType(audit.TypeBalanceMismatch),
			audit.WithMeta("account_id", strconv.FormatInt(m.AccountID, 10)),
			audit.WithData(m),
		))
	}
	if len(mismatches) == 0 {
		log.Info("[CRON] Балансы сходятся с журналом")
	} else {
		log.Errorf("[CRON] Сверка нашла %s", common.CountOf(int64(len(mismatches)), "расхождение", "расхождения", "расхождений"))
	}
	return mismatches, nil
}

func logNotify(_ context.Context, a *accounts.Account, threshold money.Money) error {
	log.WithFields(log.Fields{
		"account_id": a.ID,
		"username":   a.Username,
		"email":      a.Email,
		"balance":    common.FormatSigned(a.Balance),
		"threshold":  common.FormatMoney(threshold),
	}).Warn("Баланс ниже порога")
	return nil
}
