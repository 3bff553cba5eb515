package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"borgia.ae/ledger/internal/common"
)

// Коды SQLSTATE, после которых транзакцию можно повторить.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateUniqueViolation      = "23505"
	sqlStateForeignKeyViolation  = "23503"
)

// TxOptions: ограничения транзакций.
type TxOptions struct {
	Timeout     time.Duration // общее время одной попытки
	LockTimeout time.Duration // ожидание блокировки строки
	Retries     int           // повторов после конфликта
}

// Store: хранилище PostgreSQL. Реализует common.Transactor и интерфейсы
// хранилищ accounts, ledger, events и audit.
type Store struct {
	pool *pgxpool.Pool
	opts TxOptions
}

// NewStore создаёт хранилище поверх пула.
func NewStore(pool *pgxpool.Pool, opts TxOptions) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Store{pool: pool, opts: opts}
}

type txKey struct{}

// WithinTx выполняет fn в одной транзакции. Вложенный вызов переиспользует
// транзакцию из ctx. Сериализационные конфликты, дедлоки и таймауты
// блокировок повторяются opts.Retries раз, затем возвращается common.ErrTransient.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			log.WithFields(log.Fields{
				"attempt": attempt,
				"error":   err,
			}).Debug("Повтор транзакции после конфликта")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*attempt) * 10 * time.Millisecond):
			}
		}
		err = s.runTx(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", common.ErrTransient, err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	// SET LOCAL не принимает параметры, значение: целое число миллисекунд
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.opts.LockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("ошибка установки lock_timeout: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
		return true
	default:
		return false
	}
}

// isCode сообщает, что err является ошибкой PostgreSQL с кодом code.
func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
