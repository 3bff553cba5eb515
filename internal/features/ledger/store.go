package ledger

import (
	"context"
	"time"

	"borgia.ae/ledger/internal/money"
)

// Store: хранилище журнала. Все методы выполняются в транзакции,
// переданной через ctx (common.Transactor), если она есть.
type Store interface {
	// LockAccounts блокирует строки счетов в порядке возрастания ID
	// и возвращает их балансы. Нет счёта: common.ErrAccountNotFound.
	LockAccounts(ctx context.Context, ids ...int64) (map[int64]money.Money, error)
	// AdjustBalance прибавляет delta к балансу счёта.
	AdjustBalance(ctx context.Context, accountID int64, delta money.Money) error
	// AccountBalances возвращает балансы всех счетов.
	AccountBalances(ctx context.Context) (map[int64]money.Money, error)

	// InsertInstrument сохраняет документ и заполняет ID. Повтор внешнего
	// идентификатора платежа шлюза: common.ErrDuplicateExternalID.
	InsertInstrument(ctx context.Context, in *Instrument) error
	// FindGatewayInstrument ищет платёж шлюза по внешнему идентификатору.
	FindGatewayInstrument(ctx context.Context, externalID string) (*Instrument, error)
	// GetInstrument возвращает common.ErrInstrumentNotFound; forUpdate блокирует строку.
	GetInstrument(ctx context.Context, id int64, forUpdate bool) (*Instrument, error)
	// MarkInstrumentCashed ставит отметку об инкассации.
	MarkInstrumentCashed(ctx context.Context, id int64, at time.Time) error

	// InsertMovement сохраняет операцию со строками и привязывает к ней
	// уже сохранённые документы m.Instruments.
	InsertMovement(ctx context.Context, m *Movement) error
	// GetMovement возвращает операцию; forUpdate блокирует её строку.
	GetMovement(ctx context.Context, id int64, forUpdate bool) (*Movement, error)
	// ListMovements возвращает последние операции счёта, новые первыми.
	ListMovements(ctx context.Context, accountID int64, limit int) ([]*Movement, error)
	// MarkMovementDone переводит операцию в проведённые.
	MarkMovementDone(ctx context.Context, id int64) error
	// DeleteMovement удаляет непроведённую операцию.
	DeleteMovement(ctx context.Context, id int64) error
	// SumDoneMovements возвращает сумму проведённых операций для счёта
	// (получатель плюс, отправитель минус).
	SumDoneMovements(ctx context.Context, accountID int64) (money.Money, error)
}
