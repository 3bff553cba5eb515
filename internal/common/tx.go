package common

import "context"

// Transactor выполняет fn в одной транзакции хранилища.
//
// Транзакция передаётся через ctx: вложенный вызов WithinTx с таким ctx
// переиспользует внешнюю транзакцию. Если fn вернула ошибку, все записи
// откатываются. Реализации повторяют fn при конфликтах блокировок
// и в итоге возвращают ErrTransient.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
