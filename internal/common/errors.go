// Package common: errors.go определяет ошибки, общие для всех модулей учёта.
// Обработчики различают их через errors.Is и отдают клиенту понятную причину.
package common

import "errors"

// Ошибки проверки входных данных
var (
	// ErrInvalidAmount: сумма должна быть положительной
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrSelfTransfer: отправитель и получатель совпадают
	ErrSelfTransfer = errors.New("нельзя переводить деньги самому себе")
	// ErrInvalidWeight: вес должен быть неотрицательным целым
	ErrInvalidWeight = errors.New("вес не может быть отрицательным")
	// ErrZeroTotalWeight: у события нет участников с ненулевым весом
	ErrZeroTotalWeight = errors.New("суммарный вес участников равен нулю")
	// ErrRechargeOutOfRange: сумма пополнения вне разрешённого диапазона
	ErrRechargeOutOfRange = errors.New("сумма пополнения вне допустимого диапазона")
	// ErrInvalidChequeNumber: номер чека должен состоять из 7 цифр
	ErrInvalidChequeNumber = errors.New("номер чека должен состоять из 7 цифр")
	// ErrInvalidInstrument: платёжный документ заполнен некорректно
	ErrInvalidInstrument = errors.New("некорректный платёжный документ")
	// ErrInvalidDeadline: срок регистрации позже даты события
	ErrInvalidDeadline = errors.New("срок регистрации должен быть не позже даты события")
	// ErrInvalidInput: прочие ошибки заполнения (пустые поля, неизвестные значения)
	ErrInvalidInput = errors.New("некорректные данные")
	// ErrUsernameTaken: username уникален
	ErrUsernameTaken = errors.New("username уже занят")
)

// Ошибки сверки
var (
	// ErrReconciliation: сумма платёжных документов не совпадает с суммой операции
	ErrReconciliation = errors.New("сумма платёжных документов не совпадает с суммой операции")
)

// Ошибки состояния
var (
	// ErrEventDone: событие уже завершено, изменения запрещены
	ErrEventDone = errors.New("событие уже завершено")
	// ErrMovementDone: проведённую операцию нельзя изменить или удалить
	ErrMovementDone = errors.New("операция уже проведена")
	// ErrSelfRegistrationDisabled: самостоятельная регистрация выключена
	ErrSelfRegistrationDisabled = errors.New("самостоятельная регистрация на событие закрыта")
	// ErrRegistrationClosed: срок регистрации истёк
	ErrRegistrationClosed = errors.New("срок регистрации истёк")
)

// Ошибки поиска
var (
	ErrAccountNotFound    = errors.New("счёт не найден")
	ErrEventNotFound      = errors.New("событие не найдено")
	ErrMovementNotFound   = errors.New("операция не найдена")
	ErrInstrumentNotFound = errors.New("платёжный документ не найден")
)

// ErrDuplicateExternalID: платёж с таким внешним идентификатором уже есть.
// Для отправителя уведомления это не ошибка: повторная доставка подтверждается.
var ErrDuplicateExternalID = errors.New("платёж с таким внешним идентификатором уже записан")

// ErrTransient: конфликт блокировок не разрешился за отведённые попытки.
// Операцию можно безопасно повторить целиком.
var ErrTransient = errors.New("временная ошибка, повторите операцию")

// ErrBalanceMismatch: баланс счёта не совпадает с суммой проведённых операций.
var ErrBalanceMismatch = errors.New("баланс не совпадает с журналом операций")
