// Package money реализует денежный тип с фиксированной точкой.
// money.go: Money хранит сумму в shopspring/decimal, всегда с двумя знаками
// после запятой. Двоичные float не участвуют ни в одном расчёте.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale: число знаков после запятой у хранимой суммы.
const Scale = 2

// WorkScale: точность промежуточных вычислений (комиссии, доли).
const WorkScale = 4

// ErrTooPrecise возвращается, если во входной строке больше двух знаков после запятой.
var ErrTooPrecise = errors.New("у суммы больше двух знаков после запятой")

// Money: знаковая сумма в евро ровно с двумя знаками после запятой.
// Нулевое значение равно 0.00.
type Money struct {
	amount decimal.Decimal
}

// Zero равен 0.00.
var Zero = Money{}

// New создаёт сумму из количества центов.
func New(cents int64) Money {
	return Money{amount: decimal.New(cents, -Scale)}
}

// FromDecimal округляет d до цента (половина вверх).
func FromDecimal(d decimal.Decimal) Money {
	return Money{amount: d.Round(Scale)}
}

// FromFloat переводит значение из старых записей, где сумма хранилась во float.
// Только для импорта: значение округляется до цента один раз.
func FromFloat(f float64) Money {
	return FromDecimal(decimal.NewFromFloat(f))
}

// Parse читает сумму из формы или из запроса: "12.5", "12,50", "-3".
// Больше двух знаков после запятой: ошибка, а не тихое округление.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(strings.Replace(s, ",", ".", 1))
	if s == "" {
		return Zero, fmt.Errorf("пустая сумма")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("некорректная сумма %q: %w", s, err)
	}
	if !d.Equal(d.Round(Scale)) {
		return Zero, fmt.Errorf("%q: %w", s, ErrTooPrecise)
	}
	return FromDecimal(d), nil
}

// MustParse: Parse для констант и тестов.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal возвращает значение как decimal.Decimal.
func (m Money) Decimal() decimal.Decimal { return m.amount }

// Cents возвращает сумму в центах.
func (m Money) Cents() int64 { return m.amount.Shift(Scale).IntPart() }

func (m Money) Add(o Money) Money { return Money{amount: m.amount.Add(o.amount)} }
func (m Money) Sub(o Money) Money { return Money{amount: m.amount.Sub(o.amount)} }
func (m Money) Neg() Money        { return Money{amount: m.amount.Neg()} }
func (m Money) Abs() Money        { return Money{amount: m.amount.Abs()} }

// MulInt умножает на целое число без потери точности.
func (m Money) MulInt(n int64) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(n))}
}

// MulRatio возвращает m * num / den, округлённое до цента (половина вверх).
// Округление выполняется ровно один раз.
func (m Money) MulRatio(num, den int64) (Money, error) {
	if den == 0 {
		return Zero, errors.New("знаменатель равен нулю")
	}
	p := m.amount.Mul(decimal.NewFromInt(num))
	return Money{amount: p.DivRound(decimal.NewFromInt(den), Scale)}, nil
}

func (m Money) IsZero() bool       { return m.amount.IsZero() }
func (m Money) IsPositive() bool   { return m.amount.IsPositive() }
func (m Money) IsNegative() bool   { return m.amount.IsNegative() }
func (m Money) Cmp(o Money) int    { return m.amount.Cmp(o.amount) }
func (m Money) Equal(o Money) bool { return m.amount.Equal(o.amount) }

// LessThan сообщает m < o.
func (m Money) LessThan(o Money) bool { return m.amount.LessThan(o.amount) }

// String форматирует ровно с двумя знаками: "12.30".
func (m Money) String() string { return m.amount.StringFixed(Scale) }

// Sum складывает суммы.
func Sum(ms ...Money) Money {
	total := Zero
	for _, m := range ms {
		total = total.Add(m)
	}
	return total
}

// MarshalText реализует encoding.TextMarshaler.
func (m Money) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText реализует encoding.TextUnmarshaler.
// Через него envconfig читает комиссии и пороги из окружения.
func (m *Money) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalJSON пишет сумму JSON-строкой, чтобы не терять точность у клиента.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON принимает и "12.30", и 12.30.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*m = Zero
		return nil
	}
	return m.UnmarshalText([]byte(s))
}

// Scan реализует sql.Scanner для колонок NUMERIC.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("ошибка чтения суммы: %w", err)
	}
	*m = FromDecimal(d)
	return nil
}

// Value реализует driver.Valuer.
func (m Money) Value() (driver.Value, error) { return m.String(), nil }
