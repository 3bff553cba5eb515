package money

import "github.com/shopspring/decimal"

// Rounding задаёт способ отбрасывания разрядов в Quantize.
type Rounding int

const (
	HalfUp   Rounding = iota // половина от нуля
	HalfEven                 // банковское округление
	Ceiling                  // к +бесконечности
	Floor                    // к -бесконечности
)

// Quantize округляет d до places знаков после запятой.
func Quantize(d decimal.Decimal, places int32, mode Rounding) decimal.Decimal {
	switch mode {
	case HalfEven:
		return d.RoundBank(places)
	case Ceiling:
		return d.RoundCeil(places)
	case Floor:
		return d.RoundFloor(places)
	default:
		return d.Round(places)
	}
}

// ceilToCent сначала приводит промежуточное значение к WorkScale,
// затем округляет вверх до цента. Комиссию платёжного шлюза
// никогда не округляем вниз.
func ceilToCent(d decimal.Decimal) Money {
	d = Quantize(d, WorkScale, HalfEven)
	return Money{amount: Quantize(d, Scale, Ceiling)}
}
