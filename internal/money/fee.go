package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ErrFeeRatio: процентная комиссия забирает 100% и больше.
var ErrFeeRatio = errors.New("процентная комиссия должна быть меньше 100%")

// FeeSchedule описывает, сколько платёжный шлюз удерживает с оплаты картой:
//
//	fee = Tax * (Base + RatioPercent/100 * total)
//
// Нулевой Tax означает 1.
type FeeSchedule struct {
	Base         Money           // фиксированная часть
	RatioPercent decimal.Decimal // процент, 1.5 означает 1.5%
	Tax          decimal.Decimal // множитель (НДС на комиссию)
}

func (f FeeSchedule) tax() decimal.Decimal {
	if f.Tax.IsZero() {
		return decimal.NewFromInt(1)
	}
	return f.Tax
}

// TotalFor возвращает сумму списания с карты, после удержания комиссии
// с которой на счёт попадёт ровно recharge:
//
//	T = (R + Tax*Base) / (1 - Tax*RatioPercent/100)
//
// Результат округляется вверх до цента.
func (f FeeSchedule) TotalFor(recharge Money) (Money, error) {
	tax := f.tax()
	denom := decimal.NewFromInt(1).Sub(tax.Mul(f.RatioPercent).Div(hundred))
	if !denom.IsPositive() {
		return Zero, ErrFeeRatio
	}
	num := recharge.amount.Add(tax.Mul(f.Base.amount))
	return ceilToCent(num.DivRound(denom, 16)), nil
}

// FeeFromTotal возвращает комиссию, удержанную шлюзом с суммы total.
// Округление то же: вверх до цента.
func (f FeeSchedule) FeeFromTotal(total Money) Money {
	ratio := f.RatioPercent.Div(hundred).Mul(total.amount)
	return ceilToCent(f.tax().Mul(f.Base.amount.Add(ratio)))
}

// TotalWithFee: TotalFor без множителя.
func TotalWithFee(recharge, baseFee Money, ratioPercent decimal.Decimal) (Money, error) {
	return FeeSchedule{Base: baseFee, RatioPercent: ratioPercent}.TotalFor(recharge)
}

// FeeFromTotal: FeeSchedule.FeeFromTotal без множителя.
func FeeFromTotal(total, baseFee Money, ratioPercent decimal.Decimal) Money {
	return FeeSchedule{Base: baseFee, RatioPercent: ratioPercent}.FeeFromTotal(total)
}
