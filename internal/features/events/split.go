package events

import (
	"borgia.ae/ledger/internal/common"
	"borgia.ae/ledger/internal/money"
)

// Share: доля участника.
type Share struct {
	AccountID int64       `json:"account_id"`
	Weight    int         `json:"weight"`
	Amount    money.Money `json:"amount"`
}

func totalParticipation(weights []Weight) (int64, error) {
	var total int64
	for _, w := range weights {
		if w.Participation < 0 {
			return 0, common.ErrInvalidWeight
		}
		total += int64(w.Participation)
	}
	if total == 0 {
		return 0, common.ErrZeroTotalWeight
	}
	return total, nil
}

// SplitByTotal делит общую цену: доля = round(P * w / W, 2), половина вверх.
// Остаток от округления не перераспределяется, сумма долей может
// отличаться от P не больше чем на цент на участника.
func SplitByTotal(total money.Money, weights []Weight) ([]Share, error) {
	if total.IsNegative() {
		return nil, common.ErrInvalidAmount
	}
	w, err := totalParticipation(weights)
	if err != nil {
		return nil, err
	}
	shares := make([]Share, 0, len(weights))
	for _, u := range weights {
		if u.Participation == 0 {
			continue
		}
		amount, err := total.MulRatio(int64(u.Participation), w)
		if err != nil {
			return nil, err
		}
		shares = append(shares, Share{AccountID: u.AccountID, Weight: u.Participation, Amount: amount})
	}
	return shares, nil
}

// SplitByUnitPrice умножает цену единицы веса на вес участника.
func SplitByUnitPrice(unit money.Money, weights []Weight) ([]Share, error) {
	if unit.IsNegative() {
		return nil, common.ErrInvalidAmount
	}
	if _, err := totalParticipation(weights); err != nil {
		return nil, err
	}
	shares := make([]Share, 0, len(weights))
	for _, u := range weights {
		if u.Participation == 0 {
			continue
		}
		shares = append(shares, Share{
			AccountID: u.AccountID,
			Weight:    u.Participation,
			Amount:    unit.MulInt(int64(u.Participation)),
		})
	}
	return shares, nil
}

// PriceOf возвращает ожидаемую цену для участника по текущим весам.
// Без цены, без участия или при нулевом суммарном весе это 0.
func PriceOf(e *Event, weights []Weight, accountID int64) money.Money {
	if e.Price == nil {
		return money.Zero
	}
	var shares []Share
	var err error
	if e.PaymentByPonderation {
		shares, err = SplitByUnitPrice(*e.Price, weights)
	} else {
		shares, err = SplitByTotal(*e.Price, weights)
	}
	if err != nil {
		return money.Zero
	}
	for _, s := range shares {
		if s.AccountID == accountID {
			return s.Amount
		}
	}
	return money.Zero
}
