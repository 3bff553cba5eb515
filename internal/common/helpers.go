// Package common содержит общие утилиты: даты в часовом поясе
// ассоциации, форматирование сумм, транзакционный контекст.
package common

import (
	"fmt"
	"time"

	"borgia.ae/ledger/internal/money"
)

// DefaultTimezone используется, если APP_TIMEZONE не задан или не загрузился.
const DefaultTimezone = "Europe/Paris"

// LoadLocation загружает часовой пояс, при ошибке возвращает UTC+1.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		// Если tzdata нет в образе, берём фиксированное смещение
		return time.FixedZone("CET", 1*60*60)
	}
	return loc
}

// Date отбрасывает время, оставляя полночь в поясе loc.
func Date(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// FormatMoney форматирует сумму для сообщений: "12.30 €".
func FormatMoney(m money.Money) string {
	return fmt.Sprintf("%s €", m)
}

// FormatSigned форматирует сумму со знаком: "+12.30 €", "-4.00 €".
func FormatSigned(m money.Money) string {
	if m.IsNegative() {
		return FormatMoney(m)
	}
	return "+" + FormatMoney(m)
}
