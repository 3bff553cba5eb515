// Package common: pluralize.go склоняет существительные после числительных.
package common

import "fmt"

// Pluralize выбирает форму слова для n по правилам русского языка.
//
// Примеры:
//
//	Pluralize(1, "счёт", "счёта", "счетов")  → "счёт"
//	Pluralize(3, "счёт", "счёта", "счетов")  → "счёта"
//	Pluralize(11, "счёт", "счёта", "счетов") → "счетов"
func Pluralize(n int64, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	if n%100 >= 11 && n%100 <= 14 {
		return many
	}
	switch n % 10 {
	case 1:
		return one
	case 2, 3, 4:
		return few
	default:
		return many
	}
}

// CountOf возвращает "n форма", например "2 расхождения".
func CountOf(n int64, one, few, many string) string {
	return fmt.Sprintf("%d %s", n, Pluralize(n, one, few, many))
}
