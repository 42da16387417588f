// Package validation содержит функции валидации входных данных.
package validation

import "github.com/mmeshcher/diamondshop-system/internal/model"

// IsValidPackage проверяет, входит ли размер пакета алмазов в фиксированный
// набор допустимых.
func IsValidPackage(diamondAmount int64) bool {
	for _, p := range model.DiamondPackages {
		if diamondAmount == p {
			return true
		}
	}
	return false
}

// IsValidQuantity проверяет количество пакетов в заявке.
func IsValidQuantity(quantity int64) bool {
	return quantity >= model.MinQuantity && quantity <= model.MaxQuantity
}

// PointsUsed вычисляет стоимость заявки в баллах и проверяет верхнюю границу.
func PointsUsed(diamondAmount, quantity int64) (int64, bool) {
	points := diamondAmount * quantity
	if points <= 0 || points > model.MaxPointsUsed {
		return 0, false
	}
	return points, true
}
