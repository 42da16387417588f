// Package reward вычисляет еженедельное вознаграждение реселлера.
package reward

// band описывает одну ступень прогрессивной шкалы: к части продаж выше
// Threshold применяется ставка RateBP (в базисных пунктах, 100 = 1%).
type band struct {
	Threshold int64
	RateBP    int64
}

// Шкала маржинальная: каждой ставкой облагается только часть продаж,
// попавшая в соответствующую полосу.
var bands = []band{
	{Threshold: 4_500, RateBP: 100},
	{Threshold: 18_000, RateBP: 160},
	{Threshold: 45_000, RateBP: 210},
	{Threshold: 90_000, RateBP: 260},
}

// Threshold — минимальный объём продаж за неделю, с которого начисляется
// вознаграждение.
const Threshold = 4_500

// Compute возвращает вознаграждение в сотых долях балла за weeklySales
// проданных алмазов. Результат округлён до двух знаков по правилу
// «половина вверх». Функция монотонна и непрерывна по weeklySales;
// ниже первого порога возвращается ровно ноль.
func Compute(weeklySales int64) int64 {
	if weeklySales <= 0 {
		return 0
	}

	var totalBP int64
	for i, b := range bands {
		if weeklySales <= b.Threshold {
			break
		}

		upper := weeklySales
		if i+1 < len(bands) && upper > bands[i+1].Threshold {
			upper = bands[i+1].Threshold
		}

		totalBP += (upper - b.Threshold) * b.RateBP
	}

	// Базисные пункты в сотые доли балла, половина вверх.
	return (totalBP + 50) / 100
}

// Delta возвращает полное вознаграждение за weeklySales и недоначисленную
// часть относительно уже выплаченного grantedCents. Вознаграждение за неделю
// может только расти вместе с продажами: если рост не догнал выплаченное,
// дельта равна нулю и доначислять нечего. Ниже порога обе суммы нулевые.
func Delta(weeklySales, grantedCents int64) (totalCents, deltaCents int64) {
	if weeklySales < Threshold {
		return 0, 0
	}

	totalCents = Compute(weeklySales)

	deltaCents = totalCents - grantedCents
	if deltaCents < 0 {
		deltaCents = 0
	}

	return totalCents, deltaCents
}
