// Package period вычисляет границы отчётной недели продаж.
//
// Неделя начинается в четверг в 21:30 по времени Asia/Dhaka и длится ровно
// семь суток. Граница всегда вычисляется в фиксированном часовом поясе,
// независимо от локального пояса процесса: от пояса зависят и день недели,
// и час, с которыми сравнивается текущий момент.
package period

import "time"

// Зона фиксирована, чтобы не зависеть от tzdata на хосте.
var location = time.FixedZone("Asia/Dhaka", 6*3600)

const (
	anchorWeekday = time.Thursday
	anchorHour    = 21
	anchorMinute  = 30
)

// Location возвращает фиксированный часовой пояс отчётных недель.
func Location() *time.Location {
	return location
}

// Current возвращает границы [start, end) отчётной недели, в которую попадает
// момент now. end всегда равен start плюс семь суток.
func Current(now time.Time) (start, end time.Time) {
	t := now.In(location)

	daysBack := (int(t.Weekday()) - int(anchorWeekday) + 7) % 7
	start = time.Date(t.Year(), t.Month(), t.Day()-daysBack, anchorHour, anchorMinute, 0, 0, location)

	// В сам четверг до 21:30 действует неделя, начавшаяся в прошлый четверг.
	if t.Before(start) {
		start = start.AddDate(0, 0, -7)
	}

	return start, start.AddDate(0, 0, 7)
}

// SnapForward возвращает ближайшее начало отчётной недели, не раньше d.
// Используется для явного указания исторической недели: дата, не попадающая
// на якорь, сдвигается вперёд к следующему четвергу 21:30.
func SnapForward(d time.Time) time.Time {
	start, _ := Current(d)
	if start.Equal(d.In(location)) {
		return start
	}
	return start.AddDate(0, 0, 7)
}
