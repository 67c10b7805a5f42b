package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timewindow.go - торговые сессии и blackout-окна
//
// Session gate пропускает сигналы только внутри настроенных торговых
// окон и вне blackout-интервалов (плановые новости, ролловер).
// Все расчёты в UTC.

// TimeWindow - окно внутри суток [From, To) в минутах от полуночи UTC
//
// Окно через полночь (From > To) допустимо: 22:00-02:00.
type TimeWindow struct {
	From int // минуты от полуночи UTC
	To   int
}

// Contains проверяет попадание момента времени в окно
func (w TimeWindow) Contains(t time.Time) bool {
	minutes := t.UTC().Hour()*60 + t.UTC().Minute()
	if w.From == w.To {
		return false // пустое окно
	}
	if w.From < w.To {
		return minutes >= w.From && minutes < w.To
	}
	// Окно через полночь
	return minutes >= w.From || minutes < w.To
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.From/60, w.From%60, w.To/60, w.To%60)
}

// ParseTimeWindow разбирает окно в формате "HH:MM-HH:MM"
func ParseTimeWindow(s string) (TimeWindow, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return TimeWindow{}, fmt.Errorf("invalid time window %q: want HH:MM-HH:MM", s)
	}

	from, err := parseMinutes(parts[0])
	if err != nil {
		return TimeWindow{}, fmt.Errorf("invalid time window %q: %w", s, err)
	}
	to, err := parseMinutes(parts[1])
	if err != nil {
		return TimeWindow{}, fmt.Errorf("invalid time window %q: %w", s, err)
	}

	return TimeWindow{From: from, To: to}, nil
}

// ParseTimeWindows разбирает список окон через запятую:
// "08:00-12:00,13:00-17:00"
func ParseTimeWindows(s string) ([]TimeWindow, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var windows []TimeWindow
	for _, part := range strings.Split(s, ",") {
		w, err := ParseTimeWindow(part)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, nil
}

func parseMinutes(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hours %q", parts[0])
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minutes %q", parts[1])
	}

	return hours*60 + minutes, nil
}

// InAnyWindow проверяет попадание времени хотя бы в одно окно
//
// Пустой список окон трактуется как "всегда открыто":
// отсутствие настройки не должно блокировать торговлю.
func InAnyWindow(t time.Time, windows []TimeWindow) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// InAnyBlackout проверяет попадание времени в blackout-интервал
//
// Пустой список = blackout'ов нет.
func InAnyBlackout(t time.Time, blackouts []TimeWindow) bool {
	for _, w := range blackouts {
		if w.Contains(t) {
			return true
		}
	}
	return false
}
