package utils

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, hhmm string) time.Time {
	t.Helper()
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		t.Fatalf("bad time %q: %v", hhmm, err)
	}
	return time.Date(2024, 3, 15, parsed.Hour(), parsed.Minute(), 0, 0, time.UTC)
}

func TestParseTimeWindow(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TimeWindow
		wantErr bool
	}{
		{"basic", "08:00-17:00", TimeWindow{From: 480, To: 1020}, false},
		{"overnight", "22:00-02:00", TimeWindow{From: 1320, To: 120}, false},
		{"with spaces", " 09:30-16:00 ", TimeWindow{From: 570, To: 960}, false},
		{"missing dash", "08:00", TimeWindow{}, true},
		{"bad hours", "25:00-17:00", TimeWindow{}, true},
		{"bad minutes", "08:61-17:00", TimeWindow{}, true},
		{"garbage", "morning-evening", TimeWindow{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeWindow(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ожидалась ошибка для %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseTimeWindow(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTimeWindows(t *testing.T) {
	windows, err := ParseTimeWindows("08:00-12:00,13:00-17:00")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("окон = %d, want 2", len(windows))
	}

	// Пустая строка = нет окон
	windows, err = ParseTimeWindows("")
	if err != nil || windows != nil {
		t.Errorf("пустая строка: windows=%v err=%v", windows, err)
	}
}

func TestTimeWindow_Contains(t *testing.T) {
	day := TimeWindow{From: 480, To: 1020}      // 08:00-17:00
	overnight := TimeWindow{From: 1320, To: 120} // 22:00-02:00

	tests := []struct {
		name   string
		window TimeWindow
		at     string
		want   bool
	}{
		{"day inside", day, "12:00", true},
		{"day at open", day, "08:00", true},
		{"day at close", day, "17:00", false}, // правая граница исключена
		{"day before", day, "07:59", false},
		{"overnight late", overnight, "23:30", true},
		{"overnight early", overnight, "01:00", true},
		{"overnight midday", overnight, "12:00", false},
		{"overnight at close", overnight, "02:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.window.Contains(mustTime(t, tt.at)); got != tt.want {
				t.Errorf("%v.Contains(%s) = %v, want %v", tt.window, tt.at, got, tt.want)
			}
		})
	}
}

func TestInAnyWindow(t *testing.T) {
	windows := []TimeWindow{
		{From: 480, To: 720},  // 08:00-12:00
		{From: 780, To: 1020}, // 13:00-17:00
	}

	if !InAnyWindow(mustTime(t, "09:00"), windows) {
		t.Error("09:00 внутри первого окна")
	}
	if InAnyWindow(mustTime(t, "12:30"), windows) {
		t.Error("12:30 в обеденном перерыве")
	}
	if !InAnyWindow(mustTime(t, "14:00"), windows) {
		t.Error("14:00 внутри второго окна")
	}

	// Нет окон = всегда открыто
	if !InAnyWindow(mustTime(t, "03:00"), nil) {
		t.Error("пустой список окон должен пропускать всегда")
	}
}

func TestInAnyBlackout(t *testing.T) {
	blackouts := []TimeWindow{{From: 870, To: 900}} // 14:30-15:00 (новости)

	if !InAnyBlackout(mustTime(t, "14:45"), blackouts) {
		t.Error("14:45 внутри blackout")
	}
	if InAnyBlackout(mustTime(t, "15:01"), blackouts) {
		t.Error("15:01 вне blackout")
	}
	if InAnyBlackout(mustTime(t, "12:00"), nil) {
		t.Error("пустой список blackout не должен срабатывать")
	}
}
