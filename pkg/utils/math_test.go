package utils

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name             string
		value, min, max  float64
		want             float64
	}{
		{"within range", 5, 1, 10, 5},
		{"below min", 0.5, 1, 10, 1},
		{"above max", 15, 1, 10, 10},
		{"at min", 1, 1, 10, 1},
		{"at max", 10, 1, 10, 10},
		{"negative", -5, -10, -1, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp(tt.value, tt.min, tt.max); got != tt.want {
				t.Errorf("Clamp(%v, %v, %v) = %v, want %v", tt.value, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		lotSize float64
		want    float64
	}{
		{"basic", 0.123456, 0.001, 0.123},
		{"round down", 1.999, 0.01, 1.99},
		{"whole lots", 100.5, 1.0, 100.0},
		{"zero lot size", 0.123, 0, 0.123},
		{"negative lot size", 0.123, -1, 0.123},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToLotSize(tt.value, tt.lotSize)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RoundToLotSize(%v, %v) = %v, want %v", tt.value, tt.lotSize, got, tt.want)
			}
		})
	}
}

func TestRoundToLotSizeUp(t *testing.T) {
	got := RoundToLotSizeUp(0.1001, 0.01)
	if math.Abs(got-0.11) > 1e-9 {
		t.Errorf("RoundToLotSizeUp(0.1001, 0.01) = %v, want 0.11", got)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{-50, -20, -10, 0, 5, 10, 15, 20, 30, 100}

	tests := []struct {
		name string
		p    float64
		want float64
	}{
		{"min", 0, -50},
		{"max", 1, 100},
		{"median", 0.5, 7.5}, // между 5 и 10
		{"p05", 0.05, -36.5}, // интерполяция между -50 и -20
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(sorted, tt.p)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestPercentile_EdgeCases(t *testing.T) {
	if got := Percentile(nil, 0.5); got != 0 {
		t.Errorf("пустая выборка: %v, want 0", got)
	}
	if got := Percentile([]float64{42}, 0.5); got != 42 {
		t.Errorf("один элемент: %v, want 42", got)
	}
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(mean-5) > 1e-9 {
		t.Errorf("mean = %v, want 5", mean)
	}
	// Выборочное std (n-1): sqrt(32/7)
	want := math.Sqrt(32.0 / 7.0)
	if math.Abs(std-want) > 1e-9 {
		t.Errorf("std = %v, want %v", std, want)
	}
}

func TestMeanStd_EdgeCases(t *testing.T) {
	if mean, std := MeanStd(nil); mean != 0 || std != 0 {
		t.Errorf("пустая выборка: mean=%v std=%v", mean, std)
	}
	if mean, std := MeanStd([]float64{3}); mean != 3 || std != 0 {
		t.Errorf("один элемент: mean=%v std=%v", mean, std)
	}
}
