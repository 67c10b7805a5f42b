package utils

import (
	"math"
)

// math.go - математические утилиты для торговых операций
//
// Все функции являются чистыми (pure functions) без побочных эффектов.

// Clamp ограничивает значение диапазоном [min, max].
//
// Используется в sizing: итоговый объём позиции зажимается между
// минимальным лотом и потолком риск-бюджета.
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Округление вниз безопаснее для торговли: не превысим доступные
// средства и риск-бюджет.
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	// Допуск на ошибку представления: 0.8/0.01 не должен давать 79 шагов
	return math.Floor(value/lotSize+1e-9) * lotSize
}

// RoundToLotSizeUp округляет значение ВВЕРХ до ближайшего кратного lotSize.
//
// Используется когда нужно гарантировать минимальный объём.
func RoundToLotSizeUp(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Ceil(value/lotSize-1e-9) * lotSize
}

// Percentile возвращает p-й перцентиль (0.0-1.0) отсортированной по
// возрастанию выборки. Линейная интерполяция между соседними точками.
//
// Используется для исторического VaR: перцентиль распределения
// дневных PnL на уровне (1 - confidence).
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// MeanStd возвращает среднее и стандартное отклонение выборки.
//
// Стандартное отклонение выборочное (делитель n-1).
// Для выборки меньше 2 элементов возвращает (mean, 0).
func MeanStd(values []float64) (mean, std float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)

	if n < 2 {
		return mean, 0
	}

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(n-1))
	return mean, std
}
