// Package pricemath holds the P&L and time arithmetic shared by the
// detectors and the executor.
package pricemath

import (
	"math"
	"time"
)

// PnL is the realized result of a closed single-leg position.
type PnL struct {
	USD float64
	Pct float64
}

// ComputePnL returns (exit-entry)*size and the percentage move.
func ComputePnL(entryPrice, exitPrice, size float64) PnL {
	pnl := (exitPrice - entryPrice) * size
	var pct float64
	if entryPrice > 0 {
		pct = (exitPrice/entryPrice - 1) * 100
	}
	return PnL{USD: pnl, Pct: pct}
}

// MultiLegPnL is sum(exits) - sum(entries) - fees.
func MultiLegPnL(entries, exits []float64, sizes []float64, fees float64) float64 {
	var total float64
	for i := range entries {
		size := 1.0
		if i < len(sizes) {
			size = sizes[i]
		}
		exit := 0.0
		if i < len(exits) {
			exit = exits[i]
		}
		total += (exit - entries[i]) * size
	}
	return total - fees
}

// PositionSize converts a portfolio fraction into units at the given price,
// floored at minSize units.
func PositionSize(balance, percentOfBalance, price, minSize float64) float64 {
	if price <= 0 {
		return minSize
	}
	size := balance * percentOfBalance / price
	return math.Max(size, minSize)
}

// AnnualizedROI scales a per-unit profit on a cost basis to a yearly rate
// over the holding period.
func AnnualizedROI(profit, cost float64, daysUntilClose float64) float64 {
	if cost <= 0 || daysUntilClose <= 0 {
		return 0
	}
	return (profit / cost) * (365.0 / daysUntilClose)
}

// HoursUntil returns the hours between now and t; negative when past.
func HoursUntil(t time.Time) float64 {
	return time.Until(t).Hours()
}

// DaysUntil returns the days between now and t; never below zero.
func DaysUntil(t time.Time) float64 {
	days := time.Until(t).Hours() / 24
	if days < 0 {
		return 0
	}
	return days
}

// RoundPrice rounds to the venue's 3-decimal price convention.
func RoundPrice(price float64) float64 {
	return math.Round(price*1000) / 1000
}

// RoundSize rounds to the venue's 2-decimal size convention.
func RoundSize(size float64) float64 {
	return math.Round(size*100) / 100
}

// RoundToTick rounds price down to a multiple of tickSize.
func RoundToTick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return RoundPrice(price)
	}
	return math.Floor(price/tickSize) * tickSize
}
