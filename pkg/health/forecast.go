package health

import (
	"time"
)

// Forecast projects daily order counts for the next horizon days using a
// moving average over the trailing 28 full calendar days. With
// micro-seasonality enabled the projection is modulated by per-weekday
// factors learned from the same window; disabled, every projected day gets
// the flat average.
func (e *Engine) Forecast(orders []Order, horizon int) []float64 {
	if horizon <= 0 {
		return nil
	}
	today := startOfDay(e.now().UTC())

	const window = 28
	daily := make([]int, window) // daily[i] counts orders i+1 days back
	for _, o := range orders {
		diff := int(today.Sub(startOfDay(o.TS.UTC())).Hours() / 24)
		if diff >= 1 && diff <= window {
			daily[diff-1]++
		}
	}

	total := 0
	for _, n := range daily {
		total += n
	}
	average := float64(total) / window

	out := make([]float64, horizon)
	if !e.cfg.EnableMicroSeasonality || average == 0 {
		for i := range out {
			out[i] = average
		}
		return out
	}

	// Per-weekday factor: the weekday's mean over the window divided by the
	// overall mean.
	weekdaySum := make(map[time.Weekday]float64)
	weekdayDays := make(map[time.Weekday]int)
	for i, n := range daily {
		wd := today.AddDate(0, 0, -(i + 1)).Weekday()
		weekdaySum[wd] += float64(n)
		weekdayDays[wd]++
	}

	for i := range out {
		wd := today.AddDate(0, 0, i+1).Weekday()
		factor := 1.0
		if days := weekdayDays[wd]; days > 0 {
			factor = (weekdaySum[wd] / float64(days)) / average
		}
		out[i] = average * factor
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
