package health

import (
	"math"
	"time"

	"opswatch/pkg/store/mysql/model"
)

// applyProbe derives the rolling fields of rec from the previous record and one
// new observation.
func applyProbe(rec, prev *model.ServiceHealth, healthy bool, responseTime float64, now time.Time) {
	rec.CheckCount = prev.CheckCount + 1
	rec.AvgResponseTime = (prev.AvgResponseTime*float64(prev.CheckCount) + responseTime) / float64(rec.CheckCount)
	if prev.CheckCount == 0 {
		rec.MinResponseTime = responseTime
		rec.MaxResponseTime = responseTime
	} else {
		rec.MinResponseTime = math.Min(prev.MinResponseTime, responseTime)
		rec.MaxResponseTime = math.Max(prev.MaxResponseTime, responseTime)
	}

	rec.ErrorCount = prev.ErrorCount
	if !healthy {
		rec.ErrorCount++
		rec.Status = model.HealthStatusError
		rec.UptimeSeconds = 0
		return
	}

	rec.Status = model.HealthStatusHealthy
	rec.LastError = ""
	if prev.Status == model.HealthStatusHealthy && prev.LastHealthCheck != nil && now.After(*prev.LastHealthCheck) {
		rec.UptimeSeconds = prev.UptimeSeconds + int64(now.Sub(*prev.LastHealthCheck).Seconds())
	}
}
