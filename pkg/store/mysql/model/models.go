package model

// All returns every table owned by the telemetry store, in migration order
func All() []interface{} {
	return []interface{}{
		&ServiceHealth{},
		&SystemResourceSample{},
		&RequestLog{},
		&Alert{},
	}
}
