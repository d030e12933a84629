package circuitbreaker

import "time"

// Per-backend breaker presets. The thresholds follow the backend's
// failure profile: the Redis conversation store sits on the synchronous
// request path and must trip fast; Postgres history writes are queued
// and tolerate longer outages; outbound search HTTP flaps more than
// either, so it reopens quickly.

func redisBreakerConfig() Config {
	return Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

func databaseBreakerConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

func httpBreakerConfig() Config {
	return Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}
