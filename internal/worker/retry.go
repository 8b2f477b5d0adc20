package worker

import (
	"math"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/models"
)

// RetryPolicy decides how far a failed item is pushed back and when it becomes terminal.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// PolicyFromConfig fills unset fields with the poster defaults.
func PolicyFromConfig(cfg config.RetryConfig, maxRetries int) RetryPolicy {
	p := RetryPolicy{
		MaxRetries:    maxRetries,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = models.MaxRetries
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 5 * time.Minute
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Hour
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2
	}
	return p
}

// Exhausted reports whether the given 1-based failed attempt is the last one allowed.
func (r RetryPolicy) Exhausted(attempt int) bool {
	max := r.MaxRetries
	if max <= 0 {
		max = models.MaxRetries
	}
	return attempt >= max
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
