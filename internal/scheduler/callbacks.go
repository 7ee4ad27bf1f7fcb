package scheduler

import (
	"go.uber.org/zap"
)

// Callbacks are hooks for cycle lifecycle events. Nil hooks are skipped.
type Callbacks struct {
	OnStart   func(result *CycleResult)
	OnSuccess func(result *CycleResult)
	// OnFailure sees every failed attempt; result.WillRetry tells whether
	// another follows.
	OnFailure func(result *CycleResult)
	// OnRetryExhausted receives every failed attempt of one scheduled run.
	OnRetryExhausted func(results []*CycleResult)
}

func (c *Callbacks) start(r *CycleResult) {
	if c != nil && c.OnStart != nil {
		c.OnStart(r)
	}
}

func (c *Callbacks) success(r *CycleResult) {
	if c != nil && c.OnSuccess != nil {
		c.OnSuccess(r)
	}
}

func (c *Callbacks) failure(r *CycleResult) {
	if c != nil && c.OnFailure != nil {
		c.OnFailure(r)
	}
}

func (c *Callbacks) exhausted(rs []*CycleResult) {
	if c != nil && c.OnRetryExhausted != nil {
		c.OnRetryExhausted(rs)
	}
}

// LoggingCallbacks logs every event.
func LoggingCallbacks(log *zap.Logger) *Callbacks {
	return &Callbacks{
		OnStart: func(r *CycleResult) {
			log.Debug("scheduled cycle starting", zap.Int("attempt", r.Attempt))
		},
		OnSuccess: func(r *CycleResult) {
			log.Info("scheduled cycle succeeded", zap.Int("attempt", r.Attempt), zap.Duration("took", r.Duration()))
		},
		OnFailure: func(r *CycleResult) {
			log.Warn("scheduled cycle failed",
				zap.Int("attempt", r.Attempt), zap.Bool("will_retry", r.WillRetry), zap.Error(r.Error))
		},
		OnRetryExhausted: func(rs []*CycleResult) {
			log.Error("all scheduled cycle attempts failed", zap.Int("attempts", len(rs)))
		},
	}
}

// ChainCallbacks combines multiple callback sets
func ChainCallbacks(callbacks ...*Callbacks) *Callbacks {
	return &Callbacks{
		OnStart: func(r *CycleResult) {
			for _, c := range callbacks {
				c.start(r)
			}
		},
		OnSuccess: func(r *CycleResult) {
			for _, c := range callbacks {
				c.success(r)
			}
		},
		OnFailure: func(r *CycleResult) {
			for _, c := range callbacks {
				c.failure(r)
			}
		},
		OnRetryExhausted: func(rs []*CycleResult) {
			for _, c := range callbacks {
				c.exhausted(rs)
			}
		},
	}
}
