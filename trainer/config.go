package trainer

import (
	"time"

	"github.com/shgat/runtime/config"
)

// ConfigFromEnv maps the §6 environment-tunables (already parsed by
// config.Load) onto the Trainer's Config.
func ConfigFromEnv(cfg config.Config) Config {
	return Config{
		NumNegatives: cfg.NumNegatives,
		Tau:          cfg.PERTau,
		LR:           cfg.TrainLR,
		TrainTimeout: time.Duration(cfg.TrainTimeoutMS) * time.Millisecond,
		BatchSize:    cfg.TrainBatch,
	}
}

// Stale reports whether a persisted parameter record is at least
// stalenessSec old, so batch training at startup is not skipped; it
// returns false for a fresher record (§4.5: "Batch is skipped if persisted
// params are <=1h old", §6 PARAM_STALENESS_SEC, §12 S4).
func Stale(updatedAt time.Time, now time.Time, stalenessSec int) bool {
	return now.Sub(updatedAt) >= time.Duration(stalenessSec)*time.Second
}
