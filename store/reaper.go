package store

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pixvault/pixvault/models"
)

// Reaper deletes records whose creation time is older than the
// configured lifetime. The original deployment leaned on a TTL index;
// Postgres has none, so a periodic sweep does the same job.
type Reaper struct {
	db       *gorm.DB
	lifetime time.Duration
	interval time.Duration
	log      zerolog.Logger
	done     chan struct{}
}

func NewReaper(db *gorm.DB, lifetime, interval time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		db:       db,
		lifetime: lifetime,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Stop terminates it.
func (r *Reaper) Start() {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.reap()
			case <-r.done:
				return
			}
		}
	}()
}

func (r *Reaper) Stop() {
	close(r.done)
}

func (r *Reaper) reap() {
	cutoff := time.Now().Add(-r.lifetime)
	res := r.db.Where("created_at < ?", cutoff).Delete(&models.Image{})
	if res.Error != nil {
		r.log.Error().Err(res.Error).Msg("failed to reap expired records")
		return
	}
	if res.RowsAffected > 0 {
		r.log.Info().Int64("deleted", res.RowsAffected).Time("cutoff", cutoff).Msg("reaped expired records")
	}
}
