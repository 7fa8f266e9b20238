package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// SchedulePrune deletes records older than retention on schedule (a cron
// expression such as "@every 60m"). The caller stops the returned scheduler.
func SchedulePrune(s Store, retention time.Duration, schedule string) (*cron.Cron, error) {
	quartz := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger)))
	if _, err := quartz.AddFunc(schedule, func() { PruneOnce(s, retention) }); err != nil {
		return nil, err
	}
	quartz.Start()
	return quartz, nil
}

func PruneOnce(s Store, retention time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Error().Err(err).Str("module", "store").Msg("prune call records")
		return
	}
	log.Info().Str("module", "store").Int64("deleted", n).Msg("pruned call records")
}
