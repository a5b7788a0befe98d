package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/beaconcrm/journey/pkg/queue/redisqueue"
)

// NewQueue selects the work queue implementation. A redis:// URL gets the
// Redis sorted-set queue; an empty URL falls back to the queue built into
// the persistence layer.
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL string, fallback persistence.Queue) persistence.Queue {
	if queueURL == "" {
		return fallback
	}

	if !strings.HasPrefix(queueURL, "redis://") && !strings.HasPrefix(queueURL, "rediss://") {
		panic("unsupported queue URL: " + queueURL)
	}

	q, err := redisqueue.NewQueue(ctx, logger, queueURL)
	if err != nil {
		panic(fmt.Errorf("failed to create Redis queue: %w", err))
	}

	return q
}
