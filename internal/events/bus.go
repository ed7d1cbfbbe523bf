package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kanon/internal/globaltime"
)

// SeriesAvailable announces that a work gained a resolvable canonical record.
// Notification fan-out consumes these downstream.
type SeriesAvailable struct {
	SeriesUUID string    `json:"series_uuid"`
	Title      string    `json:"title"`
	Provider   string    `json:"provider,omitempty"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// Bus publishes catalog events over redis pub/sub.
type Bus struct {
	rdb     *goredis.Client
	channel string
	logger  zerolog.Logger
}

func NewBus(rdb *goredis.Client, channel string, logger zerolog.Logger) *Bus {
	if channel == "" {
		channel = "kanon.series"
	}
	return &Bus{rdb: rdb, channel: channel, logger: logger}
}

// PublishSeriesAvailable emits a series_available event. Delivery is best
// effort: a broadcast failure never fails the resolution that triggered it.
func (b *Bus) PublishSeriesAvailable(ctx context.Context, seriesUUID, seriesTitle, providerName string) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("event bus is not initialized")
	}

	event := SeriesAvailable{
		SeriesUUID: seriesUUID,
		Title:      seriesTitle,
		Provider:   providerName,
		EmittedAt:  globaltime.UTC(),
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode series_available event: %w", err)
	}

	if err := b.rdb.Publish(ctx, b.channel, encoded).Err(); err != nil {
		return fmt.Errorf("publish series_available: %w", err)
	}
	b.logger.Debug().Str("series_uuid", seriesUUID).Msg("published series_available")
	return nil
}
