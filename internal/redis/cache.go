package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-engine/internal/availability"
)

// AvailabilityCache caches month views. Entries are keyed by a per doctor
// version counter, so a schedule change orphans every cached month of that
// doctor at once and the TTL cleans them up.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func versionKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("avail:ver:%s", doctorID.String())
}

func monthKey(key availability.MonthKey, version int64) string {
	return fmt.Sprintf("avail:month:%s:%s:%s:%s:v%d",
		key.DoctorID, key.ServiceID, key.Month, key.AsOf, version)
}

func (c *AvailabilityCache) version(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(doctorID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// GetMonth returns the cached view and the version it looked under. On a
// miss the caller computes the view and hands that same version to SetMonth.
func (c *AvailabilityCache) GetMonth(ctx context.Context, key availability.MonthKey) ([]availability.CalendarDay, int64, bool) {
	ver, err := c.version(ctx, key.DoctorID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("availability cache version lookup failed")
		return nil, -1, false
	}

	raw, err := c.client.Get(ctx, monthKey(key, ver)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("availability cache read failed")
		}
		return nil, ver, false
	}

	var days []availability.CalendarDay
	if err := json.Unmarshal(raw, &days); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("availability cache entry corrupt")
		return nil, ver, false
	}
	return days, ver, true
}

// SetMonth stores days under version. If the doctor's schedule changed
// since that version was read, the entry is never looked up again.
func (c *AvailabilityCache) SetMonth(ctx context.Context, key availability.MonthKey, version int64, days []availability.CalendarDay) {
	if c.ttl <= 0 || version < 0 {
		return
	}
	raw, err := json.Marshal(days)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, monthKey(key, version), raw, c.ttl).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("availability cache write failed")
	}
}

// DoctorScheduleChanged bumps the doctor's version so older entries are never read again.
func (c *AvailabilityCache) DoctorScheduleChanged(ctx context.Context, doctorID uuid.UUID) {
	if err := c.client.Incr(ctx, versionKey(doctorID)).Err(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("doctor_id", doctorID.String()).
			Msg("failed to invalidate availability cache")
	}
}
