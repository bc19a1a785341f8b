// Package state keeps the fast-changing runtime facts in Redis: the active
// schedule pointer per week, last known team locations, last gate
// measurements, and a capped adaptation trail per schedule. Everything here
// is reconstructible; Postgres stays the source of truth.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"irrigation/internal/adapter"
	"irrigation/pkg/apperror"
	"irrigation/pkg/logger"
)

const (
	// adaptationTrailDepth caps the per-schedule adaptation list.
	adaptationTrailDepth = 50

	// measurementTTL ages out gate measurements that stopped arriving.
	measurementTTL = 2 * time.Hour

	locationTTL = 24 * time.Hour

	// scheduleChannel carries schedule change notifications to pollers.
	scheduleChannel = "schedule_events"
)

// TeamLocation is the last reported crew position.
type TeamLocation struct {
	TeamID     string    `json:"team_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}

// GateMeasurement is the last field reading for one gate.
type GateMeasurement struct {
	GateID     string    `json:"gate_id"`
	OpeningPct float64   `json:"opening_percent"`
	FlowM3s    float64   `json:"flow_m3s"`
	LevelM     float64   `json:"level_m"`
	MeasuredAt time.Time `json:"measured_at"`
}

// ScheduleEvent is published whenever a schedule changes version.
type ScheduleEvent struct {
	ScheduleID string    `json:"schedule_id"`
	Event      string    `json:"event"`
	Version    int64     `json:"version"`
	At         time.Time `json:"at"`
}

// Store хранит оперативное состояние в Redis
type Store struct {
	client *redis.Client
}

// NewStore создаёт хранилище оперативного состояния
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func activeScheduleKey(year, week int) string {
	return fmt.Sprintf("active_schedule:%d:week_%02d", year, week)
}

func teamLocationKey(teamID string) string {
	return "team_location:" + teamID
}

func gateMeasurementKey(gateID string) string {
	return "gate_measurement:" + gateID
}

func adaptationKey(scheduleID string) string {
	return "adaptation_history:" + scheduleID
}

// SetActiveSchedule points the week at a schedule id.
func (s *Store) SetActiveSchedule(ctx context.Context, year, week int, scheduleID string) error {
	return s.client.Set(ctx, activeScheduleKey(year, week), scheduleID, 0).Err()
}

// ActiveSchedule returns the schedule id active for the week.
func (s *Store) ActiveSchedule(ctx context.Context, year, week int) (string, error) {
	id, err := s.client.Get(ctx, activeScheduleKey(year, week)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperror.ErrScheduleNotFound
		}
		return "", fmt.Errorf("failed to read active schedule: %w", err)
	}
	return id, nil
}

// ClearActiveSchedule drops the pointer for a week.
func (s *Store) ClearActiveSchedule(ctx context.Context, year, week int) error {
	return s.client.Del(ctx, activeScheduleKey(year, week)).Err()
}

// UpdateTeamLocation stores the latest crew position.
func (s *Store) UpdateTeamLocation(ctx context.Context, loc *TeamLocation) error {
	if loc == nil || loc.TeamID == "" {
		return apperror.New(apperror.CodeInvalidArgument, "team location requires a team id")
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to encode location: %w", err)
	}
	return s.client.Set(ctx, teamLocationKey(loc.TeamID), data, locationTTL).Err()
}

// TeamLocation returns the last reported position of a crew.
func (s *Store) TeamLocation(ctx context.Context, teamID string) (*TeamLocation, error) {
	data, err := s.client.Get(ctx, teamLocationKey(teamID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperror.ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to read team location: %w", err)
	}
	loc := &TeamLocation{}
	if err := json.Unmarshal(data, loc); err != nil {
		return nil, fmt.Errorf("failed to decode location: %w", err)
	}
	return loc, nil
}

// RecordGateMeasurement stores the latest reading for a gate.
func (s *Store) RecordGateMeasurement(ctx context.Context, m *GateMeasurement) error {
	if m == nil || m.GateID == "" {
		return apperror.New(apperror.CodeInvalidArgument, "measurement requires a gate id")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode measurement: %w", err)
	}
	return s.client.Set(ctx, gateMeasurementKey(m.GateID), data, measurementTTL).Err()
}

// GateMeasurement returns the last reading for a gate.
func (s *Store) GateMeasurement(ctx context.Context, gateID string) (*GateMeasurement, error) {
	data, err := s.client.Get(ctx, gateMeasurementKey(gateID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperror.ErrGateNotFound
		}
		return nil, fmt.Errorf("failed to read gate measurement: %w", err)
	}
	m := &GateMeasurement{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode measurement: %w", err)
	}
	return m, nil
}

// PushAdaptation appends a record to the schedule's capped trail, newest
// first, and publishes a schedule event.
func (s *Store) PushAdaptation(ctx context.Context, rec *adapter.Record) error {
	if rec == nil || rec.ScheduleID == "" {
		return apperror.New(apperror.CodeInvalidArgument, "adaptation record requires a schedule id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode adaptation: %w", err)
	}

	key := adaptationKey(rec.ScheduleID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, adaptationTrailDepth-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push adaptation: %w", err)
	}

	s.publish(ctx, &ScheduleEvent{
		ScheduleID: rec.ScheduleID,
		Event:      rec.Event,
		Version:    rec.VersionAfter,
		At:         rec.CreatedAt,
	})
	return nil
}

// Adaptations returns up to limit records of the trail, newest first.
func (s *Store) Adaptations(ctx context.Context, scheduleID string, limit int) ([]*adapter.Record, error) {
	if limit <= 0 || limit > adaptationTrailDepth {
		limit = adaptationTrailDepth
	}
	items, err := s.client.LRange(ctx, adaptationKey(scheduleID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read adaptation trail: %w", err)
	}

	records := make([]*adapter.Record, 0, len(items))
	for _, item := range items {
		rec := &adapter.Record{}
		if err := json.Unmarshal([]byte(item), rec); err != nil {
			return nil, fmt.Errorf("failed to decode adaptation: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) publish(ctx context.Context, ev *ScheduleEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, scheduleChannel, data).Err(); err != nil {
		logger.Log.Warn("Failed to publish schedule event",
			"schedule_id", ev.ScheduleID, "error", err)
	}
}

// SubscribeScheduleEvents delivers schedule events until ctx is cancelled.
// The returned channel is closed on shutdown.
func (s *Store) SubscribeScheduleEvents(ctx context.Context) <-chan *ScheduleEvent {
	sub := s.client.Subscribe(ctx, scheduleChannel)
	out := make(chan *ScheduleEvent)

	go func() {
		defer close(out)
		defer func() {
			if err := sub.Close(); err != nil {
				logger.Log.Warn("Failed to close subscription", "error", err)
			}
		}()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev := &ScheduleEvent{}
				if err := json.Unmarshal([]byte(msg.Payload), ev); err != nil {
					logger.Log.Warn("Malformed schedule event", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
