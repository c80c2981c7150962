package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vitalsync/vitalsync/internal/clock"
	sleepdomain "github.com/vitalsync/vitalsync/internal/sleep/domain"
	telemetrydomain "github.com/vitalsync/vitalsync/internal/telemetry/domain"
	"github.com/vitalsync/vitalsync/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// minSessionHours drops sub-5-minute fragments as noise.
	minSessionHours = 5.0 / 60.0
	// maxSessionHours drops implausible single sessions.
	maxSessionHours = 16.0
	// mergeGap is the maximum gap between the main session and another
	// same-night interval for the two to merge.
	mergeGap = 2 * time.Hour
	// mergeWeight discounts merged interval durations to reflect partial
	// overlap uncertainty. Empirically tuned, kept as-is.
	mergeWeight = 0.8
	// nightCutoffHour splits nights: a local start before 14:00 belongs
	// to the previous calendar date's night.
	nightCutoffHour = 14
	// Nights outside [minNightHours, maxNightHours] are dropped.
	minNightHours = 2.0
	maxNightHours = 15.0
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    telemetrydomain.Repository
	Metrics *telemetry.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    telemetrydomain.Repository
	metrics *telemetry.Metrics
}

func NewService(p Params) sleepdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("sleep.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Reconstruct(ctx context.Context, userID snowflake.ID) ([]sleepdomain.SleepSummary, error) {
	if userID == 0 {
		return nil, sleepdomain.ErrInvalidUser
	}

	records, err := s.repo.FindByType(ctx, s.db, userID, telemetrydomain.DataTypeSleep)
	if err != nil {
		return nil, err
	}

	sessions := localizeSessions(records)
	nights := groupByNight(sessions)

	summaries := make([]sleepdomain.SleepSummary, 0, len(nights))
	now := s.clock.Now()
	for _, night := range nights {
		summary, ok := summarizeNight(night)
		if !ok {
			continue
		}
		summary.ID = s.genID.Generate()
		summary.UserID = userID
		summary.CreatedAt = now
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].NightDate < summaries[j].NightDate
	})

	// Replace the whole set in one transaction so summaries stay a pure
	// function of the raw intervals.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&sleepdomain.SleepSummary{}).Error; err != nil {
			return err
		}
		if len(summaries) == 0 {
			return nil
		}
		return tx.Create(&summaries).Error
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSleepRebuild(len(summaries))
	s.log.Info("sleep summaries rebuilt",
		zap.String("user_id", userID.String()),
		zap.Int("raw_intervals", len(records)),
		zap.Int("nights", len(summaries)),
	)
	return summaries, nil
}

// localizeSessions resolves each record's recording time zone from metadata
// (default UTC when absent or unrecognized) and filters out noise fragments
// and implausible sessions. Wake-clock-time heuristics are deliberately not
// applied: any wake time is legitimate.
func localizeSessions(records []*telemetrydomain.TelemetryRecord) []sleepdomain.SleepSession {
	sessions := make([]sleepdomain.SleepSession, 0, len(records))
	for _, record := range records {
		loc := recordLocation(record)
		start := record.StartTS.In(loc)
		end := record.EndTS.In(loc)
		hours := end.Sub(start).Hours()
		if hours < minSessionHours || hours > maxSessionHours {
			continue
		}
		sessions = append(sessions, sleepdomain.SleepSession{
			StartLocal:  start,
			EndLocal:    end,
			Hours:       hours,
			SourceValue: record.ValueText,
		})
	}
	return sessions
}

func recordLocation(record *telemetrydomain.TelemetryRecord) *time.Location {
	if record.Metadata == nil {
		return time.UTC
	}
	name, ok := record.Metadata[telemetrydomain.MetadataKeyTimeZone].(string)
	if !ok || name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// nightDate attributes a session to a night: local starts before 14:00
// belong to the previous calendar date's night.
func nightDate(startLocal time.Time) string {
	date := startLocal
	if startLocal.Hour() < nightCutoffHour {
		date = date.AddDate(0, 0, -1)
	}
	return date.Format("2006-01-02")
}

type night struct {
	date     string
	sessions []sleepdomain.SleepSession
}

func groupByNight(sessions []sleepdomain.SleepSession) []night {
	byDate := map[string][]sleepdomain.SleepSession{}
	for _, session := range sessions {
		date := nightDate(session.StartLocal)
		byDate[date] = append(byDate[date], session)
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	nights := make([]night, 0, len(dates))
	for _, date := range dates {
		group := byDate[date]
		sort.Slice(group, func(i, j int) bool {
			return group[i].StartLocal.Before(group[j].StartLocal)
		})
		nights = append(nights, night{date: date, sessions: group})
	}
	return nights
}

// summarizeNight merges a night's sessions around its longest interval.
// Same-night intervals within the merge gap extend the summary boundary and
// contribute their duration at reduced weight. Nights outside the plausible
// hour band are dropped.
func summarizeNight(n night) (sleepdomain.SleepSummary, bool) {
	if len(n.sessions) == 0 {
		return sleepdomain.SleepSummary{}, false
	}

	mainIdx := 0
	for i, session := range n.sessions {
		if session.Hours > n.sessions[mainIdx].Hours {
			mainIdx = i
		}
	}
	main := n.sessions[mainIdx]

	start := main.StartLocal
	end := main.EndLocal
	total := main.Hours

	for i, session := range n.sessions {
		if i == mainIdx {
			continue
		}
		if gapBetween(session, start, end) > mergeGap {
			continue
		}
		if session.StartLocal.Before(start) {
			start = session.StartLocal
		}
		if session.EndLocal.After(end) {
			end = session.EndLocal
		}
		total += session.Hours * mergeWeight
	}

	if total < minNightHours || total > maxNightHours {
		return sleepdomain.SleepSummary{}, false
	}

	return sleepdomain.SleepSummary{
		NightDate:   n.date,
		StartLocal:  start,
		EndLocal:    end,
		AsleepHours: total,
	}, true
}

// gapBetween returns the distance between a session and the current merged
// [start, end] boundary; overlapping sessions have zero gap.
func gapBetween(session sleepdomain.SleepSession, start, end time.Time) time.Duration {
	if session.EndLocal.Before(start) {
		return start.Sub(session.EndLocal)
	}
	if session.StartLocal.After(end) {
		return session.StartLocal.Sub(end)
	}
	return 0
}
