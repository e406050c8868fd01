package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/memlens/memlens/config"
	"github.com/memlens/memlens/episode"
)

// RunRecord is one archived episode run.
type RunRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RunID         string    `gorm:"uniqueIndex;size:64" json:"run_id"`
	EpisodeID     string    `gorm:"index;size:128" json:"episode_id"`
	TrackID       string    `gorm:"index;size:128" json:"track_id"`
	ThreatLevel   string    `gorm:"size:16" json:"threat_level"`
	Verdict       string    `gorm:"index;size:32" json:"verdict"`
	Reason        string    `json:"reason"`
	Success       bool      `json:"success"`
	LowConfidence bool      `json:"low_confidence"`
	TurnCount     int       `json:"turn_count"`
	EventCount    int       `json:"event_count"`
	Payload       []byte    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// Archive stores and queries completed runs.
type Archive struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the sqlite archive at cfg.Path and runs
// migrations. An empty path keeps the archive in memory.
func Open(cfg config.ArchiveConfig, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open archive %q: %w", path, err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}

	logger = logger.With(zap.String("component", "archive"))
	logger.Info("archive opened", zap.String("path", path))
	return &Archive{db: db, logger: logger}, nil
}

// SaveResult archives one episode result.
func (a *Archive) SaveResult(ctx context.Context, res episode.Result) error {
	rec, err := toRecord(res)
	if err != nil {
		return err
	}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("archive run %s: %w", res.RunID, err)
	}
	a.logger.Debug("run archived",
		zap.String("run_id", res.RunID),
		zap.String("episode_id", res.EpisodeID),
		zap.String("verdict", string(res.Verdict.Verdict)))
	return nil
}

// SaveAll archives a batch of results in one transaction. Either every
// result is archived or none is.
func (a *Archive) SaveAll(ctx context.Context, results []episode.Result) error {
	if len(results) == 0 {
		return nil
	}
	recs := make([]RunRecord, 0, len(results))
	for _, res := range results {
		rec, err := toRecord(res)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&recs).Error
	})
	if err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}
	a.logger.Info("batch archived", zap.Int("runs", len(recs)))
	return nil
}

// Result rehydrates a full episode result by run id.
func (a *Archive) Result(ctx context.Context, runID string) (episode.Result, error) {
	var rec RunRecord
	err := a.db.WithContext(ctx).Where("run_id = ?", runID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return episode.Result{}, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return episode.Result{}, fmt.Errorf("load run %s: %w", runID, err)
	}

	var res episode.Result
	if err := json.Unmarshal(rec.Payload, &res); err != nil {
		return episode.Result{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return res, nil
}

// Runs lists archived run summaries, newest first. An empty trackID
// matches every track; limit <= 0 means no limit. Payloads are not
// loaded; use Result for the full run.
func (a *Archive) Runs(ctx context.Context, trackID string, limit int) ([]RunRecord, error) {
	q := a.db.WithContext(ctx).
		Omit("payload").
		Order("id desc")
	if trackID != "" {
		q = q.Where("track_id = ?", trackID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []RunRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return recs, nil
}

// Results rehydrates every archived result for one track, oldest first.
// An empty trackID matches every track.
func (a *Archive) Results(ctx context.Context, trackID string) ([]episode.Result, error) {
	q := a.db.WithContext(ctx).Order("id asc")
	if trackID != "" {
		q = q.Where("track_id = ?", trackID)
	}

	var recs []RunRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	out := make([]episode.Result, 0, len(recs))
	for _, rec := range recs {
		var res episode.Result
		if err := json.Unmarshal(rec.Payload, &res); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", rec.RunID, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	a.logger.Info("archive closed")
	return sqlDB.Close()
}

func toRecord(res episode.Result) (RunRecord, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return RunRecord{}, fmt.Errorf("encode run %s: %w", res.RunID, err)
	}
	return RunRecord{
		RunID:         res.RunID,
		EpisodeID:     res.EpisodeID,
		TrackID:       res.TrackID,
		ThreatLevel:   string(res.ThreatLevel),
		Verdict:       string(res.Verdict.Verdict),
		Reason:        res.Verdict.Reason,
		Success:       res.Success,
		LowConfidence: res.Verdict.LowConfidence,
		TurnCount:     len(res.Turns),
		EventCount:    len(res.Trace),
		Payload:       payload,
	}, nil
}
