// Package pipeline runs encounter detection end to end: resample, shard,
// solve, merge, segment, then persist and publish the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/encounters.report/internal/adjacency"
	"github.com/banshee-data/encounters.report/internal/config"
	"github.com/banshee-data/encounters.report/internal/db"
	"github.com/banshee-data/encounters.report/internal/encounters"
	"github.com/banshee-data/encounters.report/internal/monitoring"
	"github.com/banshee-data/encounters.report/internal/publish"
	"github.com/banshee-data/encounters.report/internal/resample"
	"github.com/banshee-data/encounters.report/internal/timeutil"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// DefaultModelVersion tags stored encounters. Reruns replace encounters of
// the same version only.
const DefaultModelVersion = "encounters-v1"

// ErrNoPositions is returned when there is nothing to run over.
var ErrNoPositions = errors.New("no positions to process")

// Store persists runs and their output. *db.DB implements it.
type Store interface {
	CreateRun(ctx context.Context, r *db.Run) error
	FinishRun(ctx context.Context, id string, counts db.RunCounts, finishedAt time.Time, runErr error) error
	ReplaceEncounters(ctx context.Context, runID, modelVersion string, start, end time.Time, es []vessel.Encounter) (deleted, written int64, err error)
	SaveAnnotatedTracks(ctx context.Context, runID string, tracks vessel.AnnotatedTracks) (int64, error)
}

// Runner holds everything a run needs. Store and Publisher are optional.
type Runner struct {
	Tuning       *config.TuningConfig
	ModelVersion string
	Store        Store
	Publisher    publish.Publisher
	Clock        timeutil.Clock
	// SaveAnnotated also stores every annotated position of the run.
	SaveAnnotated bool
}

// Input is the raw position data of one run.
type Input struct {
	Tracks vessel.Tracks
	// Source names where the positions came from, for the run record.
	Source string
	// RangeStart and RangeEnd bound the run. When nil they are taken from
	// the resampled positions.
	RangeStart, RangeEnd *time.Time
}

// Result is the output of one run.
type Result struct {
	RunID      string                 `json:"run_id,omitempty"`
	Vessels    int                    `json:"vessels"`
	Adjacency  adjacency.Stats        `json:"adjacency"`
	Encounters []vessel.Encounter     `json:"encounters"`
	Summary    encounters.Summary     `json:"summary"`
	Annotated  vessel.AnnotatedTracks `json:"-"`
	RangeStart time.Time              `json:"range_start"`
	RangeEnd   time.Time              `json:"range_end"`
	Elapsed    time.Duration          `json:"elapsed"`
}

func (r *Runner) tuning() *config.TuningConfig {
	if r.Tuning == nil {
		return config.DefaultTuningConfig()
	}
	return r.Tuning
}

func (r *Runner) clock() timeutil.Clock {
	if r.Clock == nil {
		return timeutil.RealClock{}
	}
	return r.Clock
}

func (r *Runner) modelVersion() string {
	if r.ModelVersion == "" {
		return DefaultModelVersion
	}
	return r.ModelVersion
}

// Params returns the adjacency parameters of the runner's tuning.
func (r *Runner) Params() adjacency.Params {
	t := r.tuning()
	return adjacency.Params{
		MaxDistance:  t.GetMaxDistance(),
		MaxNeighbors: t.GetMaxNeighbours(),
		GridLevel:    t.GetGridLevel(),
		Workers:      t.GetWorkers(),
	}
}

// Segmenter returns the encounter state machine of the runner's tuning.
func (r *Runner) Segmenter() encounters.Segmenter {
	t := r.tuning()
	return encounters.Segmenter{
		MinDistanceToShore: t.GetMinDistanceToShore(),
		MaxEncounterRadius: t.GetMaxEncounterRadius(),
		MinDuration:        t.GetMinDuration(),
	}
}

// Detect runs the computation without side effects.
func (r *Runner) Detect(ctx context.Context, raw vessel.Tracks) (Result, error) {
	t := r.tuning()
	log := monitoring.Logger()

	if t.GetMaxEncounterRadius() > t.GetMaxDistance() {
		log.Warn("encounter radius exceeds candidate radius; neighbours beyond the candidate radius are never seen",
			"max_encounter_radius", t.GetMaxEncounterRadius(), "max_distance_for_encounter", t.GetMaxDistance())
	}

	rs := resample.Resampler{Interval: t.GetResampleInterval(), MaxGap: t.GetMaxInterpolationGap()}
	tracks := rs.Tracks(raw)
	if tracks.Len() == 0 {
		return Result{}, ErrNoPositions
	}
	log.Debug("resampled positions", "raw", raw.Len(), "resampled", tracks.Len(), "vessels", len(tracks))

	annotated, stats, err := adjacency.Annotate(ctx, tracks, r.Params())
	if err != nil {
		return Result{}, fmt.Errorf("adjacency: %w", err)
	}
	log.Debug("annotated positions", "shards", stats.Shards, "largest_shard", stats.LargestShard)

	es, err := encounters.Detect(ctx, annotated, r.Segmenter(), t.GetWorkers())
	if err != nil {
		return Result{}, fmt.Errorf("segmentation: %w", err)
	}

	start, end := timeSpan(tracks)
	return Result{
		Vessels:    len(tracks),
		Adjacency:  stats,
		Encounters: es,
		Summary:    encounters.Summarize(es),
		Annotated:  annotated,
		RangeStart: start,
		RangeEnd:   end,
	}, nil
}

// Run records a run, detects encounters, stores them replacing earlier
// output of the same model version over the range, and publishes them. A
// failed run is still recorded with its error.
func (r *Runner) Run(ctx context.Context, in Input) (res Result, err error) {
	clock := r.clock()
	began := clock.Now()
	mv := r.modelVersion()

	run := &db.Run{
		ModelVersion: mv,
		RangeStart:   in.RangeStart,
		RangeEnd:     in.RangeEnd,
		Source:       in.Source,
		TuningJSON:   r.tuning().JSON(),
		StartedAt:    began,
	}
	if r.Store != nil {
		if err := r.Store.CreateRun(ctx, run); err != nil {
			return Result{}, err
		}
		res.RunID = run.ID
	}
	log := monitoring.Logger().With("run_id", run.ID, "model_version", mv)
	log.Info("run started", "vessels", len(in.Tracks), "positions", in.Tracks.Len(), "source", in.Source)

	defer func() {
		res.Elapsed = clock.Since(began)
		if r.Store == nil {
			return
		}
		counts := db.RunCounts{
			Vessels:    res.Vessels,
			Positions:  res.Adjacency.Positions,
			Shards:     res.Adjacency.Shards,
			Encounters: len(res.Encounters),
		}
		// The run record must be closed even when ctx was cancelled.
		if ferr := r.Store.FinishRun(context.WithoutCancel(ctx), run.ID, counts, clock.Now(), err); ferr != nil {
			log.Error("failed to finish run", "err", ferr)
			if err == nil {
				err = ferr
			}
		}
	}()

	detected, err := r.Detect(ctx, in.Tracks)
	if err != nil {
		log.Error("run failed", "err", err)
		return res, err
	}
	detected.RunID = res.RunID
	res = detected
	if in.RangeStart != nil {
		res.RangeStart = *in.RangeStart
	}
	if in.RangeEnd != nil {
		res.RangeEnd = *in.RangeEnd
	}

	if r.Store != nil {
		if r.SaveAnnotated {
			n, err := r.Store.SaveAnnotatedTracks(ctx, run.ID, res.Annotated)
			if err != nil {
				return res, fmt.Errorf("save annotated positions: %w", err)
			}
			log.Debug("stored annotated positions", "rows", n)
		}
		deleted, written, err := r.Store.ReplaceEncounters(ctx, run.ID, mv, res.RangeStart, res.RangeEnd, res.Encounters)
		if err != nil {
			return res, fmt.Errorf("store encounters: %w", err)
		}
		log.Debug("stored encounters", "deleted", deleted, "written", written)
	}

	if r.Publisher != nil && len(res.Encounters) > 0 {
		events := make([]publish.Event, len(res.Encounters))
		for i, e := range res.Encounters {
			events[i] = publish.NewEvent(run.ID, mv, db.EncounterKey(mv, e), e)
		}
		if err := r.Publisher.Publish(ctx, events); err != nil {
			return res, fmt.Errorf("publish encounters: %w", err)
		}
	}

	log.Info("run finished",
		"vessels", res.Vessels,
		"positions", res.Adjacency.Positions,
		"shards", res.Adjacency.Shards,
		"encounters", len(res.Encounters),
		"elapsed", clock.Since(began))
	return res, nil
}

func timeSpan(tracks vessel.Tracks) (start, end time.Time) {
	for _, s := range tracks {
		if len(s) == 0 {
			continue
		}
		if first := s[0].Timestamp; start.IsZero() || first.Before(start) {
			start = first
		}
		if last := s[len(s)-1].Timestamp; last.After(end) {
			end = last
		}
	}
	return start, end
}
