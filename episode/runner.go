package episode

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/memlens/memlens/attribution"
	"github.com/memlens/memlens/config"
	"github.com/memlens/memlens/memory"
	"github.com/memlens/memlens/policy"
	"github.com/memlens/memlens/skills"
	"github.com/memlens/memlens/types"
)

// Runner executes episodes against fresh per-episode core instances. The
// runner itself holds no mutable state between runs, so RunAll can fan
// episodes out across goroutines.
type Runner struct {
	cfg     *config.Config
	specs   []skills.SkillSpec
	engine  *attribution.Engine
	limiter *rate.Limiter
	logger  *zap.Logger
	tracer  oteltrace.Tracer
}

// NewRunner builds a runner over a validated configuration and an
// already-parsed skill set.
func NewRunner(cfg *config.Config, specs []skills.SkillSpec, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.Runner.TurnsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Runner.TurnsPerSecond), 1)
	}
	return &Runner{
		cfg:     cfg,
		specs:   specs,
		engine:  attribution.NewEngine(logger),
		limiter: limiter,
		logger:  logger.With(zap.String("component", "episode_runner")),
		tracer:  otel.Tracer("memlens/episode"),
	}
}

// RunEpisode executes one episode turn by turn and attributes the outcome.
// The episode gets its own store, registry, router, policy, and trace log.
func (r *Runner) RunEpisode(ctx context.Context, ep Episode) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "episode.run",
		oteltrace.WithAttributes(
			attribute.String("episode.id", ep.ID),
			attribute.String("episode.track", ep.TrackID),
		))
	defer span.End()

	started := time.Now()
	runID := uuid.NewString()
	traceLog := types.NewTraceLog(ep.ID)

	store, err := r.newStore(ctx, runID, ep, traceLog)
	if err != nil {
		return Result{}, fmt.Errorf("episode %s: build store: %w", ep.ID, err)
	}

	registry := skills.NewRegistry(r.logger)
	if err := registry.Load(r.specs); err != nil {
		return Result{}, fmt.Errorf("episode %s: load skills: %w", ep.ID, err)
	}
	router := skills.NewRouter(registry, r.cfg.Router.ConfidenceFloor, traceLog, r.logger)
	pol := policy.New(store, router, traceLog, policy.Config{
		TrustFloor: r.cfg.Policy.TrustFloor,
		RetrieveK:  r.cfg.Policy.RetrieveK,
	}, r.logger)

	for _, seed := range ep.InitialState {
		if _, err := store.Write(ctx, seed.Namespace, seed.Key, seed.Value, seed.Source, seed.TrustScore, seed.TTL); err != nil {
			return Result{}, fmt.Errorf("episode %s: seed %s/%s: %w", ep.ID, seed.Namespace, seed.Key, err)
		}
	}

	outcomes := make([]TurnOutcome, 0, len(ep.Turns))
	for _, turn := range ep.Turns {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return Result{}, err
			}
		}
		store.AdvanceTurn()
		traceLog.SetTurn(turn.Number)

		turnResult, err := pol.ProcessTurn(ctx, turn.UserInput, turn.Writes)
		if err != nil {
			return Result{}, fmt.Errorf("episode %s turn %d: %w", ep.ID, turn.Number, err)
		}
		outcome := TurnOutcome{
			Number:         turn.Number,
			Response:       turnResult.Response,
			WrittenIDs:     turnResult.WrittenIDs,
			RejectedWrites: len(turnResult.Rejected),
			FilteredReads:  len(turnResult.Filtered),
		}
		if turnResult.SkillApplied {
			outcome.SkillUsed = turnResult.Skill.Name
		}
		outcomes = append(outcomes, outcome)
	}

	events := traceLog.Events()
	verdict, err := r.engine.Attribute(events, ep.Expected)
	if err != nil {
		return Result{}, fmt.Errorf("episode %s: attribute: %w", ep.ID, err)
	}

	result := Result{
		RunID:       runID,
		EpisodeID:   ep.ID,
		TrackID:     ep.TrackID,
		ThreatLevel: ep.ThreatLevel,
		Turns:       outcomes,
		Trace:       events,
		Expected:    ep.Expected,
		Verdict:     verdict,
		Success:     verdict.Verdict == attribution.VerdictNoFault,
		Duration:    time.Since(started),
	}
	span.SetAttributes(
		attribute.String("episode.verdict", string(verdict.Verdict)),
		attribute.Bool("episode.success", result.Success),
	)
	r.logger.Info("episode finished",
		zap.String("episode_id", ep.ID),
		zap.String("run_id", runID),
		zap.String("verdict", string(verdict.Verdict)),
		zap.Bool("success", result.Success))
	return result, nil
}

// RunAll executes episodes with bounded parallelism, preserving input order
// in the returned slice. Isolation is structural: no store, registry, or
// trace log is shared between episodes.
func (r *Runner) RunAll(ctx context.Context, episodes []Episode) ([]Result, error) {
	g, ctx := errgroup.WithContext(ctx)
	limit := r.cfg.Runner.Parallelism
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	results := make([]Result, len(episodes))
	for i, ep := range episodes {
		g.Go(func() error {
			res, err := r.RunEpisode(ctx, ep)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// newStore builds the episode's backend per configuration. The redis backend
// keys its state under the run id so parallel episodes sharing a server
// never collide.
func (r *Runner) newStore(ctx context.Context, runID string, ep Episode, traceLog *types.TraceLog) (memory.Store, error) {
	memCfg := memory.Config{
		MaxPerNamespace: r.cfg.Memory.MaxPerNamespace,
		Eviction:        evictionPolicies(r.cfg.Memory.Eviction),
	}
	if len(ep.Capacity) > 0 {
		caps := make(map[types.Namespace]int, len(r.cfg.Memory.MaxPerNamespace)+len(ep.Capacity))
		for ns, c := range r.cfg.Memory.MaxPerNamespace {
			caps[ns] = c
		}
		for ns, c := range ep.Capacity {
			caps[ns] = c
		}
		memCfg.MaxPerNamespace = caps
	}

	switch r.cfg.Memory.Backend {
	case config.BackendList:
		return memory.NewListStore(memCfg, traceLog, r.logger)
	case config.BackendKV:
		return memory.NewKVStore(memCfg, traceLog, r.logger)
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     r.cfg.Redis.Addr,
			Password: r.cfg.Redis.Password,
			DB:       r.cfg.Redis.DB,
			PoolSize: r.cfg.Redis.PoolSize,
		})
		return memory.NewRedisStore(ctx, client, "memlens:"+runID, memCfg, traceLog, r.logger)
	default:
		return nil, types.NewErrorf(types.ErrInvalidConfig, "unknown memory backend %q", r.cfg.Memory.Backend)
	}
}

func evictionPolicies(in map[types.Namespace]config.EvictionPolicy) map[types.Namespace]memory.Policy {
	if len(in) == 0 {
		return nil
	}
	out := make(map[types.Namespace]memory.Policy, len(in))
	for ns, p := range in {
		out[ns] = memory.Policy(p)
	}
	return out
}
