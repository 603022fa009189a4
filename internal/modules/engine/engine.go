package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/domain"
	"github.com/aristath/signald/internal/market_regime"
	"github.com/aristath/signald/internal/modules/gates"
	"github.com/aristath/signald/internal/modules/marketdata"
	"github.com/aristath/signald/internal/modules/signals"
)

// SnapshotProvider supplies market context for a ticker at decision time.
// *marketdata.Provider implements it; tests substitute fakes.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context, ticker string) (*marketdata.Snapshot, error)
}

// Engine evaluates signals against one immutable GateConfig. Construction
// binds the config for the engine's lifetime; a config change means a new
// engine version registered with the router, never mutation here.
type Engine struct {
	cfg        *gates.GateConfig
	gateSet    []gates.Gate
	snapshots  SnapshotProvider
	classifier *market_regime.Classifier
	log        zerolog.Logger
}

// NewEngine creates a decision engine with the standard gate chain.
func NewEngine(cfg *gates.GateConfig, snapshots SnapshotProvider, classifier *market_regime.Classifier, log zerolog.Logger) *Engine {
	return NewEngineWithGates(cfg, gates.DefaultGates(), snapshots, classifier, log)
}

// NewEngineWithGates creates an engine with an explicit gate chain. Tests
// use it to instrument gate call counts.
func NewEngineWithGates(cfg *gates.GateConfig, gateSet []gates.Gate, snapshots SnapshotProvider, classifier *market_regime.Classifier, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		gateSet:    gateSet,
		snapshots:  snapshots,
		classifier: classifier,
		log:        log.With().Str("component", "decision_engine").Str("engine_version", versionString(cfg)).Logger(),
	}
}

func versionString(cfg *gates.GateConfig) string {
	return fmt.Sprintf("%s/v%d", cfg.Name, cfg.Version)
}

// Version identifies this engine's config for routing and audit.
func (e *Engine) Version() string {
	return versionString(e.cfg)
}

// Config returns the bound gate config.
func (e *Engine) Config() *gates.GateConfig {
	return e.cfg
}

// Decide evaluates one signal. Every configured gate runs exactly once; the
// results are cached on the decision and never re-run downstream. A missing
// market snapshot degrades the market-dependent gates to their neutral
// score instead of failing the decision.
func (e *Engine) Decide(ctx context.Context, sig *signals.Signal) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	snap := e.fetchSnapshot(ctx, sig.Ticker, now)
	regime := e.classifier.Classify(snap)

	in := gates.Inputs{
		Signal:   sig,
		Snapshot: snap,
		Regime:   regime,
		Now:      now,
	}
	results := gates.EvaluateAll(e.gateSet, in, e.cfg)

	// Confluence is computed before any short-circuit so a SKIP still
	// records the score it would have had.
	confluence := gates.Score(results, e.cfg)

	decision := &Decision{
		ConfluenceScore: confluence,
		Breakdown:       buildBreakdown(results, e.cfg),
		GateResults:     results,
		Regime:          regime,
		EngineVersion:   e.Version(),
		DecidedAt:       now,
	}

	switch {
	case len(results.HardFailed()) > 0:
		decision.Kind = domain.DecisionSkip
		decision.Reason = strings.Join(results.FailureReasonUnion(), "; ")
		decision.Hypothetical = BuildPlan(sig, e.cfg)

	case confluence < e.cfg.ActionThreshold:
		decision.Kind = domain.DecisionWait
		decision.Reason = fmt.Sprintf("confluence %.1f below action threshold %.1f", confluence, e.cfg.ActionThreshold)
		decision.Hypothetical = BuildPlan(sig, e.cfg)

	default:
		if sig.Direction == domain.DirectionShort {
			decision.Kind = domain.DecisionActShort
		} else {
			decision.Kind = domain.DecisionActLong
		}
		decision.Reason = fmt.Sprintf("confluence %.1f clears action threshold %.1f", confluence, e.cfg.ActionThreshold)
		decision.Plan = BuildPlan(sig, e.cfg)
	}

	e.log.Debug().
		Str("ticker", sig.Ticker).
		Str("kind", string(decision.Kind)).
		Float64("confluence", confluence).
		Str("regime", string(regime.Trend)).
		Msg("Decision computed")

	return decision, nil
}

// fetchSnapshot returns market context or a degraded stand-in. Degraded
// market data is observable in the gate results, never fatal here.
func (e *Engine) fetchSnapshot(ctx context.Context, ticker string, now time.Time) *marketdata.Snapshot {
	if e.snapshots == nil {
		return marketdata.DegradedSnapshot(ticker, now)
	}

	snap, err := e.snapshots.GetSnapshot(ctx, ticker)
	if err != nil || snap == nil {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("Deciding on degraded market data")
		return marketdata.DegradedSnapshot(ticker, now)
	}
	return snap
}
