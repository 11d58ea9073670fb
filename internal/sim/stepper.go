// Package sim advances the agent population through time and memoizes
// every computed tick in a keyframe store.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/chronoportal/server/internal/behavior"
	"github.com/chronoportal/server/internal/keyframe"
	"github.com/chronoportal/server/pkg/core"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrStepLimit is returned when a query would compute more ticks than allowed in one call.
	ErrStepLimit = errors.New("advance exceeds step limit")
	// ErrRuleFailed is returned when an agent rule panics or yields a non-finite state.
	ErrRuleFailed = errors.New("agent rule failed")
)

const instrumentationName = "github.com/chronoportal/server/internal/sim"

// parallelThreshold is the agent count below which a tick is computed on the calling goroutine.
const parallelThreshold = 64

// Options tunes a Stepper.
type Options struct {
	// Workers bounds the per-tick fan-out. 0 or 1 computes agents sequentially.
	Workers int
	// MaxStep caps how many ticks one AdvanceTo may compute. 0 means unlimited.
	MaxStep uint32
	// Float32 rounds every computed state to single precision.
	Float32 bool
	Logger  *slog.Logger
}

// Stepper answers "what does the world look like at tick T".
type Stepper struct {
	store *keyframe.Store
	world *World
	rules *behavior.Registry
	opts  Options
	log   *slog.Logger

	ticksComputed metric.Int64Counter
	cacheHits     metric.Int64Counter
	advanceTime   metric.Float64Histogram
	storeSize     metric.Int64ObservableGauge
}

// NewStepper creates a stepper over store. Metrics go to the global OTel meter
// provider (no-op unless one is installed).
func NewStepper(store *keyframe.Store, world *World, rules *behavior.Registry, opts Options) (*Stepper, error) {
	s := &Stepper{
		store: store,
		world: world,
		rules: rules,
		opts:  opts,
		log:   opts.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	m := otel.Meter(instrumentationName)
	var err error

	s.ticksComputed, err = m.Int64Counter(
		"sim.ticks.computed",
		metric.WithDescription("Ticks computed and inserted into the keyframe store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ticks counter: %w", err)
	}

	s.cacheHits, err = m.Int64Counter(
		"sim.cache.hits",
		metric.WithDescription("Advance requests answered from an already stored tick"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cache hit counter: %w", err)
	}

	s.advanceTime, err = m.Float64Histogram(
		"sim.advance.duration",
		metric.WithDescription("Time spent in AdvanceTo"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating advance histogram: %w", err)
	}

	s.storeSize, err = m.Int64ObservableGauge(
		"sim.store.size",
		metric.WithDescription("Number of keyframes held in the store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating store size gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(s.storeSize, int64(s.store.Len()))
			return nil
		},
		s.storeSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering store size callback: %w", err)
	}

	return s, nil
}

// AdvanceTo returns the keyframe at target, computing and storing every tick
// between the closest stored tick and target. Ticks stored before an error or
// cancellation remain valid.
func (s *Stepper) AdvanceTo(ctx context.Context, target core.TimeIndex) (*core.Keyframe, error) {
	start := time.Now()
	defer func() {
		s.advanceTime.Record(ctx, float64(time.Since(start).Microseconds())/1000)
	}()

	anchor, kf, err := s.store.ClosestAtOrBefore(target)
	if err != nil {
		return nil, fmt.Errorf("advance to %d: %w", target, err)
	}
	if anchor == target {
		s.cacheHits.Add(ctx, 1)
		return kf, nil
	}

	distance := uint32(target - anchor)
	if s.opts.MaxStep > 0 && distance > s.opts.MaxStep {
		return nil, fmt.Errorf("advance from %d to %d (%d ticks, limit %d): %w",
			anchor, target, distance, s.opts.MaxStep, ErrStepLimit)
	}

	s.log.Debug("advancing", "from", anchor, "to", target, "agents", kf.Len())

	prev := kf
	for tick := anchor; tick < target; {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("advance to %d stopped at %d: %w", target, tick, err)
		}
		tick++

		next, err := s.step(ctx, prev, tick)
		if err != nil {
			return nil, fmt.Errorf("computing tick %d: %w", tick, err)
		}
		if err := s.store.Insert(tick, next); err != nil {
			return nil, fmt.Errorf("storing tick %d: %w", tick, err)
		}
		s.ticksComputed.Add(ctx, 1)
		prev = next
	}

	return prev, nil
}

// step computes one tick from the previous keyframe. Agents registered after
// prev was built join at their start state.
func (s *Stepper) step(ctx context.Context, prev *core.Keyframe, tick core.TimeIndex) (*core.Keyframe, error) {
	entries := prev.Entries()
	out := make([]core.AgentEntry, len(entries))

	if s.opts.Workers <= 1 || len(entries) < parallelThreshold {
		for i, e := range entries {
			st, err := s.advanceOne(e, tick)
			if err != nil {
				return nil, err
			}
			out[i] = core.AgentEntry{ID: e.ID, State: st}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.Workers)
		chunk := (len(entries) + s.opts.Workers - 1) / s.opts.Workers
		for lo := 0; lo < len(entries); lo += chunk {
			lo, hi := lo, min(lo+chunk, len(entries))
			g.Go(func() error {
				for i := lo; i < hi; i++ {
					if err := gctx.Err(); err != nil {
						return err
					}
					st, err := s.advanceOne(entries[i], tick)
					if err != nil {
						return err
					}
					out[i] = core.AgentEntry{ID: entries[i].ID, State: st}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	b := core.NewKeyframeBuilder(len(out))
	for _, e := range out {
		b.Set(e.ID, e.State)
	}
	for _, def := range s.world.All() {
		if !b.Has(def.ID) {
			b.Set(def.ID, s.startState(def))
		}
	}
	return b.Build(), nil
}

// StartKeyframe places every registered agent at its start state, rounded
// the same way computed ticks are.
func (s *Stepper) StartKeyframe() *core.Keyframe {
	defs := s.world.All()
	b := core.NewKeyframeBuilder(len(defs))
	for _, def := range defs {
		b.Set(def.ID, s.startState(def))
	}
	return b.Build()
}

func (s *Stepper) startState(def core.AgentDefinition) core.AgentState {
	st := def.StartState()
	if s.opts.Float32 {
		st = round32(st)
	}
	return st
}

func (s *Stepper) advanceOne(e core.AgentEntry, tick core.TimeIndex) (st core.AgentState, err error) {
	rule := behavior.Identity
	var variant core.Variant
	if def, lookupErr := s.world.Get(e.ID); lookupErr == nil {
		variant = def.Variant
		rule = s.rules.Rule(def.Variant)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %d (%s) at tick %d: %v: %w", e.ID, variant, tick, r, ErrRuleFailed)
		}
	}()

	st = rule(e.State, tick)
	if s.opts.Float32 {
		st = round32(st)
	}
	if !finite(st) {
		return core.AgentState{}, fmt.Errorf("agent %d (%s) at tick %d: non-finite state %+v: %w",
			e.ID, variant, tick, st, ErrRuleFailed)
	}
	return st, nil
}

func round32(s core.AgentState) core.AgentState {
	s.Location.X = float64(float32(s.Location.X))
	s.Location.Y = float64(float32(s.Location.Y))
	s.Orientation = core.Orientation(float32(s.Orientation))
	return s
}

func finite(s core.AgentState) bool {
	for _, v := range []float64{s.Location.X, s.Location.Y, float64(s.Orientation)} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
