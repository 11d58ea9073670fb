package sim

import (
	"context"
	"math"
	"testing"

	"github.com/chronoportal/server/internal/behavior"
	"github.com/chronoportal/server/internal/keyframe"
	"github.com/chronoportal/server/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStepper(t *testing.T, opts Options, defs ...core.AgentDefinition) (*Stepper, *keyframe.Store, *World) {
	t.Helper()
	world := NewWorld()
	for _, d := range defs {
		require.NoError(t, world.Add(d))
	}
	store := keyframe.NewStore()
	require.NoError(t, store.Bootstrap(0, world.StartKeyframe()))

	s, err := NewStepper(store, world, behavior.Default(), opts)
	require.NoError(t, err)
	return s, store, world
}

func mover(id core.AgentID) core.AgentDefinition {
	return core.AgentDefinition{ID: id, Player: core.PlayerRed, Variant: behavior.Mover}
}

func TestAdvanceTo_MoverRule(t *testing.T) {
	s, _, _ := newTestStepper(t, Options{}, mover(1))
	ctx := context.Background()

	kf, err := s.AdvanceTo(ctx, 10)
	require.NoError(t, err)
	st, ok := kf.Get(1)
	require.True(t, ok)
	assert.Equal(t, core.Coordinates{X: 10, Y: 100}, st.Location)

	kf, err = s.AdvanceTo(ctx, 20)
	require.NoError(t, err)
	st, _ = kf.Get(1)
	assert.Equal(t, core.Coordinates{X: 20, Y: 400}, st.Location)
}

func TestAdvanceTo_NonMoverStaysPut(t *testing.T) {
	scout := core.AgentDefinition{
		ID:               2,
		Player:           core.PlayerBlue,
		Variant:          behavior.Scout,
		StartLocation:    core.Coordinates{X: 5, Y: -3},
		StartOrientation: 0.75,
	}
	unknown := core.AgentDefinition{ID: 3, Variant: "unregistered", StartLocation: core.Coordinates{X: 1, Y: 1}}
	s, _, _ := newTestStepper(t, Options{}, scout, unknown)

	for _, tick := range []core.TimeIndex{1, 7, 30} {
		kf, err := s.AdvanceTo(context.Background(), tick)
		require.NoError(t, err)

		st, _ := kf.Get(2)
		assert.Equal(t, scout.StartState(), st)
		st, _ = kf.Get(3)
		assert.Equal(t, unknown.StartState(), st)
	}
}

func TestAdvanceTo_CacheFillsEveryTick(t *testing.T) {
	s, store, _ := newTestStepper(t, Options{}, mover(1))

	_, err := s.AdvanceTo(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []core.TimeIndex{0, 1, 2, 3, 4, 5}, store.Ticks())

	_, err = s.AdvanceTo(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, 9, store.Len())
}

func TestAdvanceTo_Idempotent(t *testing.T) {
	s, store, _ := newTestStepper(t, Options{}, mover(1), mover(2))
	ctx := context.Background()

	first, err := s.AdvanceTo(ctx, 12)
	require.NoError(t, err)
	before := store.Ticks()

	second, err := s.AdvanceTo(ctx, 12)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, before, store.Ticks())
}

func TestAdvanceTo_OrderIndependent(t *testing.T) {
	ctx := context.Background()
	queries := [][]core.TimeIndex{
		{3, 9, 15},
		{15, 3, 9},
		{9, 15, 3},
	}

	var reference map[core.TimeIndex]*core.Keyframe
	for _, order := range queries {
		s, _, _ := newTestStepper(t, Options{}, mover(1), mover(4))
		got := make(map[core.TimeIndex]*core.Keyframe)
		for _, tick := range order {
			kf, err := s.AdvanceTo(ctx, tick)
			require.NoError(t, err)
			got[tick] = kf
		}
		if reference == nil {
			reference = got
			continue
		}
		for tick, kf := range got {
			assert.True(t, reference[tick].Equal(kf), "tick %d differs for order %v", tick, order)
		}
	}
}

func TestAdvanceTo_BeforeBootstrap(t *testing.T) {
	world := NewWorld()
	require.NoError(t, world.Add(mover(1)))
	store := keyframe.NewStore()
	require.NoError(t, store.Bootstrap(10, world.StartKeyframe()))
	s, err := NewStepper(store, world, behavior.Default(), Options{})
	require.NoError(t, err)

	_, err = s.AdvanceTo(context.Background(), 9)
	assert.ErrorIs(t, err, keyframe.ErrNoAnchor)
}

func TestAdvanceTo_EmptyStore(t *testing.T) {
	s, err := NewStepper(keyframe.NewStore(), NewWorld(), behavior.Default(), Options{})
	require.NoError(t, err)

	_, err = s.AdvanceTo(context.Background(), 0)
	assert.ErrorIs(t, err, keyframe.ErrNoAnchor)
}

func TestAdvanceTo_LateAgentCopiedForward(t *testing.T) {
	s, _, world := newTestStepper(t, Options{}, mover(1))
	ctx := context.Background()

	kf, err := s.AdvanceTo(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, kf.Len())

	late := core.AgentDefinition{ID: 9, Variant: behavior.Builder, StartLocation: core.Coordinates{X: 4, Y: 4}}
	require.NoError(t, world.Add(late))

	kf, err = s.AdvanceTo(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, []core.AgentID{1, 9}, kf.IDs())
	st, _ := kf.Get(9)
	assert.Equal(t, late.StartState(), st)

	// history is not rewritten
	old, err := s.AdvanceTo(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, old.Len())
}

func TestAdvanceTo_StepLimit(t *testing.T) {
	s, store, _ := newTestStepper(t, Options{MaxStep: 10}, mover(1))

	_, err := s.AdvanceTo(context.Background(), 11)
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Equal(t, 1, store.Len())

	_, err = s.AdvanceTo(context.Background(), 10)
	require.NoError(t, err)
	_, err = s.AdvanceTo(context.Background(), 20)
	require.NoError(t, err)
}

func TestAdvanceTo_Cancelled(t *testing.T) {
	s, store, _ := newTestStepper(t, Options{}, mover(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.AdvanceTo(ctx, 50)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.Len())

	kf, err := s.AdvanceTo(context.Background(), 50)
	require.NoError(t, err)
	st, _ := kf.Get(1)
	assert.Equal(t, 50.0, st.Location.X)
}

func TestAdvanceTo_FailingRuleLeavesNoPartialTick(t *testing.T) {
	rules := behavior.Default()
	rules.MustRegister("unstable", func(prev core.AgentState, tick core.TimeIndex) core.AgentState {
		if tick == 4 {
			return core.AgentState{Location: core.Coordinates{X: math.NaN()}}
		}
		return prev
	})
	rules.MustRegister("panicky", func(prev core.AgentState, tick core.TimeIndex) core.AgentState {
		if tick == 2 {
			panic("boom")
		}
		return prev
	})

	tests := []struct {
		name    string
		variant core.Variant
		stored  []core.TimeIndex
	}{
		{"non-finite state", "unstable", []core.TimeIndex{0, 1, 2, 3}},
		{"panic", "panicky", []core.TimeIndex{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			world := NewWorld()
			require.NoError(t, world.Add(mover(1)))
			require.NoError(t, world.Add(core.AgentDefinition{ID: 2, Variant: tt.variant}))
			store := keyframe.NewStore()
			require.NoError(t, store.Bootstrap(0, world.StartKeyframe()))
			s, err := NewStepper(store, world, rules, Options{})
			require.NoError(t, err)

			_, err = s.AdvanceTo(context.Background(), 6)
			assert.ErrorIs(t, err, ErrRuleFailed)
			assert.Equal(t, tt.stored, store.Ticks())
		})
	}
}

func TestAdvanceTo_ParallelMatchesSequential(t *testing.T) {
	defs := make([]core.AgentDefinition, 0, 200)
	for i := 0; i < 200; i++ {
		v := behavior.Mover
		if i%3 == 0 {
			v = behavior.Basic
		}
		defs = append(defs, core.AgentDefinition{
			ID:            core.AgentID(i),
			Variant:       v,
			StartLocation: core.Coordinates{X: float64(i), Y: 0},
		})
	}

	seq, _, _ := newTestStepper(t, Options{Workers: 1}, defs...)
	par, _, _ := newTestStepper(t, Options{Workers: 8}, defs...)

	a, err := seq.AdvanceTo(context.Background(), 40)
	require.NoError(t, err)
	b, err := par.AdvanceTo(context.Background(), 40)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.Equal(t, 200, b.Len())
}

func TestAdvanceTo_ConcurrentCallers(t *testing.T) {
	s, store, _ := newTestStepper(t, Options{}, mover(1))
	ctx := context.Background()

	done := make(chan *core.Keyframe, 8)
	for i := 0; i < 8; i++ {
		go func() {
			kf, err := s.AdvanceTo(ctx, 100)
			assert.NoError(t, err)
			done <- kf
		}()
	}
	for i := 0; i < 8; i++ {
		kf := <-done
		st, _ := kf.Get(1)
		assert.Equal(t, core.Coordinates{X: 100, Y: 10000}, st.Location)
	}
	assert.Equal(t, 101, store.Len())
}

func TestAdvanceTo_Float32(t *testing.T) {
	rules := behavior.NewRegistry()
	rules.MustRegister("third", func(prev core.AgentState, _ core.TimeIndex) core.AgentState {
		return core.AgentState{Location: core.Coordinates{X: 1.0 / 3.0}}
	})
	world := NewWorld()
	require.NoError(t, world.Add(core.AgentDefinition{ID: 1, Variant: "third"}))
	store := keyframe.NewStore()
	require.NoError(t, store.Bootstrap(0, world.StartKeyframe()))
	s, err := NewStepper(store, world, rules, Options{Float32: true})
	require.NoError(t, err)

	kf, err := s.AdvanceTo(context.Background(), 1)
	require.NoError(t, err)
	st, _ := kf.Get(1)
	assert.Equal(t, float64(float32(1.0/3.0)), st.Location.X)
	assert.NotEqual(t, 1.0/3.0, st.Location.X)
}

func TestWorld(t *testing.T) {
	w := NewWorld()
	require.NoError(t, w.Add(mover(5)))
	require.NoError(t, w.Add(mover(2)))

	err := w.Add(mover(5))
	assert.ErrorIs(t, err, ErrDuplicateAgentID)

	_, err = w.Get(7)
	assert.ErrorIs(t, err, ErrUnknownAgentID)

	all := w.All()
	require.Len(t, all, 2)
	assert.Equal(t, core.AgentID(2), all[0].ID)
	assert.Equal(t, core.AgentID(5), all[1].ID)
	assert.Equal(t, []core.AgentID{2, 5}, w.StartKeyframe().IDs())

	w.Reset()
	assert.Equal(t, 0, w.Len())
	require.NoError(t, w.Add(mover(5)))
}

func TestAdvanceTo_Float32StartStatesStayPut(t *testing.T) {
	scout := core.AgentDefinition{
		ID:               1,
		Variant:          behavior.Scout,
		StartLocation:    core.Coordinates{X: 0.1, Y: 0.3},
		StartOrientation: 0.7,
	}
	world := NewWorld()
	require.NoError(t, world.Add(scout))
	store := keyframe.NewStore()
	s, err := NewStepper(store, world, behavior.Default(), Options{Float32: true})
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap(0, s.StartKeyframe()))

	first, err := s.AdvanceTo(context.Background(), 0)
	require.NoError(t, err)
	next, err := s.AdvanceTo(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, first.Equal(next))

	st, _ := first.Get(1)
	assert.Equal(t, float64(float32(0.1)), st.Location.X)

	late := core.AgentDefinition{ID: 2, Variant: behavior.Knight, StartLocation: core.Coordinates{X: 0.2, Y: 0.7}}
	require.NoError(t, world.Add(late))
	a, err := s.AdvanceTo(context.Background(), 2)
	require.NoError(t, err)
	b, err := s.AdvanceTo(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestStartKeyframe_Float64KeepsStartStates(t *testing.T) {
	s, _, world := newTestStepper(t, Options{}, mover(1))
	require.NoError(t, world.Add(core.AgentDefinition{ID: 2, StartLocation: core.Coordinates{X: 0.1}}))

	kf := s.StartKeyframe()
	st, ok := kf.Get(2)
	require.True(t, ok)
	assert.Equal(t, 0.1, st.Location.X)
	assert.True(t, world.StartKeyframe().Equal(kf))
}

func TestAdvanceTo_ParallelRuleFailure(t *testing.T) {
	rules := behavior.Default()
	rules.MustRegister("panicky", func(prev core.AgentState, tick core.TimeIndex) core.AgentState {
		if tick == 3 {
			panic("boom")
		}
		return prev
	})
	defs := make([]core.AgentDefinition, 0, 128)
	for i := 0; i < 128; i++ {
		defs = append(defs, mover(core.AgentID(i)))
	}
	defs[77].Variant = "panicky"

	world := NewWorld()
	for _, d := range defs {
		require.NoError(t, world.Add(d))
	}
	store := keyframe.NewStore()
	require.NoError(t, store.Bootstrap(0, world.StartKeyframe()))
	s, err := NewStepper(store, world, rules, Options{Workers: 4})
	require.NoError(t, err)

	_, err = s.AdvanceTo(context.Background(), 5)
	assert.ErrorIs(t, err, ErrRuleFailed)
	assert.Equal(t, []core.TimeIndex{0, 1, 2}, store.Ticks())
}

func TestAdvanceTo_NoStepLimitByDefault(t *testing.T) {
	s, _, _ := newTestStepper(t, Options{}, core.AgentDefinition{ID: 1, Variant: behavior.Scout})

	kf, err := s.AdvanceTo(context.Background(), 100001)
	require.NoError(t, err)
	assert.Equal(t, 1, kf.Len())
}
