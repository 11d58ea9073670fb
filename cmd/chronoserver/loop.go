package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronoportal/server/internal/behavior"
	"github.com/chronoportal/server/internal/game"
	"github.com/chronoportal/server/internal/portal"
	"github.com/chronoportal/server/pkg/core"
)

type loopConfig struct {
	tickRate    time.Duration
	until       uint32
	reportEvery uint32
}

// demoAgents is one agent of each built-in flavor.
func demoAgents() []core.AgentDefinition {
	return []core.AgentDefinition{
		{ID: 1, Player: core.PlayerRed, Variant: behavior.Mover},
		{ID: 2, Player: core.PlayerBlue, Variant: behavior.Scout, StartLocation: core.Coordinates{X: 10, Y: -4}, StartOrientation: 1.57},
		{ID: 3, Player: core.PlayerRed, Variant: behavior.Builder, StartLocation: core.Coordinates{X: -6, Y: 2}},
		{ID: 4, Player: core.PlayerBlue, Variant: behavior.Basic},
	}
}

// demoPortal links tick 100 back to tick 0, compressing time by 4.
func demoPortal(origin, dest core.Coordinates) portal.Request {
	return portal.Request{
		Player: core.PlayerRed,
		Origin: portal.EndpointSpec{Tick: 100, Location: origin, Lifetime: 500, Scale: 1},
		Dest:   portal.EndpointSpec{Tick: 0, Location: dest, Lifetime: 100, Scale: 4},
	}
}

// runLoop advances the game one tick per tickRate until ctx is done or the
// until tick (if non-zero) has been computed.
func runLoop(ctx context.Context, srv *game.Server, log *slog.Logger, cfg loopConfig) error {
	if cfg.tickRate <= 0 {
		cfg.tickRate = 100 * time.Millisecond
	}
	ticker := time.NewTicker(cfg.tickRate)
	defer ticker.Stop()

	var tick core.TimeIndex
	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping", "tick", tick)
			return ctx.Err()
		case <-ticker.C:
		}

		tick++
		kf, err := srv.AdvanceTo(ctx, tick)
		if err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
		if cfg.reportEvery > 0 && uint32(tick)%cfg.reportEvery == 0 {
			report(log, tick, kf)
		}
		if cfg.until > 0 && uint32(tick) >= cfg.until {
			return nil
		}
	}
}

func report(log *slog.Logger, tick core.TimeIndex, kf *core.Keyframe) {
	attrs := make([]any, 0, kf.Len()+1)
	attrs = append(attrs, slog.Uint64("tick", uint64(tick)))
	kf.Each(func(id core.AgentID, s core.AgentState) {
		attrs = append(attrs, slog.Group(fmt.Sprintf("agent%d", id),
			slog.Float64("x", s.Location.X),
			slog.Float64("y", s.Location.Y),
			slog.Float64("orientation", float64(s.Orientation)),
		))
	})
	log.Info("Agent positions", attrs...)
}

// reportPaths logs how far every agent travelled over the stored ticks.
func reportPaths(log *slog.Logger, srv *game.Server) {
	latest := srv.Status().LatestTick
	for _, def := range srv.Agents() {
		path, err := srv.Trajectory(def.ID, game.BootstrapTick, latest)
		if err != nil {
			log.Warn("Failed to build agent path", "agent", def.ID, "error", err)
			continue
		}
		log.Info("Agent path", "agent", def.ID, "variant", def.Variant, "ticks", latest, "distance", path.Length())
	}
}
