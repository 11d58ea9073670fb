// Package game is the server surface external collaborators call into: it
// owns the agent table, keyframe store, stepper and portal registry of one
// running game and records everything to the configured storage backend.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chronoportal/server/internal/behavior"
	"github.com/chronoportal/server/internal/config"
	"github.com/chronoportal/server/internal/dispatcher"
	"github.com/chronoportal/server/internal/geo"
	"github.com/chronoportal/server/internal/influx"
	"github.com/chronoportal/server/internal/keyframe"
	"github.com/chronoportal/server/internal/logging"
	"github.com/chronoportal/server/internal/portal"
	"github.com/chronoportal/server/internal/sim"
	"github.com/chronoportal/server/internal/storage"
	"github.com/chronoportal/server/pkg/core"

	geom "github.com/peterstace/simplefeatures/geom"
)

var (
	// ErrAlreadyStarted is returned by StartGame when a game is running.
	ErrAlreadyStarted = errors.New("game already started")
	// ErrNotStarted is returned by operations that need a running game.
	ErrNotStarted = errors.New("game not started")
	// ErrInvalidPrecision is returned for an engine precision other than f32 or f64.
	ErrInvalidPrecision = errors.New("precision must be f32 or f64")
)

// BootstrapTick is the tick every game starts at.
const BootstrapTick core.TimeIndex = 0

const (
	kindRecord  = "record"
	kindMetrics = "metrics"

	recordBuffer  = 4096
	metricsBuffer = 256
)

// Dependencies wires a Server. Only Engine is required.
type Dependencies struct {
	Engine     config.EngineConfig
	Rules      *behavior.Registry
	Storage    storage.Backend
	Metrics    *influx.Manager
	LogManager *logging.SlogManager
	Version    string
}

// Server runs one game at a time.
type Server struct {
	deps Dependencies
	log  *slog.Logger

	world   *sim.World
	store   *keyframe.Store
	stepper *sim.Stepper
	portals *portal.Registry
	events  *dispatcher.Dispatcher

	// mu serializes game lifecycle against queries
	mu      sync.RWMutex
	session *core.Session
}

// New builds a Server. Storage must already be initialized.
func New(deps Dependencies) (*Server, error) {
	if deps.Engine.Precision == "" {
		deps.Engine.Precision = "f64"
	}
	if deps.Engine.Precision != "f32" && deps.Engine.Precision != "f64" {
		return nil, fmt.Errorf("%q: %w", deps.Engine.Precision, ErrInvalidPrecision)
	}
	if deps.Rules == nil {
		deps.Rules = behavior.Default()
	}
	if deps.Storage == nil {
		deps.Storage = storage.Nop{}
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}

	s := &Server{
		deps:    deps,
		log:     deps.LogManager.Component("game"),
		world:   sim.NewWorld(),
		store:   keyframe.NewStore(),
		portals: portal.NewRegistry(),
	}

	var err error
	s.stepper, err = sim.NewStepper(s.store, s.world, deps.Rules, sim.Options{
		Workers: deps.Engine.Workers,
		MaxStep: deps.Engine.MaxStep,
		Float32: deps.Engine.Precision == "f32",
		Logger:  s.log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating stepper: %w", err)
	}

	s.events, err = dispatcher.New(s.log)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	// recordings must not lose ticks, so a full queue applies back-pressure
	s.events.Register(kindRecord, s.handleRecord, dispatcher.Buffered(recordBuffer), dispatcher.Blocking(), dispatcher.Logged())
	if deps.Metrics != nil {
		s.events.Register(kindMetrics, s.handleMetrics, dispatcher.Buffered(metricsBuffer))
	}

	s.store.OnInsert(func(tick core.TimeIndex, kf *core.Keyframe) {
		s.record(keyframeRecord{tick: tick, kf: kf})
	})

	return s, nil
}

// StartGame seeds the store at BootstrapTick with every agent at its start
// state and registers the agents. A second call fails with ErrAlreadyStarted
// (which also matches keyframe.ErrAlreadyBootstrapped) until EndGame or Restart.
func (s *Server) StartGame(ctx context.Context, defs []core.AgentDefinition) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlreadyStarted, keyframe.ErrAlreadyBootstrapped)
	}
	return s.start(ctx, defs)
}

// Restart ends the running game, if any, and starts a new one.
func (s *Server) Restart(ctx context.Context, defs []core.AgentDefinition) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		if err := s.end(ctx); err != nil {
			return nil, err
		}
	}
	return s.start(ctx, defs)
}

// start must be called with mu held.
func (s *Server) start(ctx context.Context, defs []core.AgentDefinition) (*core.Session, error) {
	if err := checkUnique(defs); err != nil {
		return nil, err
	}

	session := &core.Session{
		StartTime:     time.Now().UTC(),
		ServerVersion: s.deps.Version,
		Precision:     s.deps.Engine.Precision,
	}
	if err := s.deps.Storage.StartGame(session); err != nil {
		return nil, fmt.Errorf("starting storage session: %w", err)
	}

	s.world.Reset()
	s.portals.Reset()
	for _, def := range defs {
		// ids were checked above
		_ = s.world.Add(def)
		s.record(agentRecord{def: def})
	}

	// history from an ended game is dropped here
	kf := s.stepper.StartKeyframe()
	if s.store.Len() > 0 {
		s.store.Reseed(BootstrapTick, kf)
	} else if err := s.store.Bootstrap(BootstrapTick, kf); err != nil {
		return nil, err
	}

	s.session = session
	s.log.InfoContext(ctx, "A new game has been started!",
		"session", session.ID,
		"agents", len(defs),
		"precision", session.Precision,
	)
	return session, nil
}

func checkUnique(defs []core.AgentDefinition) error {
	seen := make(map[core.AgentID]struct{}, len(defs))
	for _, d := range defs {
		if _, ok := seen[d.ID]; ok {
			return fmt.Errorf("agent %d: %w", d.ID, sim.ErrDuplicateAgentID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

// EndGame waits for pending records and closes the storage session. The
// store keeps its history until the next Restart.
func (s *Server) EndGame(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNotStarted
	}
	return s.end(ctx)
}

// end must be called with mu held.
func (s *Server) end(ctx context.Context) error {
	if err := s.sync(ctx); err != nil {
		return err
	}
	if err := s.deps.Storage.EndGame(); err != nil {
		return fmt.Errorf("ending storage session: %w", err)
	}
	s.log.InfoContext(ctx, "Game ended", "session", s.session.ID)
	s.session = nil
	return nil
}

// Session returns the running session, or nil.
func (s *Server) Session() *core.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// AddAgent registers an agent in the running game. It joins at its start
// state on the next computed tick; history is never rewritten.
func (s *Server) AddAgent(def core.AgentDefinition) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ErrNotStarted
	}
	if err := s.world.Add(def); err != nil {
		return err
	}
	s.record(agentRecord{def: def})
	return nil
}

// Agent returns a registered agent definition.
func (s *Server) Agent(id core.AgentID) (core.AgentDefinition, error) {
	return s.world.Get(id)
}

// Agents returns every registered agent ordered by id.
func (s *Server) Agents() []core.AgentDefinition {
	return s.world.All()
}

// AdvanceTo returns the authoritative keyframe at tick. It fails with
// ErrNotStarted outside a session so no keyframe is recorded after EndGame.
func (s *Server) AdvanceTo(ctx context.Context, tick core.TimeIndex) (*core.Keyframe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, ErrNotStarted
	}

	before := s.store.Len()
	start := time.Now()
	kf, err := s.stepper.AdvanceTo(ctx, tick)
	if err != nil {
		return nil, err
	}

	if s.deps.Metrics != nil {
		after := s.store.Len()
		s.metric(influx.BucketEngine, influx.AdvancePoint(influx.AdvanceSample{
			SessionID: s.session.ID,
			Target:    tick,
			Computed:  after - before,
			Duration:  time.Since(start),
			StoreSize: after,
			At:        start,
		}))
	}
	return kf, nil
}

// Keyframe returns a stored keyframe without computing anything.
func (s *Server) Keyframe(tick core.TimeIndex) (*core.Keyframe, error) {
	return s.store.Get(tick)
}

// Trajectory returns the path agent id followed across the stored ticks in
// [from, to]. Nothing is computed; ticks not yet stored are skipped.
func (s *Server) Trajectory(id core.AgentID, from, to core.TimeIndex) (geom.LineString, error) {
	if _, err := s.world.Get(id); err != nil {
		return geom.LineString{}, err
	}
	var path []core.Coordinates
	s.store.Range(from, to, func(_ core.TimeIndex, kf *core.Keyframe) bool {
		if st, ok := kf.Get(id); ok {
			path = append(path, st.Location)
		}
		return true
	})
	return geo.Trajectory(path), nil
}

// CreatePortal validates and registers a portal for the running game.
func (s *Server) CreatePortal(ctx context.Context, req portal.Request) (core.Portal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return core.Portal{}, ErrNotStarted
	}

	p, err := s.portals.Create(req)
	if err != nil {
		return core.Portal{}, err
	}
	s.log.DebugContext(ctx, "portal created",
		"id", p.ID,
		"player", p.Player.String(),
		"scale", p.Compression.Scale,
		"duration", p.Compression.Duration,
	)
	s.record(portalRecord{portal: p})
	if s.deps.Metrics != nil {
		s.metric(influx.BucketGame, influx.PortalPoint(s.session.ID, p, time.Now()))
	}
	return p, nil
}

// Portal returns a portal by id.
func (s *Server) Portal(id uint) (core.Portal, error) {
	return s.portals.Get(id)
}

// Portals returns every portal of the running game ordered by id.
func (s *Server) Portals() []core.Portal {
	return s.portals.All()
}

// ActivePortals returns the portals with an endpoint open at tick.
func (s *Server) ActivePortals(tick core.TimeIndex) []core.Portal {
	return s.portals.ActiveAt(tick)
}

// Close ends a running game and drains the record queue. Storage is not closed.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	var err error
	if s.session != nil {
		err = s.end(ctx)
	}
	s.mu.Unlock()

	s.events.Close()
	return err
}

// Status is a point-in-time summary of the server.
type Status struct {
	Time       time.Time      `json:"time"`
	Running    bool           `json:"running"`
	SessionID  uint           `json:"sessionId"`
	Precision  string         `json:"precision"`
	LatestTick core.TimeIndex `json:"latestTick"`
	Keyframes  int            `json:"keyframes"`
	Agents     int            `json:"agents"`
	Portals    int            `json:"portals"`
	// PendingRecords counts records queued but not yet handed to storage.
	PendingRecords int `json:"pendingRecords"`
}

// Status reports the state of the running game.
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Time:      time.Now().UTC(),
		Precision: s.deps.Engine.Precision,
		Keyframes: s.store.Len(),
		Agents:    s.world.Len(),
		Portals:   s.portals.Len(),

		PendingRecords: s.events.Pending(kindRecord),
	}
	if s.session != nil {
		st.Running = true
		st.SessionID = s.session.ID
	}
	st.LatestTick, _ = s.store.Latest()
	return st
}
