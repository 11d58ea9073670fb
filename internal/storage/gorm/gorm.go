// Package gormstorage implements the storage.Backend interface on GORM with
// internal queues and a background writer goroutine. The sqlite and postgres
// backends wrap it.
package gormstorage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronoportal/server/internal/logging"
	"github.com/chronoportal/server/internal/model"
	"github.com/chronoportal/server/internal/model/convert"
	"github.com/chronoportal/server/internal/queue"
	"github.com/chronoportal/server/pkg/core"

	"gorm.io/gorm"
)

// DefaultFlushInterval is how often the writer drains the queues.
const DefaultFlushInterval = 2 * time.Second

// ErrNoSession is returned when recording before StartGame.
var ErrNoSession = errors.New("no game session started")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	LogManager    *logging.SlogManager
	FlushInterval time.Duration
}

// queues holds the write queues for batch DB insertion.
type queues struct {
	Agents    *queue.Queue[model.Agent]
	Keyframes *queue.Queue[model.Keyframe]
	Portals   *queue.Queue[model.Portal]
}

func newQueues() *queues {
	return &queues{
		Agents:    queue.New[model.Agent](),
		Keyframes: queue.New[model.Keyframe](),
		Portals:   queue.New[model.Portal](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	queues    *queues
	sessionID atomic.Uint64
	stopChan  chan struct{}
	done      chan struct{}
	flushMu   sync.Mutex
	closeOnce sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// SetDB injects a connection opened after New. It must be called before Init.
func (b *Backend) SetDB(db *gorm.DB) {
	b.deps.DB = db
}

// Init migrates the schema and starts the writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend: no database connection")
	}

	log := b.deps.LogManager
	log.WriteLog("setupDB", "Migrating schema", "INFO")
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.WriteLog("setupDB", "Database setup complete", "INFO")

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writerLoop()
	return nil
}

// Close stops the writer goroutine and writes whatever is still queued.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.stopChan != nil {
			close(b.stopChan)
			<-b.done
		}
		if b.deps.DB != nil {
			err = b.Flush()
		}
	})
	return err
}

// StartGame inserts the session row and assigns its ID.
func (b *Backend) StartGame(s *core.Session) error {
	if b.deps.DB == nil {
		return nil
	}

	// rows queued for a previous session go out under that session's id
	if err := b.Flush(); err != nil {
		return err
	}

	row := convert.SessionToModel(*s)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert game session: %w", err)
	}
	s.ID = row.ID
	b.sessionID.Store(uint64(row.ID))
	return nil
}

// EndGame flushes the queues and stamps the session end time.
func (b *Backend) EndGame() error {
	if b.deps.DB == nil {
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}
	id := uint(b.sessionID.Load())
	if id == 0 {
		return ErrNoSession
	}
	err := b.deps.DB.Model(&model.GameSession{}).
		Where("id = ?", id).
		Update("end_time", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to end game session %d: %w", id, err)
	}
	return nil
}

// RecordAgent converts and queues an agent definition.
func (b *Backend) RecordAgent(def core.AgentDefinition) error {
	b.queues.Agents.Push(convert.AgentToModel(0, def, time.Now().UTC()))
	return nil
}

// RecordKeyframe converts and queues a keyframe.
func (b *Backend) RecordKeyframe(tick core.TimeIndex, kf *core.Keyframe) error {
	row, err := convert.KeyframeToModel(0, tick, kf, time.Now().UTC())
	if err != nil {
		return err
	}
	b.queues.Keyframes.Push(row)
	return nil
}

// RecordPortal converts and queues a portal.
func (b *Backend) RecordPortal(p core.Portal) error {
	b.queues.Portals.Push(convert.PortalToModel(0, p, time.Now().UTC()))
	return nil
}

// Flush writes every queued row in one pass. Failed batches go back on their queue.
func (b *Backend) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if b.deps.DB == nil {
		return nil
	}

	// Read sessionID once per write cycle
	sessionID := uint(b.sessionID.Load())
	if sessionID == 0 {
		return nil
	}

	log := b.deps.LogManager.WriteLog
	return errors.Join(
		writeQueue(b.deps.DB, b.queues.Agents, "agents", log, func(items []model.Agent) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
		writeQueue(b.deps.DB, b.queues.Keyframes, "keyframes", log, func(items []model.Keyframe) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
		writeQueue(b.deps.DB, b.queues.Portals, "portals", log, func(items []model.Portal) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}),
	)
}

// writeQueue writes all items from a queue to the database in a transaction.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log func(string, string, string), prepare func([]T)) error {
	items := q.Drain()
	if len(items) == 0 {
		return nil
	}
	if prepare != nil {
		prepare(items)
	}

	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		log(":DB:WRITER:", fmt.Sprintf("Error creating %s: %v", name, err), "ERROR")
		tx.Rollback()
		q.Requeue(items)
		return fmt.Errorf("writing %d %s: %w", len(items), name, err)
	}
	if err := tx.Commit().Error; err != nil {
		q.Requeue(items)
		return fmt.Errorf("committing %s: %w", name, err)
	}
	return nil
}

// writerLoop periodically drains the queues into the DB.
func (b *Backend) writerLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			// errors are logged by writeQueue and the batch retried next cycle
			_ = b.Flush()
		}
	}
}

// Pending returns the number of queued rows.
func (b *Backend) Pending() int {
	return b.queues.Agents.Len() + b.queues.Keyframes.Len() + b.queues.Portals.Len()
}
