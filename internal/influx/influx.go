// Package influx exports engine performance points to InfluxDB, falling back
// to a gzip line-protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chronoportal/server/internal/config"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

const (
	// BucketEngine receives one point per AdvanceTo call.
	BucketEngine = "engine_performance"
	// BucketGame receives game events such as portal creation.
	BucketGame = "game_events"

	retention = 30 * 24 * time.Hour
)

// Buckets are created on connect when missing.
var Buckets = []string{BucketEngine, BucketGame}

var (
	// ErrDisabled is returned by Connect when export is switched off.
	ErrDisabled = errors.New("influx export disabled")
	// ErrNotConnected is returned by WritePoint before Connect or UseBackup.
	ErrNotConnected = errors.New("influx manager not connected")
	// ErrUnknownBucket is returned for a bucket without a writer.
	ErrUnknownBucket = errors.New("unknown influx bucket")
)

// Mode is where points currently go.
type Mode int

const (
	ModeNone Mode = iota
	ModeServer
	ModeBackup
)

func (m Mode) String() string {
	switch m {
	case ModeServer:
		return "server"
	case ModeBackup:
		return "backup"
	default:
		return "none"
	}
}

// Manager owns the InfluxDB client and the backup file.
type Manager struct {
	cfg        config.InfluxConfig
	log        zerolog.Logger
	backupPath string

	client  influxdb2.Client
	writers map[string]influxdb2_api.WriteAPI

	mu          sync.Mutex
	mode        Mode
	backupFile  *os.File
	backup      *gzip.Writer
	backupLines int
}

// NewManager creates a manager. Nothing is opened until Connect or UseBackup.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		cfg:        cfg,
		log:        log.With().Str("component", "influx").Logger(),
		backupPath: backupPath,
		writers:    make(map[string]influxdb2_api.WriteAPI),
	}
}

// Connect pings the server and prepares one writer per bucket. When the
// server does not answer, points go to the backup file instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.client = influxdb2.NewClientWithOptions(m.cfg.URL(), m.cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(2500).SetFlushInterval(1000))

	if ok, err := m.client.Ping(ctx); err != nil || !ok {
		m.log.Warn().Err(err).Str("url", m.cfg.URL()).Str("backupPath", m.backupPath).
			Msg("InfluxDB unreachable, writing points to backup file")
		m.client.Close()
		m.client = nil
		return m.UseBackup()
	}

	if err := m.ensureBuckets(ctx); err != nil {
		return err
	}
	for _, bucket := range Buckets {
		m.writers[bucket] = m.client.WriteAPI(m.cfg.Org, bucket)
		go m.logErrors(bucket, m.writers[bucket].Errors())
	}

	m.mu.Lock()
	m.mode = ModeServer
	m.mu.Unlock()
	m.log.Info().Str("url", m.cfg.URL()).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) logErrors(bucket string, errs <-chan error) {
	for err := range errs {
		m.log.Error().Err(err).Str("bucket", bucket).Msg("Error sending data to InfluxDB")
	}
}

func (m *Manager) ensureBuckets(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.log.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		if org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org); err != nil {
			return fmt.Errorf("creating organization %s: %w", m.cfg.Org, err)
		}
	}

	buckets := m.client.BucketsAPI()
	expire := domain.RetentionRuleTypeExpire
	for _, name := range Buckets {
		if _, err := buckets.FindBucketByName(ctx, name); err == nil {
			continue
		}
		m.log.Info().Str("bucket", name).Msg("Bucket not found, creating")
		_, err := buckets.CreateBucketWithName(ctx, org, name, domain.RetentionRule{
			Type:         &expire,
			EverySeconds: int64(retention / time.Second),
		})
		if err != nil {
			return fmt.Errorf("creating bucket %s: %w", name, err)
		}
	}
	return nil
}

// UseBackup sends every point to the gzip backup file, appending to it.
func (m *Manager) UseBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		f, err := os.OpenFile(m.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening influx backup file: %w", err)
		}
		m.backupFile = f
		m.backup = gzip.NewWriter(f)
	}
	m.mode = ModeBackup
	return nil
}

// Mode reports where points go.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// BackupLines returns how many points were written to the backup file.
func (m *Manager) BackupLines() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backupLines
}

// WritePoint queues point for bucket on the server, or appends it to the backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mode {
	case ModeServer:
		w, ok := m.writers[bucket]
		if !ok {
			return fmt.Errorf("%s: %w", bucket, ErrUnknownBucket)
		}
		w.WritePoint(point)
		return nil
	case ModeBackup:
		line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
		if _, err := m.backup.Write([]byte(line + "\n")); err != nil {
			return fmt.Errorf("writing influx backup: %w", err)
		}
		m.backupLines++
		return nil
	default:
		return ErrNotConnected
	}
}

// Close flushes pending writes and closes the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.writers {
		w.Flush()
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}

	var errs []error
	if m.backup != nil {
		errs = append(errs, m.backup.Close(), m.backupFile.Close())
		m.backup, m.backupFile = nil, nil
	}
	m.mode = ModeNone
	return errors.Join(errs...)
}
