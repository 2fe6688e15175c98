// Package influx records canvas interactions (clicks and drags) as InfluxDB
// points, falling back to a gzip line-protocol file when the server is
// unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/mapsync/internal/config"
	"github.com/OCAP2/mapsync/internal/dispatcher"
	"github.com/OCAP2/mapsync/pkg/protocol"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

// Measurement is the measurement every interaction point is written to.
const Measurement = "interaction"

// ErrDisabled is returned by Connect when influx.enabled is false.
var ErrDisabled = errors.New("influx sink disabled")

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	mu         sync.Mutex
	backupFile *os.File
	written    atomic.Int64
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig) *Manager {
	backup := ""
	if cfg.BackupDir != "" {
		backup = filepath.Join(cfg.BackupDir, "interactions.lp.gz")
	}
	return &Manager{
		Logger:     log,
		BackupPath: backup,
		cfg:        cfg,
	}
}

// Connect establishes a connection to InfluxDB. When the server does not
// answer, points go to the backup file instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.Logger.Info().Str("backupPath", m.BackupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		return m.OpenBackup()
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.IsValid = true
	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

// OpenBackup opens the gzip line-protocol file used while InfluxDB is
// unavailable.
func (m *Manager) OpenBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter != nil {
		return nil
	}
	if m.BackupPath == "" {
		return errors.New("no backup path configured")
	}
	if err := os.MkdirAll(filepath.Dir(m.BackupPath), 0755); err != nil {
		return fmt.Errorf("error creating backup dir: %w", err)
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgName := m.cfg.Org

	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err != nil {
		m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, m.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 30,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

func (m *Manager) createWriter() {
	m.Writer = m.Client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	errorsCh := m.Writer.Errors()
	go func() {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}()
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		m.Writer.WritePoint(point)
		m.written.Add(1)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	m.written.Add(1)
	return nil
}

// Written returns how many points were accepted so far.
func (m *Manager) Written() int64 {
	return m.written.Load()
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return nil
	}
	err := m.BackupWriter.Close()
	if cerr := m.backupFile.Close(); err == nil {
		err = cerr
	}
	m.BackupWriter = nil
	return err
}

// Point converts an interaction notification into a point. Clicks carry no
// position fields.
func Point(e dispatcher.Event) (*influxdb2_write.Point, error) {
	point := influxdb2_write.NewPointWithMeasurement(Measurement).
		AddTag("type", e.Type).
		SetTime(e.Timestamp)

	switch e.Type {
	case protocol.TypeMarkerClicked:
		p, err := dispatcher.Decode[protocol.MarkerClicked](e)
		if err != nil {
			return nil, err
		}
		point.AddTag("shape", p.ID).AddField("count", 1)
	case protocol.TypeMarkerPositioned, protocol.TypePolyPositioned, protocol.TypeCirclePositioned:
		p, err := dispatcher.Decode[protocol.Positioned](e)
		if err != nil {
			return nil, err
		}
		point.AddTag("shape", p.ID).
			AddField("lat", p.Lat).
			AddField("lng", p.Lng)
	default:
		return nil, fmt.Errorf("%w: %q", dispatcher.ErrUnknownCommand, e.Type)
	}
	return point, nil
}

// Register installs the sink on d for every interaction notification. The
// handlers are buffered so slow writes never hold up the caller.
func Register(d *dispatcher.Dispatcher, m *Manager, bufferSize int) {
	record := func(e dispatcher.Event) (any, error) {
		point, err := Point(e)
		if err != nil {
			return nil, err
		}
		return nil, m.WritePoint(point)
	}
	for _, typ := range []string{
		protocol.TypeMarkerClicked,
		protocol.TypeMarkerPositioned,
		protocol.TypePolyPositioned,
		protocol.TypeCirclePositioned,
	} {
		d.Register(typ, record, dispatcher.Buffered(bufferSize), dispatcher.Logged())
	}
}
