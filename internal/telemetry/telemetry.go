// Package telemetry records marker lifecycle events as InfluxDB points. When
// InfluxDB is unreachable, points are appended as gzipped line protocol to a
// backup file so nothing is lost.
package telemetry

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/geodiary/mapcore/internal/config"
	"github.com/geodiary/mapcore/internal/model/core"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

// Measurement is the InfluxDB measurement of every lifecycle point.
const Measurement = "marker_lifecycle"

// Event names a lifecycle transition
type Event string

const (
	MarkerCreated   Event = "created"
	MarkerRejected  Event = "rejected"
	MarkerUpdated   Event = "updated"
	MarkerDeleted   Event = "deleted"
	MarkerMigrated  Event = "migrated"
	MigrationFailed Event = "migration_failed"
)

// Recorder receives lifecycle events.
type Recorder interface {
	Record(ctx context.Context, ev Event, m *core.Marker, fields map[string]any)
}

// Nop discards events.
var Nop Recorder = nop{}

type nop struct{}

func (nop) Record(context.Context, Event, *core.Marker, map[string]any) {}

// Point builds the InfluxDB point of one event.
func Point(ev Event, m *core.Marker, fields map[string]any, at time.Time) *influxdb2_write.Point {
	point := influxdb2_write.NewPointWithMeasurement(Measurement).
		AddTag("event", string(ev)).
		SetTime(at)
	if m != nil {
		pos := m.Position()
		point.AddTag("state", m.State().String()).
			AddField("lat", pos.Lat).
			AddField("lng", pos.Lng).
			AddField("id", m.ID())
	}
	for k, v := range fields {
		point.AddField(k, v)
	}
	if len(point.FieldList()) == 0 {
		point.AddField("count", 1)
	}
	return point
}

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Logger       zerolog.Logger

	cfg        config.TelemetryConfig
	backupFile *os.File
	mu         sync.Mutex
	now        func() time.Time
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, cfg config.TelemetryConfig) *Manager {
	return &Manager{
		IsValid: false,
		Logger:  log,
		cfg:     cfg,
		now:     time.Now,
	}
}

// BackupPath returns the gzip file used while InfluxDB is unreachable.
func (m *Manager) BackupPath() string {
	if m.cfg.BackupDir == "" {
		return ""
	}
	return m.cfg.BackupDir + string(os.PathSeparator) + Measurement + ".lp.gz"
}

// Connect establishes a connection to InfluxDB.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			path := m.BackupPath()
			if path == "" {
				return fmt.Errorf("influxdb unreachable and no backup directory configured: %v", err)
			}
			m.Logger.Info().Str("backupPath", path).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %v", err)
			}
			m.backupFile = file
			m.BackupWriter = gzip.NewWriter(file)
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgName := m.cfg.Org

	// ensure org exists
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// ensure bucket exists with 90 day retention
	if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err != nil {
		m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, m.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 90, // 90 days
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
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsValid {
		if m.Writer == nil {
			return errors.New("influxDB writer not created")
		}
		m.Writer.WritePoint(point)
		return nil
	}

	if m.BackupWriter == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if !strings.HasSuffix(lineProtocol, "\n") {
		lineProtocol += "\n"
	}
	if _, err := m.BackupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Record implements Recorder. Write failures are logged, never returned.
func (m *Manager) Record(_ context.Context, ev Event, mk *core.Marker, fields map[string]any) {
	if err := m.WritePoint(Point(ev, mk, fields, m.now())); err != nil {
		m.Logger.Debug().Err(err).Str("event", string(ev)).Msg("Dropped lifecycle point")
	}
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}
	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}
