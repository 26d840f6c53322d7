package rpm

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"vytalwatch.dev/rpm-core-service/pkg/common"
	"vytalwatch.dev/rpm-core-service/pkg/models"
)

type ReadingFilter struct {
	Type   string
	Status string
	From   time.Time
	To     time.Time
}

// ingestTelemetry is the pipeline entry point: resolve owner, normalize,
// deduplicate, classify, store, then hand the classified reading to the
// alert engine. Validation failures drop the record; they never abort the
// stream.
func (r *RPM) ingestTelemetry(envelope *TelemetryEnvelope, source SourceMeta) (*models.VitalReading, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameRPMCore,
		zap.String(common.LoggerFieldRPMCategory, common.LoggerCategoryRPMIngest),
	)

	device, err := r.Registry.Resolve(envelope.HardwareID)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			// Unmatched telemetry is quarantined, not bounced: a misbehaving
			// gateway must not learn anything and must not stall the stream.
			logger.Warn("Quarantined telemetry from unknown hardware",
				zap.String("hardware_id", envelope.HardwareID),
				zap.String("origin", source.Origin))
			r.Audit.Log(models.AuditEntry{
				Actor:        "ingest-pipeline",
				Action:       "TELEMETRY_QUARANTINED",
				ResourceType: "device",
				ResourceID:   envelope.HardwareID,
				Severity:     models.AuditSeverityWarning,
				Details:      fmt.Sprintf("vital_type=%s vendor=%s", envelope.VitalType, source.Vendor),
				Origin:       source.Origin,
			})
		}
		return nil, err
	}

	if device.Status == models.DeviceStatusRetired {
		return nil, &ValidationError{Reason: ValidationReasonDeviceRetired, Detail: device.HardwareID}
	}

	reading, err := NormalizeTelemetry(envelope, device)
	if err != nil {
		var validation *ValidationError
		if errors.As(err, &validation) {
			logger.Warn("Dropped invalid telemetry",
				zap.String("hardware_id", envelope.HardwareID),
				zap.String("reason", validation.Reason),
				zap.String("detail", validation.Detail))
			r.Audit.Log(models.AuditEntry{
				Actor:        "ingest-pipeline",
				Action:       "TELEMETRY_REJECTED",
				ResourceType: "device",
				ResourceID:   device.ID,
				Severity:     models.AuditSeverityInfo,
				Details:      validation.Error(),
				Origin:       source.Origin,
			})
		}
		return nil, err
	}

	// Vendor retransmission is a no-op, not a duplicate row.
	var existing models.VitalReading
	err = r.Db.Conn.First(&existing, "idempotency_key = ?", reading.IdempotencyKey).Error
	if err == nil {
		logger.Info("Duplicate telemetry ignored",
			zap.String("idempotency_key", reading.IdempotencyKey),
			zap.String("reading_id", existing.ID))
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	status, err := r.Classifier.Classify(reading)
	if err != nil {
		return nil, err
	}
	reading.Status = status

	if err := r.Db.Conn.Create(reading).Error; err != nil {
		// A concurrent retransmission may have won the unique index race.
		if r.Db.Conn.First(&existing, "idempotency_key = ?", reading.IdempotencyKey).Error == nil {
			return &existing, nil
		}
		return nil, err
	}

	logger.Info("Ingested reading", zap.Reflect("reading", reading))

	if err := r.Registry.MarkSeen(device.ID, reading.ReceivedAt); err != nil {
		logger.Error("Failed to update device recency", zap.String("device_id", device.ID), zap.Error(err))
	}

	r.Audit.Log(models.AuditEntry{
		Actor:        "ingest-pipeline",
		Action:       "READING_INGESTED",
		ResourceType: "vital_reading",
		ResourceID:   reading.ID,
		Severity:     models.AuditSeverityInfo,
		Details:      fmt.Sprintf("type=%s status=%s", reading.Type, reading.Status),
		Origin:       source.Origin,
	})

	if r.Alert == nil {
		return nil, fmt.Errorf("alert service not available")
	}

	if _, err := r.Alert.Evaluate(reading); err != nil {
		// The reading is durable; a failed lane evaluation degrades rather
		// than aborts.
		logger.Error("Alert evaluation failed", zap.String("reading_id", reading.ID), zap.Error(err))
	}

	return reading, nil
}

func (r *RPM) getPatientReadings(patientID string, filter ReadingFilter) ([]models.VitalReading, error) {
	query := r.Db.Conn.Where("patient_id = ?", patientID)
	if filter.Type != "" {
		vt, err := ResolveVitalType(filter.Type)
		if err != nil {
			return nil, err
		}
		query = query.Where("type = ?", vt)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.From.IsZero() {
		query = query.Where("recorded_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("recorded_at <= ?", filter.To)
	}

	var readings []models.VitalReading
	err := query.Order("recorded_at desc").Find(&readings).Error
	return readings, err
}

type IIngestImpl struct {
	rpm *RPM
}

func (ii *IIngestImpl) Ingest(envelope *TelemetryEnvelope, source SourceMeta) (*models.VitalReading, error) {
	return ii.rpm.ingestTelemetry(envelope, source)
}

func (ii *IIngestImpl) GetPatientReadings(patientID string, filter ReadingFilter) ([]models.VitalReading, error) {
	return ii.rpm.getPatientReadings(patientID, filter)
}

func (r *RPM) GetIIngest() IIngest {
	return &IIngestImpl{rpm: r}
}
