package rpm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"vytalwatch.dev/rpm-core-service/pkg/common"
	"vytalwatch.dev/rpm-core-service/pkg/models"
)

// laneLockStore hands out one mutex per (patient, vital type) lane so the
// read-evaluate-write sequence on a lane's open alert is serialized. Same
// shape as the per-device rate limiter store.
type laneLockStore struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

func newLaneLockStore() *laneLockStore {
	return &laneLockStore{locks: make(map[string]*sync.Mutex)}
}

func (s *laneLockStore) get(patientID string, vt models.VitalType) *sync.Mutex {
	key := patientID + "/" + string(vt)

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, exists := s.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

var severityRank = map[models.AlertSeverity]int{
	models.AlertSeverityLow:      1,
	models.AlertSeverityMedium:   2,
	models.AlertSeverityHigh:     3,
	models.AlertSeverityCritical: 4,
}

func severityForStatus(status models.VitalStatus) (models.AlertSeverity, bool) {
	switch status {
	case models.VitalStatusWarning:
		return models.AlertSeverityMedium, true
	case models.VitalStatusCritical:
		return models.AlertSeverityCritical, true
	default:
		return "", false
	}
}

func readingValueSummary(reading *models.VitalReading) string {
	if reading.Type == models.VitalTypeBloodPressure {
		return fmt.Sprintf("%.0f/%.0f %s", reading.Systolic, reading.Diastolic, reading.Unit)
	}
	return fmt.Sprintf("%.1f %s", reading.Value, reading.Unit)
}

// evaluateReading applies the lane state machine to a classified reading:
// open a new alert, escalate the open one, or absorb. A normal reading never
// resolves the lane; resolution is an explicit human action.
func (r *RPM) evaluateReading(reading *models.VitalReading) (*models.Alert, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameRPMCore,
		zap.String(common.LoggerFieldRPMCategory, common.LoggerCategoryRPMAlert),
	)

	lock := r.getLaneLocks().get(reading.PatientID, reading.Type)
	lock.Lock()
	defer lock.Unlock()

	var current models.Alert
	err := r.Db.Conn.
		Where("patient_id = ? AND type = ? AND state IN ?",
			reading.PatientID, reading.Type,
			[]models.AlertState{models.AlertStateOpen, models.AlertStateAcknowledged}).
		First(&current).Error
	hasOpen := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	severity, alertable := severityForStatus(reading.Status)

	if !alertable {
		// Absorbed. The lane keeps its open alert until someone resolves it.
		return nil, nil
	}

	if !hasOpen {
		alert := models.Alert{
			ID:              uuid.NewString(),
			PatientID:       reading.PatientID,
			ReadingID:       reading.ID,
			Type:            reading.Type,
			Severity:        severity,
			State:           models.AlertStateOpen,
			Message:         fmt.Sprintf("%s reading %s classified %s", reading.Type, readingValueSummary(reading), reading.Status),
			OpenedAt:        time.Now(),
			EscalationCount: 1,
		}

		err := r.Db.Conn.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&alert).Error; err != nil {
				return err
			}
			return r.Audit.LogTx(tx, models.AuditEntry{
				Actor:        "alert-engine",
				Action:       "ALERT_OPENED",
				ResourceType: "alert",
				ResourceID:   alert.ID,
				Severity:     models.AuditSeverityWarning,
				Details:      alert.Message,
			})
		})
		if err != nil {
			return nil, err
		}

		logger.Info("Alert opened", zap.Reflect("alert", alert))
		r.dispatchAsync(reading.PatientID,
			fmt.Sprintf("Alert opened: %s %s", reading.Type, severity),
			alert.Message,
			map[string]string{"alert_id": alert.ID, "patient_id": reading.PatientID})
		return &alert, nil
	}

	// Escalate on rising severity, or on repeat critical evidence for a lane
	// already at critical. Everything else is absorbed unchanged.
	escalate := severityRank[severity] > severityRank[current.Severity] ||
		(severity == models.AlertSeverityCritical && current.Severity == models.AlertSeverityCritical)
	if !escalate {
		logger.Debug("Reading absorbed by open alert",
			zap.String("alert_id", current.ID), zap.String("reading_id", reading.ID))
		return &current, nil
	}

	if severityRank[severity] > severityRank[current.Severity] {
		current.Severity = severity
	}
	current.EscalationCount++
	current.ReadingID = reading.ID
	current.Message = fmt.Sprintf("%s reading %s classified %s", reading.Type, readingValueSummary(reading), reading.Status)

	err = r.Db.Conn.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Alert{}).
			Where("id = ? AND state IN ?", current.ID,
				[]models.AlertState{models.AlertStateOpen, models.AlertStateAcknowledged}).
			Updates(map[string]any{
				"severity":         current.Severity,
				"escalation_count": current.EscalationCount,
				"reading_id":       current.ReadingID,
				"message":          current.Message,
			})
		if result.Error != nil {
			return result.Error
		}
		return r.Audit.LogTx(tx, models.AuditEntry{
			Actor:        "alert-engine",
			Action:       "ALERT_ESCALATED",
			ResourceType: "alert",
			ResourceID:   current.ID,
			Severity:     models.AuditSeverityWarning,
			Details:      fmt.Sprintf("escalation %d: %s", current.EscalationCount, current.Message),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Alert escalated", zap.Reflect("alert", current))
	r.dispatchAsync(reading.PatientID,
		fmt.Sprintf("Alert escalated: %s %s", reading.Type, current.Severity),
		current.Message,
		map[string]string{"alert_id": current.ID, "patient_id": reading.PatientID})
	return &current, nil
}

func (r *RPM) acknowledgeAlert(alertID string, actor string) (*models.Alert, error) {
	var alert models.Alert
	err := r.Db.Conn.First(&alert, "id = ?", alertID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "alert", Key: alertID}
	}
	if err != nil {
		return nil, err
	}

	lock := r.getLaneLocks().get(alert.PatientID, alert.Type)
	lock.Lock()
	defer lock.Unlock()

	if err := r.Db.Conn.First(&alert, "id = ?", alertID).Error; err != nil {
		return nil, err
	}
	if alert.State != models.AlertStateOpen {
		return nil, &InvalidTransitionError{From: string(alert.State), Action: "acknowledge"}
	}

	now := time.Now()
	alert.State = models.AlertStateAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = actor

	err = r.Db.Conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Alert{}).Where("id = ?", alert.ID).
			Updates(map[string]any{
				"state":           alert.State,
				"acknowledged_at": alert.AcknowledgedAt,
				"acknowledged_by": alert.AcknowledgedBy,
			}).Error; err != nil {
			return err
		}
		return r.Audit.LogTx(tx, models.AuditEntry{
			Actor:        actor,
			Action:       "ALERT_ACKNOWLEDGED",
			ResourceType: "alert",
			ResourceID:   alert.ID,
			Severity:     models.AuditSeverityInfo,
		})
	})
	if err != nil {
		return nil, err
	}

	r.dispatchAsync(alert.PatientID,
		fmt.Sprintf("Alert acknowledged: %s", alert.Type),
		fmt.Sprintf("acknowledged by %s", actor),
		map[string]string{"alert_id": alert.ID})
	return &alert, nil
}

func (r *RPM) resolveAlert(alertID string, actor string, notes string) (*models.Alert, error) {
	var alert models.Alert
	err := r.Db.Conn.First(&alert, "id = ?", alertID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "alert", Key: alertID}
	}
	if err != nil {
		return nil, err
	}

	lock := r.getLaneLocks().get(alert.PatientID, alert.Type)
	lock.Lock()
	defer lock.Unlock()

	if err := r.Db.Conn.First(&alert, "id = ?", alertID).Error; err != nil {
		return nil, err
	}
	if alert.State != models.AlertStateOpen && alert.State != models.AlertStateAcknowledged {
		return nil, &InvalidTransitionError{From: string(alert.State), Action: "resolve"}
	}

	now := time.Now()
	alert.State = models.AlertStateResolved
	alert.ResolvedAt = &now
	alert.ResolvedBy = actor
	alert.ResolutionNotes = notes

	err = r.Db.Conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Alert{}).Where("id = ?", alert.ID).
			Updates(map[string]any{
				"state":            alert.State,
				"resolved_at":      alert.ResolvedAt,
				"resolved_by":      alert.ResolvedBy,
				"resolution_notes": alert.ResolutionNotes,
			}).Error; err != nil {
			return err
		}
		return r.Audit.LogTx(tx, models.AuditEntry{
			Actor:        actor,
			Action:       "ALERT_RESOLVED",
			ResourceType: "alert",
			ResourceID:   alert.ID,
			Severity:     models.AuditSeverityInfo,
			Details:      notes,
		})
	})
	if err != nil {
		return nil, err
	}

	r.dispatchAsync(alert.PatientID,
		fmt.Sprintf("Alert resolved: %s", alert.Type),
		fmt.Sprintf("resolved by %s", actor),
		map[string]string{"alert_id": alert.ID})
	return &alert, nil
}

func (r *RPM) getPatientAlerts(patientID string) ([]models.Alert, error) {
	var alerts []models.Alert
	err := r.Db.Conn.
		Where("patient_id = ?", patientID).
		Order("opened_at desc").
		Find(&alerts).Error
	return alerts, err
}

type IAlertImpl struct {
	rpm *RPM
}

func (ia *IAlertImpl) Evaluate(reading *models.VitalReading) (*models.Alert, error) {
	return ia.rpm.evaluateReading(reading)
}

func (ia *IAlertImpl) Acknowledge(alertID string, actor string) (*models.Alert, error) {
	return ia.rpm.acknowledgeAlert(alertID, actor)
}

func (ia *IAlertImpl) Resolve(alertID string, actor string, notes string) (*models.Alert, error) {
	return ia.rpm.resolveAlert(alertID, actor, notes)
}

func (ia *IAlertImpl) GetPatientAlerts(patientID string) ([]models.Alert, error) {
	return ia.rpm.getPatientAlerts(patientID)
}

func (r *RPM) GetIAlert() IAlert {
	return &IAlertImpl{rpm: r}
}
