package rpm

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"vytalwatch.dev/rpm-core-service/pkg/common"
	"vytalwatch.dev/rpm-core-service/pkg/models"
)

// disconnectAfter is the telemetry-recency window: a connected device that
// has not reported within it is surfaced as disconnected.
const disconnectAfter = time.Hour

type RegisterDeviceInput struct {
	HardwareID     string
	Serial         string
	MACAddress     string
	GatewayID      string
	PatientID      string
	OrganizationID string
}

func (r *RPM) registerDevice(input *RegisterDeviceInput) (*models.Device, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameRPMCore,
		zap.String(common.LoggerFieldRPMCategory, common.LoggerCategoryRPMRegistry),
	)

	if input.HardwareID == "" {
		return nil, &ValidationError{Reason: ValidationReasonMalformed, Detail: "hardware id is required"}
	}

	var device models.Device
	err := r.Db.Conn.First(&device, "hardware_id = ?", input.HardwareID).Error
	if err == nil {
		// Idempotent on hardware id: a repeat handshake may complete the
		// patient/org assignment but never duplicates the row.
		updates := map[string]any{}
		if input.PatientID != "" && device.PatientID == nil {
			updates["patient_id"] = input.PatientID
		}
		if input.OrganizationID != "" && device.OrganizationID == "" {
			updates["organization_id"] = input.OrganizationID
		}
		if len(updates) > 0 {
			if err := r.Db.Conn.Model(&device).Updates(updates).Error; err != nil {
				return nil, err
			}
			logger.Info("Completed assignment for registered device", zap.String("device_id", device.ID))
		}
		return &device, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	device = models.Device{
		ID:             uuid.NewString(),
		HardwareID:     input.HardwareID,
		Serial:         input.Serial,
		MACAddress:     input.MACAddress,
		GatewayID:      input.GatewayID,
		OrganizationID: input.OrganizationID,
		Status:         models.DeviceStatusProvisioned,
	}
	if input.PatientID != "" {
		patientID := input.PatientID
		device.PatientID = &patientID
	}

	if err := r.Db.Conn.Create(&device).Error; err != nil {
		return nil, err
	}

	logger.Info("Registered device", zap.Reflect("device", device))

	r.Audit.Log(models.AuditEntry{
		Actor:        "device-registry",
		Action:       "DEVICE_REGISTERED",
		ResourceType: "device",
		ResourceID:   device.ID,
		Severity:     models.AuditSeverityInfo,
		Details:      device.HardwareID,
	})

	return &device, nil
}

func (r *RPM) resolveDevice(hardwareID string) (*models.Device, error) {
	var device models.Device
	err := r.Db.Conn.First(&device, "hardware_id = ?", hardwareID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "device", Key: hardwareID}
	}
	if err != nil {
		return nil, err
	}

	// Recency flip is persisted on read so that dashboards and the ingestion
	// path agree on connectivity.
	if device.Status == models.DeviceStatusConnected &&
		(device.LastSeenAt == nil || time.Since(*device.LastSeenAt) > disconnectAfter) {
		if err := r.Db.Conn.Model(&device).
			Where("status = ?", models.DeviceStatusConnected).
			Update("status", models.DeviceStatusDisconnected).Error; err != nil {
			return nil, err
		}
		device.Status = models.DeviceStatusDisconnected
	}

	return &device, nil
}

// markSeen is last-write-wins on a monotonically increasing timestamp:
// out-of-order timestamps are ignored, not overwritten. Safe for concurrent
// calls on the same device because the guard lives in the WHERE clause.
func (r *RPM) markSeen(deviceID string, seenAt time.Time) error {
	result := r.Db.Conn.Model(&models.Device{}).
		Where("id = ?", deviceID).
		Where("last_seen_at IS NULL OR last_seen_at < ?", seenAt).
		Where("status <> ?", models.DeviceStatusRetired).
		Updates(map[string]any{
			"last_seen_at": seenAt,
			"status":       models.DeviceStatusConnected,
		})
	return result.Error
}

func (r *RPM) retireDevice(deviceID string, actor string) error {
	var device models.Device
	err := r.Db.Conn.First(&device, "id = ?", deviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Resource: "device", Key: deviceID}
	}
	if err != nil {
		return err
	}
	if device.Status == models.DeviceStatusRetired {
		return nil
	}

	if err := r.Db.Conn.Model(&device).Update("status", models.DeviceStatusRetired).Error; err != nil {
		return err
	}

	r.Audit.Log(models.AuditEntry{
		Actor:        actor,
		Action:       "DEVICE_RETIRED",
		ResourceType: "device",
		ResourceID:   device.ID,
		Severity:     models.AuditSeverityInfo,
		Details:      device.HardwareID,
	})
	return nil
}

type IRegistryImpl struct {
	rpm *RPM
}

func (ir *IRegistryImpl) Register(input *RegisterDeviceInput) (*models.Device, error) {
	return ir.rpm.registerDevice(input)
}

func (ir *IRegistryImpl) Resolve(hardwareID string) (*models.Device, error) {
	return ir.rpm.resolveDevice(hardwareID)
}

func (ir *IRegistryImpl) MarkSeen(deviceID string, seenAt time.Time) error {
	return ir.rpm.markSeen(deviceID, seenAt)
}

func (ir *IRegistryImpl) Retire(deviceID string, actor string) error {
	return ir.rpm.retireDevice(deviceID, actor)
}

func (r *RPM) GetIRegistry() IRegistry {
	return &IRegistryImpl{rpm: r}
}
