package rpm

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"vytalwatch.dev/rpm-core-service/pkg/common"
	"vytalwatch.dev/rpm-core-service/pkg/models"
	_ "vytalwatch.dev/rpm-core-service/pkg/testing"
)

func TestRegisterDeviceIsIdempotent(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	hardwareID := uuid.NewString()
	patientID := uuid.NewString()

	first, err := rpmObj.Registry.Register(&RegisterDeviceInput{HardwareID: hardwareID})
	assert.NoError(t, err)
	assert.Equal(t, models.DeviceStatusProvisioned, first.Status)
	assert.Nil(t, first.PatientID)

	// Repeat handshake completes the assignment instead of duplicating the row.
	second, err := rpmObj.Registry.Register(&RegisterDeviceInput{
		HardwareID: hardwareID,
		PatientID:  patientID,
	})
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	err = rpmObj.Db.Conn.Model(&models.Device{}).Where("hardware_id = ?", hardwareID).Count(&count).Error
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	resolved, err := rpmObj.Registry.Resolve(hardwareID)
	assert.NoError(t, err)
	assert.NotNil(t, resolved.PatientID)
	assert.Equal(t, patientID, *resolved.PatientID)
}

func TestRegisterDeviceRequiresHardwareID(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	_, err := rpmObj.Registry.Register(&RegisterDeviceInput{})
	assert.Error(t, err)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestResolveDeviceNotFound(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	_, err := rpmObj.Registry.Resolve(uuid.NewString())
	assert.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResolveDeviceFlipsStaleConnectionToDisconnected(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	hardwareID := uuid.NewString()
	staleSeen := time.Now().Add(-2 * time.Hour)
	device := models.Device{
		ID:         uuid.NewString(),
		HardwareID: hardwareID,
		Status:     models.DeviceStatusConnected,
		LastSeenAt: &staleSeen,
	}
	err := rpmObj.Db.Conn.Create(&device).Error
	assert.NoError(t, err)

	resolved, err := rpmObj.Registry.Resolve(hardwareID)
	assert.NoError(t, err)
	assert.Equal(t, models.DeviceStatusDisconnected, resolved.Status)

	// The flip is persisted, not just reported.
	var stored models.Device
	err = rpmObj.Db.Conn.First(&stored, "id = ?", device.ID).Error
	assert.NoError(t, err)
	assert.Equal(t, models.DeviceStatusDisconnected, stored.Status)
}

func TestMarkSeenIsMonotonic(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	device, err := rpmObj.Registry.Register(&RegisterDeviceInput{HardwareID: uuid.NewString()})
	assert.NoError(t, err)

	later := time.Now()
	earlier := later.Add(-10 * time.Minute)

	assert.NoError(t, rpmObj.Registry.MarkSeen(device.ID, later))
	// Out-of-order timestamp is ignored, not overwritten.
	assert.NoError(t, rpmObj.Registry.MarkSeen(device.ID, earlier))

	var stored models.Device
	err = rpmObj.Db.Conn.First(&stored, "id = ?", device.ID).Error
	assert.NoError(t, err)
	assert.Equal(t, models.DeviceStatusConnected, stored.Status)
	assert.NotNil(t, stored.LastSeenAt)
	assert.WithinDuration(t, later, *stored.LastSeenAt, time.Second)
}

func TestRetireDeviceStopsRecencyUpdates(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	device, err := rpmObj.Registry.Register(&RegisterDeviceInput{HardwareID: uuid.NewString()})
	assert.NoError(t, err)

	assert.NoError(t, rpmObj.Registry.Retire(device.ID, "admin"))
	// Retiring twice is a no-op.
	assert.NoError(t, rpmObj.Registry.Retire(device.ID, "admin"))

	assert.NoError(t, rpmObj.Registry.MarkSeen(device.ID, time.Now()))

	var stored models.Device
	err = rpmObj.Db.Conn.First(&stored, "id = ?", device.ID).Error
	assert.NoError(t, err)
	assert.Equal(t, models.DeviceStatusRetired, stored.Status)
	assert.Nil(t, stored.LastSeenAt)
}
