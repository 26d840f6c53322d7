package rpm

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zapcore"

	"vytalwatch.dev/rpm-core-service/pkg/common"
	"vytalwatch.dev/rpm-core-service/pkg/models"
	_ "vytalwatch.dev/rpm-core-service/pkg/testing"
)

func registerAssignedDevice(t *testing.T, rpmObj *RPM) (*models.Device, string) {
	t.Helper()
	patientID := uuid.NewString()
	device, err := rpmObj.Registry.Register(&RegisterDeviceInput{
		HardwareID: uuid.NewString(),
		PatientID:  patientID,
	})
	assert.NoError(t, err)
	return device, patientID
}

func TestIngestCriticalReadingOpensAlert(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	device, patientID := registerAssignedDevice(t, rpmObj)

	reading, err := rpmObj.Ingest.Ingest(&TelemetryEnvelope{
		HardwareID: device.HardwareID,
		VitalType:  "pulse",
		Value:      150,
		Unit:       "bpm",
		RecordedAt: time.Now(),
	}, SourceMeta{Origin: "gateway-1", Vendor: "acme"})
	assert.NoError(t, err)
	assert.Equal(t, models.VitalTypeHeartRate, reading.Type)
	assert.Equal(t, models.VitalStatusCritical, reading.Status)
	assert.Equal(t, patientID, reading.PatientID)

	alerts, err := rpmObj.Alert.GetPatientAlerts(patientID)
	assert.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Equal(t, models.AlertStateOpen, alerts[0].State)
	assert.Equal(t, reading.ID, alerts[0].ReadingID)

	// Successful ingestion refreshed device recency.
	stored, err := rpmObj.Registry.Resolve(device.HardwareID)
	assert.NoError(t, err)
	assert.Equal(t, models.DeviceStatusConnected, stored.Status)
	assert.NotNil(t, stored.LastSeenAt)
}

func TestIngestDuplicatePayloadYieldsOneReading(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	device, patientID := registerAssignedDevice(t, rpmObj)

	envelope := TelemetryEnvelope{
		HardwareID: device.HardwareID,
		VitalType:  "glucose",
		Value:      110,
		Unit:       "mg/dL",
		RecordedAt: time.Date(2025, 6, 1, 7, 45, 0, 0, time.UTC),
	}

	first, err := rpmObj.Ingest.Ingest(&envelope, SourceMeta{Origin: "gateway-1"})
	assert.NoError(t, err)

	// Vendor retransmission of the identical payload.
	second, err := rpmObj.Ingest.Ingest(&envelope, SourceMeta{Origin: "gateway-1"})
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	err = rpmObj.Db.Conn.Model(&models.VitalReading{}).Where("patient_id = ?", patientID).Count(&count).Error
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIngestInvalidTelemetryStoresNothing(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	device, patientID := registerAssignedDevice(t, rpmObj)

	_, err := rpmObj.Ingest.Ingest(&TelemetryEnvelope{
		HardwareID: device.HardwareID,
		VitalType:  "weight",
		Value:      -70,
		Unit:       "kg",
		RecordedAt: time.Now(),
	}, SourceMeta{Origin: "gateway-1"})
	assert.Error(t, err)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
	assert.Equal(t, ValidationReasonOutOfRange, validation.Reason)

	var count int64
	err = rpmObj.Db.Conn.Model(&models.VitalReading{}).Where("patient_id = ?", patientID).Count(&count).Error
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestIngestFromRetiredDeviceRejected(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	device, _ := registerAssignedDevice(t, rpmObj)
	assert.NoError(t, rpmObj.Registry.Retire(device.ID, "admin"))

	_, err := rpmObj.Ingest.Ingest(&TelemetryEnvelope{
		HardwareID: device.HardwareID,
		VitalType:  "heart_rate",
		Value:      72,
		RecordedAt: time.Now(),
	}, SourceMeta{})
	assert.Error(t, err)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
	assert.Equal(t, ValidationReasonDeviceRetired, validation.Reason)
}

func TestIngestUnknownHardwareQuarantined(t *testing.T) {
	var buf = &bytes.Buffer{}
	common.SetTestCaptureLogger(buf, zapcore.InfoLevel)

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	hardwareID := uuid.NewString()

	_, err := rpmObj.Ingest.Ingest(&TelemetryEnvelope{
		HardwareID: hardwareID,
		VitalType:  "spo2",
		Value:      97,
		RecordedAt: time.Now(),
	}, SourceMeta{Origin: "gateway-9"})
	assert.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)

	logs := ParseLogs(buf)
	found := false
	for _, log := range logs {
		lobj := log.(map[string]any)
		if lobj["category"] == "ingest" &&
			lobj["logger"] == "rpm_core" &&
			lobj["msg"] == "Quarantined telemetry from unknown hardware" &&
			lobj["hardware_id"] == hardwareID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGetPatientReadingsFilters(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	device, patientID := registerAssignedDevice(t, rpmObj)
	base := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

	inputs := []TelemetryEnvelope{
		{HardwareID: device.HardwareID, VitalType: "heart_rate", Value: 72, RecordedAt: base},
		{HardwareID: device.HardwareID, VitalType: "heart_rate", Value: 130, RecordedAt: base.Add(time.Hour)},
		{HardwareID: device.HardwareID, VitalType: "spo2", Value: 97, RecordedAt: base.Add(2 * time.Hour)},
	}
	for i := range inputs {
		_, err := rpmObj.Ingest.Ingest(&inputs[i], SourceMeta{})
		assert.NoError(t, err)
	}

	all, err := rpmObj.Ingest.GetPatientReadings(patientID, ReadingFilter{})
	assert.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest first.
	types := common.Mapper(all, func(r models.VitalReading) models.VitalType { return r.Type })
	assert.Equal(t, []models.VitalType{models.VitalTypeSpO2, models.VitalTypeHeartRate, models.VitalTypeHeartRate}, types)

	hr, err := rpmObj.Ingest.GetPatientReadings(patientID, ReadingFilter{Type: "heart_rate"})
	assert.NoError(t, err)
	assert.Len(t, hr, 2)

	critical, err := rpmObj.Ingest.GetPatientReadings(patientID, ReadingFilter{Status: "critical"})
	assert.NoError(t, err)
	assert.Len(t, critical, 1)
	assert.Equal(t, float64(130), critical[0].Value)

	windowed, err := rpmObj.Ingest.GetPatientReadings(patientID, ReadingFilter{
		From: base.Add(30 * time.Minute),
		To:   base.Add(90 * time.Minute),
	})
	assert.NoError(t, err)
	assert.Len(t, windowed, 1)

	_, err = rpmObj.Ingest.GetPatientReadings(patientID, ReadingFilter{Type: "mood"})
	assert.Error(t, err)
}

func TestIngestDelegatesToAlertEngine(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, mockIAlert, _ := GetMockRPMWithMemorySqliteDialector(t, true, false)
	defer ctrl.Finish()

	device, _ := registerAssignedDevice(t, rpmObj)

	mockIAlert.EXPECT().
		Evaluate(gomock.Any()).
		Return(nil, nil).
		Times(1)

	_, err := rpmObj.Ingest.Ingest(&TelemetryEnvelope{
		HardwareID: device.HardwareID,
		VitalType:  "heart_rate",
		Value:      150,
		RecordedAt: time.Now(),
	}, SourceMeta{})
	assert.NoError(t, err)
}
