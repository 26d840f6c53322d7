package rpm

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"vytalwatch.dev/rpm-core-service/pkg/common"
	"vytalwatch.dev/rpm-core-service/pkg/db"
	"vytalwatch.dev/rpm-core-service/pkg/models"
	_ "vytalwatch.dev/rpm-core-service/pkg/testing"
)

func TestClassifyValueEdgesAreSevereSideInclusive(t *testing.T) {
	band := defaultBands[bandKey{models.VitalTypeGlucose, string(models.MealContextFasting)}]

	cases := []struct {
		value float64
		want  models.VitalStatus
	}{
		{54, models.VitalStatusCritical}, // exactly at the low critical edge
		{55, models.VitalStatusWarning},
		{69, models.VitalStatusWarning},
		{70, models.VitalStatusNormal},
		{100, models.VitalStatusNormal},
		{101, models.VitalStatusWarning},
		{125, models.VitalStatusWarning},
		{126, models.VitalStatusCritical}, // exactly at the high critical edge
		{300, models.VitalStatusCritical},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyValue(band, c.value), "glucose %.0f", c.value)
	}
}

func TestClassifyValueSpO2HasNoHighEdges(t *testing.T) {
	band := defaultBands[bandKey{models.VitalTypeSpO2, ""}]

	assert.Equal(t, models.VitalStatusCritical, ClassifyValue(band, 91))
	assert.Equal(t, models.VitalStatusWarning, ClassifyValue(band, 92))
	assert.Equal(t, models.VitalStatusWarning, ClassifyValue(band, 94))
	assert.Equal(t, models.VitalStatusNormal, ClassifyValue(band, 95))
	assert.Equal(t, models.VitalStatusNormal, ClassifyValue(band, 100))
}

func TestClassifyValueHeartRate(t *testing.T) {
	band := defaultBands[bandKey{models.VitalTypeHeartRate, ""}]

	assert.Equal(t, models.VitalStatusCritical, ClassifyValue(band, 49))
	assert.Equal(t, models.VitalStatusWarning, ClassifyValue(band, 55))
	assert.Equal(t, models.VitalStatusNormal, ClassifyValue(band, 72))
	assert.Equal(t, models.VitalStatusWarning, ClassifyValue(band, 110))
	assert.Equal(t, models.VitalStatusCritical, ClassifyValue(band, 121))
}

func TestClassifyBloodPressureTakesWorseComponent(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	patientID := uuid.NewString()

	// Normal systolic, critical diastolic.
	status, err := rpmObj.Classifier.Classify(&models.VitalReading{
		PatientID: patientID,
		Type:      models.VitalTypeBloodPressure,
		Systolic:  110,
		Diastolic: 95,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.VitalStatusCritical, status)

	// Warning systolic, normal diastolic.
	status, err = rpmObj.Classifier.Classify(&models.VitalReading{
		PatientID: patientID,
		Type:      models.VitalTypeBloodPressure,
		Systolic:  130,
		Diastolic: 70,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.VitalStatusWarning, status)
}

func TestClassifyGlucoseUsesMealContext(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	patientID := uuid.NewString()

	// 150 mg/dL is critical fasting but fine after a meal.
	fasting, err := rpmObj.Classifier.Classify(&models.VitalReading{
		PatientID:   patientID,
		Type:        models.VitalTypeGlucose,
		Value:       150,
		MealContext: models.MealContextFasting,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.VitalStatusCritical, fasting)

	postMeal, err := rpmObj.Classifier.Classify(&models.VitalReading{
		PatientID:   patientID,
		Type:        models.VitalTypeGlucose,
		Value:       150,
		MealContext: models.MealContextPostMeal,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.VitalStatusWarning, postMeal)
}

func TestClassifyWeightIsAlwaysNormalByDefault(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	status, err := rpmObj.Classifier.Classify(&models.VitalReading{
		PatientID: uuid.NewString(),
		Type:      models.VitalTypeWeight,
		Value:     140,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.VitalStatusNormal, status)
}

func TestUpsertPolicyOverridesDefaultBand(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	patientID := uuid.NewString()

	// 110 bpm is only a warning on the stock band.
	status, err := rpmObj.Classifier.Classify(&models.VitalReading{
		PatientID: patientID,
		Type:      models.VitalTypeHeartRate,
		Value:     110,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.VitalStatusWarning, status)

	err = rpmObj.Classifier.UpsertPolicy(&models.ThresholdPolicy{
		PatientID: patientID,
		Type:      models.VitalTypeHeartRate,
		CritLow:   f(40),
		WarnLow:   f(50),
		WarnHigh:  f(95),
		CritHigh:  f(105),
	})
	assert.NoError(t, err)

	status, err = rpmObj.Classifier.Classify(&models.VitalReading{
		PatientID: patientID,
		Type:      models.VitalTypeHeartRate,
		Value:     110,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.VitalStatusCritical, status)

	// Re-upsert replaces the same row rather than failing on the key.
	err = rpmObj.Classifier.UpsertPolicy(&models.ThresholdPolicy{
		PatientID: patientID,
		Type:      models.VitalTypeHeartRate,
		CritLow:   f(40),
		WarnLow:   f(50),
		WarnHigh:  f(115),
		CritHigh:  f(130),
	})
	assert.NoError(t, err)

	status, err = rpmObj.Classifier.Classify(&models.VitalReading{
		PatientID: patientID,
		Type:      models.VitalTypeHeartRate,
		Value:     110,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.VitalStatusNormal, status)

	// Other patients keep the stock band.
	status, err = rpmObj.Classifier.Classify(&models.VitalReading{
		PatientID: uuid.NewString(),
		Type:      models.VitalTypeHeartRate,
		Value:     110,
	})
	assert.NoError(t, err)
	assert.Equal(t, models.VitalStatusWarning, status)
}

func TestLookupBandFallsBackOnStoreError(t *testing.T) {
	ctrl, rpmObj, _, _ := GetMockRPMWithMemorySqliteDialector(t, false, false)
	defer ctrl.Finish()

	var buf = &bytes.Buffer{}
	common.SetTestCaptureLogger(buf, zapcore.InfoLevel)

	// A private, unmigrated database: the policy query fails with a real
	// store error instead of gorm.ErrRecordNotFound.
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	broken := &RPM{Db: db.DB{Conn: conn}}

	band := broken.lookupBand(uuid.NewString(), models.VitalTypeHeartRate, "")
	assert.Equal(t, defaultBands[bandKey{models.VitalTypeHeartRate, ""}], band)

	logs := ParseLogs(buf)
	found := false
	for _, log := range logs {
		lobj := log.(map[string]any)
		if lobj["category"] == "classify" &&
			lobj["logger"] == "rpm_core" &&
			lobj["level"] == "error" &&
			lobj["msg"] == "Failed to query threshold policy, using default band" {
			found = true
		}
	}
	assert.True(t, found)

	// A missing override row stays quiet.
	buf.Reset()
	band = rpmObj.lookupBand(uuid.NewString(), models.VitalTypeHeartRate, "")
	assert.Equal(t, defaultBands[bandKey{models.VitalTypeHeartRate, ""}], band)
	assert.Empty(t, ParseLogs(buf))
}
