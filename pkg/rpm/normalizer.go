package rpm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"vytalwatch.dev/rpm-core-service/pkg/models"
)

// TelemetryEnvelope is the normalized inbound shape: vendor webhooks are
// mapped onto it before the core ever sees them. Zero-valued numeric fields
// mean "absent"; no supported vital has a legal zero measurement.
type TelemetryEnvelope struct {
	HardwareID   string
	VitalType    string
	Value        float64
	Systolic     float64
	Diastolic    float64
	Unit         string
	MealContext  string
	BatteryLevel float64
	RecordedAt   time.Time
}

type SourceMeta struct {
	Origin string
	Vendor string
}

var vitalTypeAliases = map[string]models.VitalType{
	"blood_pressure":    models.VitalTypeBloodPressure,
	"blood-pressure":    models.VitalTypeBloodPressure,
	"bp":                models.VitalTypeBloodPressure,
	"heart_rate":        models.VitalTypeHeartRate,
	"heart-rate":        models.VitalTypeHeartRate,
	"pulse":             models.VitalTypeHeartRate,
	"glucose":           models.VitalTypeGlucose,
	"blood_glucose":     models.VitalTypeGlucose,
	"spo2":              models.VitalTypeSpO2,
	"oxygen_saturation": models.VitalTypeSpO2,
	"weight":            models.VitalTypeWeight,
	"temperature":       models.VitalTypeTemperature,
	"respiratory_rate":  models.VitalTypeRespiratoryRate,
	"respiration":       models.VitalTypeRespiratoryRate,
}

var canonicalUnits = map[models.VitalType]string{
	models.VitalTypeBloodPressure:   "mmHg",
	models.VitalTypeHeartRate:       "bpm",
	models.VitalTypeGlucose:         "mg/dL",
	models.VitalTypeSpO2:            "%",
	models.VitalTypeWeight:          "kg",
	models.VitalTypeTemperature:     "C",
	models.VitalTypeRespiratoryRate: "breaths/min",
}

const (
	mmolPerLToMgPerDL = 18.0182
	lbToKg            = 0.45359237
)

type sanityRange struct {
	min, max float64
}

// Physically impossible values are rejected outright; clinical judgment on
// plausible-but-extreme values belongs to classification, not here.
var sanityRanges = map[models.VitalType]sanityRange{
	models.VitalTypeHeartRate:       {1, 300},
	models.VitalTypeGlucose:         {1, 1000},
	models.VitalTypeSpO2:            {1, 100},
	models.VitalTypeWeight:          {0.1, 500},
	models.VitalTypeTemperature:     {25, 45},
	models.VitalTypeRespiratoryRate: {1, 80},
}

var bpSanity = map[string]sanityRange{
	"systolic":  {30, 300},
	"diastolic": {10, 200},
}

// ResolveVitalType maps a vendor vital-type label onto the closed enum.
func ResolveVitalType(raw string) (models.VitalType, error) {
	vt, ok := vitalTypeAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", &ValidationError{Reason: ValidationReasonUnsupportedVitalType, Detail: raw}
	}
	return vt, nil
}

// IdempotencyKey is deterministic over (hardware id, vital type, device
// recorded-at) so vendor retransmissions collapse onto one reading.
func IdempotencyKey(hardwareID string, vitalType models.VitalType, recordedAt time.Time) string {
	seed := fmt.Sprintf("%s|%s|%s", hardwareID, vitalType, recordedAt.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func convertToCanonical(vt models.VitalType, unit string, value float64) (float64, error) {
	canonical := canonicalUnits[vt]
	unit = strings.TrimSpace(unit)
	if unit == "" || strings.EqualFold(unit, canonical) {
		return value, nil
	}

	switch vt {
	case models.VitalTypeGlucose:
		if strings.EqualFold(unit, "mmol/L") {
			return value * mmolPerLToMgPerDL, nil
		}
	case models.VitalTypeWeight:
		if strings.EqualFold(unit, "lb") || strings.EqualFold(unit, "lbs") {
			return value * lbToKg, nil
		}
	case models.VitalTypeTemperature:
		if strings.EqualFold(unit, "F") {
			return (value - 32) * 5 / 9, nil
		}
	}

	return 0, &ValidationError{Reason: ValidationReasonUnknownUnit, Detail: fmt.Sprintf("unit %q for %s", unit, vt)}
}

// NormalizeTelemetry converts a vendor envelope into a canonical reading
// draft. It is pure: the caller owns persistence and classification. The
// returned reading keeps the device-reported RecordedAt and a fresh
// ReceivedAt; the two are never conflated.
func NormalizeTelemetry(envelope *TelemetryEnvelope, device *models.Device) (*models.VitalReading, error) {
	vt, err := ResolveVitalType(envelope.VitalType)
	if err != nil {
		return nil, err
	}

	if envelope.RecordedAt.IsZero() {
		return nil, &ValidationError{Reason: ValidationReasonMalformed, Detail: "recorded_at is required"}
	}
	if device.PatientID == nil || *device.PatientID == "" {
		return nil, &ValidationError{Reason: ValidationReasonMalformed, Detail: "device has no assigned patient"}
	}

	reading := models.VitalReading{
		ID:             uuid.NewString(),
		PatientID:      *device.PatientID,
		DeviceID:       &device.ID,
		Type:           vt,
		Unit:           canonicalUnits[vt],
		BatteryLevel:   envelope.BatteryLevel,
		Status:         models.VitalStatusNormal,
		RecordedAt:     envelope.RecordedAt,
		ReceivedAt:     time.Now(),
		IdempotencyKey: IdempotencyKey(device.HardwareID, vt, envelope.RecordedAt),
	}

	if vt == models.VitalTypeBloodPressure {
		if envelope.Systolic == 0 || envelope.Diastolic == 0 {
			return nil, &ValidationError{Reason: ValidationReasonMalformed, Detail: "blood pressure requires systolic and diastolic"}
		}
		sys, err := convertToCanonical(vt, envelope.Unit, envelope.Systolic)
		if err != nil {
			return nil, err
		}
		dia, err := convertToCanonical(vt, envelope.Unit, envelope.Diastolic)
		if err != nil {
			return nil, err
		}
		if !withinRange(bpSanity["systolic"], sys) || !withinRange(bpSanity["diastolic"], dia) {
			return nil, &ValidationError{
				Reason: ValidationReasonOutOfRange,
				Detail: fmt.Sprintf("blood pressure %.0f over %.0f is not physically possible", sys, dia),
			}
		}
		reading.Systolic = sys
		reading.Diastolic = dia
		return &reading, nil
	}

	if envelope.Value == 0 {
		return nil, &ValidationError{Reason: ValidationReasonMalformed, Detail: fmt.Sprintf("%s requires a value", vt)}
	}
	value, err := convertToCanonical(vt, envelope.Unit, envelope.Value)
	if err != nil {
		return nil, err
	}
	if sr, ok := sanityRanges[vt]; ok && !withinRange(sr, value) {
		return nil, &ValidationError{
			Reason: ValidationReasonOutOfRange,
			Detail: fmt.Sprintf("%s value %.2f outside sane range [%.1f, %.1f]", vt, value, sr.min, sr.max),
		}
	}
	reading.Value = value

	if vt == models.VitalTypeGlucose {
		switch models.MealContext(envelope.MealContext) {
		case models.MealContextFasting, models.MealContextPostMeal:
			reading.MealContext = models.MealContext(envelope.MealContext)
		case "":
			reading.MealContext = models.MealContextFasting
		default:
			return nil, &ValidationError{Reason: ValidationReasonMalformed, Detail: fmt.Sprintf("unknown meal context %q", envelope.MealContext)}
		}
	}

	return &reading, nil
}

func withinRange(sr sanityRange, v float64) bool {
	return v >= sr.min && v <= sr.max
}
