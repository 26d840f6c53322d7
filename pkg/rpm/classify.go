package rpm

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"vytalwatch.dev/rpm-core-service/pkg/common"
	"vytalwatch.dev/rpm-core-service/pkg/models"
)

// Band is one classification table row. Bounds are inclusive on the severe
// side: a value exactly at a critical threshold is critical, never warning.
// Nil bounds mean the band has no edge on that side (e.g. SpO2 has no high
// critical).
type Band struct {
	CritLow  *float64 // value <= CritLow is critical
	WarnLow  *float64 // value <= WarnLow is warning
	WarnHigh *float64 // value >= WarnHigh is warning
	CritHigh *float64 // value >= CritHigh is critical
}

func f(v float64) *float64 { return &v }

const (
	SelectorSystolic  = "systolic"
	SelectorDiastolic = "diastolic"
)

type bandKey struct {
	vitalType models.VitalType
	selector  string
}

// defaultBands carries the stock clinical thresholds; per-patient
// ThresholdPolicy rows override individual entries.
var defaultBands = map[bandKey]Band{
	{models.VitalTypeBloodPressure, SelectorSystolic}:           {CritLow: f(80), WarnLow: f(89), WarnHigh: f(121), CritHigh: f(140)},
	{models.VitalTypeBloodPressure, SelectorDiastolic}:          {CritLow: f(50), WarnLow: f(59), WarnHigh: f(81), CritHigh: f(90)},
	{models.VitalTypeGlucose, string(models.MealContextFasting)}: {CritLow: f(54), WarnLow: f(69), WarnHigh: f(101), CritHigh: f(126)},
	{models.VitalTypeGlucose, string(models.MealContextPostMeal)}: {CritLow: f(54), WarnLow: f(69), WarnHigh: f(141), CritHigh: f(200)},
	{models.VitalTypeSpO2, ""}:            {CritLow: f(91), WarnLow: f(94)},
	{models.VitalTypeHeartRate, ""}:       {CritLow: f(49), WarnLow: f(59), WarnHigh: f(101), CritHigh: f(121)},
	{models.VitalTypeTemperature, ""}:     {CritLow: f(35.0), WarnLow: f(36.0), WarnHigh: f(37.3), CritHigh: f(38.1)},
	{models.VitalTypeRespiratoryRate, ""}: {CritLow: f(8), WarnLow: f(11), WarnHigh: f(21), CritHigh: f(25)},
	{models.VitalTypeWeight, ""}:          {},
}

// ClassifyValue is the pure classification core: deterministic for identical
// arguments, critical edges win over warning edges.
func ClassifyValue(band Band, value float64) models.VitalStatus {
	if band.CritLow != nil && value <= *band.CritLow {
		return models.VitalStatusCritical
	}
	if band.CritHigh != nil && value >= *band.CritHigh {
		return models.VitalStatusCritical
	}
	if band.WarnLow != nil && value <= *band.WarnLow {
		return models.VitalStatusWarning
	}
	if band.WarnHigh != nil && value >= *band.WarnHigh {
		return models.VitalStatusWarning
	}
	return models.VitalStatusNormal
}

func worseOf(a, b models.VitalStatus) models.VitalStatus {
	rank := map[models.VitalStatus]int{
		models.VitalStatusNormal:   0,
		models.VitalStatusWarning:  1,
		models.VitalStatusCritical: 2,
	}
	if rank[a] >= rank[b] {
		return a
	}
	return b
}

func (r *RPM) lookupBand(patientID string, vt models.VitalType, selector string) Band {
	var policy models.ThresholdPolicy
	err := r.Db.Conn.
		Where("patient_id = ? AND type = ? AND selector = ?", patientID, vt, selector).
		First(&policy).Error
	if err == nil {
		return Band{CritLow: policy.CritLow, WarnLow: policy.WarnLow, WarnHigh: policy.WarnHigh, CritHigh: policy.CritHigh}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		common.GetLoggerWith(
			common.LoggerNameRPMCore,
			zap.String(common.LoggerFieldRPMCategory, common.LoggerCategoryRPMClassify),
		).Error("Failed to query threshold policy, using default band",
			zap.String("patient_id", patientID),
			zap.String("type", string(vt)),
			zap.String("selector", selector),
			zap.Error(err))
	}
	return defaultBands[bandKey{vt, selector}]
}

func (r *RPM) classify(reading *models.VitalReading) (models.VitalStatus, error) {
	switch reading.Type {
	case models.VitalTypeBloodPressure:
		sys := ClassifyValue(r.lookupBand(reading.PatientID, reading.Type, SelectorSystolic), reading.Systolic)
		dia := ClassifyValue(r.lookupBand(reading.PatientID, reading.Type, SelectorDiastolic), reading.Diastolic)
		return worseOf(sys, dia), nil
	case models.VitalTypeGlucose:
		selector := string(reading.MealContext)
		if selector == "" {
			selector = string(models.MealContextFasting)
		}
		return ClassifyValue(r.lookupBand(reading.PatientID, reading.Type, selector), reading.Value), nil
	case models.VitalTypeHeartRate, models.VitalTypeSpO2, models.VitalTypeWeight,
		models.VitalTypeTemperature, models.VitalTypeRespiratoryRate:
		return ClassifyValue(r.lookupBand(reading.PatientID, reading.Type, ""), reading.Value), nil
	default:
		return "", &ValidationError{Reason: ValidationReasonUnsupportedVitalType, Detail: string(reading.Type)}
	}
}

func (r *RPM) upsertPolicy(policy *models.ThresholdPolicy) error {
	return r.Db.Conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "patient_id"}, {Name: "type"}, {Name: "selector"}},
		UpdateAll: true,
	}).Create(policy).Error
}

type IClassifierImpl struct {
	rpm *RPM
}

func (ic *IClassifierImpl) Classify(reading *models.VitalReading) (models.VitalStatus, error) {
	return ic.rpm.classify(reading)
}

func (ic *IClassifierImpl) UpsertPolicy(policy *models.ThresholdPolicy) error {
	return ic.rpm.upsertPolicy(policy)
}

func (r *RPM) GetIClassifier() IClassifier {
	return &IClassifierImpl{rpm: r}
}
