package models

import "time"

type VitalType string

const (
	VitalTypeBloodPressure   VitalType = "blood_pressure"
	VitalTypeHeartRate       VitalType = "heart_rate"
	VitalTypeGlucose         VitalType = "glucose"
	VitalTypeSpO2            VitalType = "spo2"
	VitalTypeWeight          VitalType = "weight"
	VitalTypeTemperature     VitalType = "temperature"
	VitalTypeRespiratoryRate VitalType = "respiratory_rate"
)

type VitalStatus string

const (
	VitalStatusNormal   VitalStatus = "normal"
	VitalStatusWarning  VitalStatus = "warning"
	VitalStatusCritical VitalStatus = "critical"
)

type MealContext string

const (
	MealContextFasting  MealContext = "fasting"
	MealContextPostMeal MealContext = "post_meal"
)

type DeviceStatus string

const (
	DeviceStatusUnregistered DeviceStatus = "unregistered"
	DeviceStatusProvisioned  DeviceStatus = "provisioned"
	DeviceStatusConnected    DeviceStatus = "connected"
	DeviceStatusDisconnected DeviceStatus = "disconnected"
	DeviceStatusRetired      DeviceStatus = "retired"
)

type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

type AlertState string

const (
	AlertStateOpen         AlertState = "open"
	AlertStateAcknowledged AlertState = "acknowledged"
	AlertStateResolved     AlertState = "resolved"
)

type AuditSeverity string

const (
	AuditSeverityInfo    AuditSeverity = "info"
	AuditSeverityWarning AuditSeverity = "warning"
	AuditSeverityHigh    AuditSeverity = "high"
)

type Device struct {
	ID             string       `gorm:"primaryKey"`
	HardwareID     string       `gorm:"uniqueIndex"`
	Serial         string
	MACAddress     string
	GatewayID      string
	PatientID      *string      `gorm:"index"`
	OrganizationID string       `gorm:"index"`
	Status         DeviceStatus `gorm:"type:varchar(16);check:status IN ('unregistered','provisioned','connected','disconnected','retired')"`
	LastSeenAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type VitalReading struct {
	ID             string      `gorm:"primaryKey"`
	PatientID      string      `gorm:"index:idx_readings_lane"`
	DeviceID       *string     `gorm:"index"`
	Type           VitalType   `gorm:"type:varchar(24);index:idx_readings_lane;check:type IN ('blood_pressure','heart_rate','glucose','spo2','weight','temperature','respiratory_rate')"`
	Value          float64
	Systolic       float64
	Diastolic      float64
	Unit           string
	MealContext    MealContext `gorm:"type:varchar(12)"`
	BatteryLevel   float64
	Status         VitalStatus `gorm:"type:varchar(12);check:status IN ('normal','warning','critical')"`
	RecordedAt     time.Time   `gorm:"index"`
	ReceivedAt     time.Time
	IdempotencyKey string      `gorm:"uniqueIndex"`
	CreatedAt      time.Time
}

type Alert struct {
	ID              string        `gorm:"primaryKey"`
	PatientID       string        `gorm:"index:idx_alerts_lane"`
	ReadingID       string        `gorm:"index"`
	Type            VitalType     `gorm:"type:varchar(24);index:idx_alerts_lane"`
	Severity        AlertSeverity `gorm:"type:varchar(12);check:severity IN ('low','medium','high','critical')"`
	State           AlertState    `gorm:"type:varchar(16);index;check:state IN ('open','acknowledged','resolved')"`
	Message         string
	OpenedAt        time.Time
	AcknowledgedAt  *time.Time
	AcknowledgedBy  string
	ResolvedAt      *time.Time
	ResolvedBy      string
	ResolutionNotes string
	EscalationCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ThresholdPolicy is a per-patient override of one classification band.
// Selector narrows multi-band vitals: systolic/diastolic for blood pressure,
// fasting/post_meal for glucose, empty for everything else.
type ThresholdPolicy struct {
	PatientID string    `gorm:"primaryKey"`
	Type      VitalType `gorm:"primaryKey;type:varchar(24)"`
	Selector  string    `gorm:"primaryKey;type:varchar(12);default:''"`
	CritLow   *float64
	WarnLow   *float64
	WarnHigh  *float64
	CritHigh  *float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EmergencyAccessGrant struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"index"`
	PatientID string    `gorm:"index"`
	Reason    string
	Origin    string
	GrantedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
	Revoked   bool
	CreatedAt time.Time
}

// AuditEntry is append-only: nothing in this module updates or deletes rows.
type AuditEntry struct {
	ID           string        `gorm:"primaryKey"`
	Actor        string        `gorm:"index"`
	Action       string        `gorm:"index"`
	ResourceType string
	ResourceID   string        `gorm:"index"`
	Severity     AuditSeverity `gorm:"type:varchar(12);check:severity IN ('info','warning','high')"`
	Details      string
	Origin       string
	Timestamp    time.Time     `gorm:"index"`
}
