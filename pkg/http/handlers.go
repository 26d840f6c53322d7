package http

import (
	"net/http"
	"time"

	"vytalwatch.dev/rpm-core-service/pkg/models"
	"vytalwatch.dev/rpm-core-service/pkg/rpm"

	"github.com/gin-gonic/gin"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zhttp"
)

type TelemetryRequest struct {
	HardwareID   string    `json:"hardware_id"`
	VitalType    string    `json:"vital_type"`
	Value        float64   `json:"value"`
	Systolic     float64   `json:"systolic"`
	Diastolic    float64   `json:"diastolic"`
	Unit         string    `json:"unit"`
	MealContext  string    `json:"meal_context"`
	BatteryLevel float64   `json:"battery_level"`
	RecordedAt   time.Time `json:"recorded_at"`
	Origin       string    `json:"origin"`
	Vendor       string    `json:"vendor"`
}

var telemetryRequestSchema = z.Struct(z.Shape{
	"HardwareID":   z.String().Required(),
	"VitalType":    z.String().Required(),
	"Value":        z.Float64(),
	"Systolic":     z.Float64(),
	"Diastolic":    z.Float64(),
	"Unit":         z.String(),
	"MealContext":  z.String(),
	"BatteryLevel": z.Float64(),
	"RecordedAt":   z.Time().Required(),
	"Origin":       z.String(),
	"Vendor":       z.String(),
})

func (rs *RestfulServer) PostTelemetry(c *gin.Context) {
	var req TelemetryRequest
	if err := telemetryRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	if !rs.CheckDeviceLimiter(req.HardwareID) {
		c.Status(http.StatusTooManyRequests)
		return
	}

	reading, err := rs.Core.Ingest.Ingest(&rpm.TelemetryEnvelope{
		HardwareID:   req.HardwareID,
		VitalType:    req.VitalType,
		Value:        req.Value,
		Systolic:     req.Systolic,
		Diastolic:    req.Diastolic,
		Unit:         req.Unit,
		MealContext:  req.MealContext,
		BatteryLevel: req.BatteryLevel,
		RecordedAt:   req.RecordedAt,
	}, rpm.SourceMeta{Origin: req.Origin, Vendor: req.Vendor})
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, reading)
}

type RegisterDeviceRequest struct {
	HardwareID     string `json:"hardware_id"`
	Serial         string `json:"serial"`
	MACAddress     string `json:"mac_address"`
	GatewayID      string `json:"gateway_id"`
	PatientID      string `json:"patient_id"`
	OrganizationID string `json:"organization_id"`
}

var registerDeviceRequestSchema = z.Struct(z.Shape{
	"HardwareID":     z.String().Required(),
	"Serial":         z.String(),
	"MACAddress":     z.String(),
	"GatewayID":      z.String(),
	"PatientID":      z.String(),
	"OrganizationID": z.String(),
})

func (rs *RestfulServer) RegisterDevice(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := registerDeviceRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	device, err := rs.Core.Registry.Register(&rpm.RegisterDeviceInput{
		HardwareID:     req.HardwareID,
		Serial:         req.Serial,
		MACAddress:     req.MACAddress,
		GatewayID:      req.GatewayID,
		PatientID:      req.PatientID,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, device)
}

func (rs *RestfulServer) GetDevice(c *gin.Context) {
	hardwareID := c.Param("hardware_id")

	device, err := rs.Core.Registry.Resolve(hardwareID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, device)
}

type LimiterRequest struct {
	Rate  float64 `json:"rate"`
	Burst int     `json:"burst"`
}

var limiterRequestSchema = z.Struct(z.Shape{
	"Rate":  z.Float64().Required(),
	"Burst": z.Int().Required(),
})

func (rs *RestfulServer) PostLimiter(c *gin.Context) {
	hardwareID := c.Param("hardware_id")

	var req LimiterRequest
	if err := limiterRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	rs.SetLimiter(hardwareID, req.Rate, req.Burst)

	c.Status(http.StatusOK)
}

func (rs *RestfulServer) GetPatientReadings(c *gin.Context) {
	patientID := c.Param("patient_id")

	filter := rpm.ReadingFilter{
		Type:   c.Query("type"),
		Status: c.Query("status"),
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		filter.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		filter.To = t
	}

	readings, err := rs.Core.Ingest.GetPatientReadings(patientID, filter)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, readings)
}

func (rs *RestfulServer) GetPatientAlerts(c *gin.Context) {
	patientID := c.Param("patient_id")

	alerts, err := rs.Core.Alert.GetPatientAlerts(patientID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, alerts)
}

type AlertActionRequest struct {
	Actor string `json:"actor"`
	Notes string `json:"notes"`
}

var alertActionRequestSchema = z.Struct(z.Shape{
	"Actor": z.String().Required(),
	"Notes": z.String(),
})

func (rs *RestfulServer) AcknowledgeAlert(c *gin.Context) {
	alertID := c.Param("alert_id")

	var req AlertActionRequest
	if err := alertActionRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	alert, err := rs.Core.Alert.Acknowledge(alertID, req.Actor)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, alert)
}

func (rs *RestfulServer) ResolveAlert(c *gin.Context) {
	alertID := c.Param("alert_id")

	var req AlertActionRequest
	if err := alertActionRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	alert, err := rs.Core.Alert.Resolve(alertID, req.Actor, req.Notes)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, alert)
}

type ThresholdRequest struct {
	Type     string   `json:"type"`
	Selector string   `json:"selector"`
	CritLow  *float64 `json:"crit_low"`
	WarnLow  *float64 `json:"warn_low"`
	WarnHigh *float64 `json:"warn_high"`
	CritHigh *float64 `json:"crit_high"`
}

var thresholdRequestSchema = z.Struct(z.Shape{
	"Type":     z.String().Required(),
	"Selector": z.String(),
	"CritLow":  z.Ptr(z.Float64()),
	"WarnLow":  z.Ptr(z.Float64()),
	"WarnHigh": z.Ptr(z.Float64()),
	"CritHigh": z.Ptr(z.Float64()),
})

func (rs *RestfulServer) UpsertThresholds(c *gin.Context) {
	patientID := c.Param("patient_id")

	var req ThresholdRequest
	if err := thresholdRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	vitalType, err := rpm.ResolveVitalType(req.Type)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	policy := models.ThresholdPolicy{
		PatientID: patientID,
		Type:      vitalType,
		Selector:  req.Selector,
		CritLow:   req.CritLow,
		WarnLow:   req.WarnLow,
		WarnHigh:  req.WarnHigh,
		CritHigh:  req.CritHigh,
	}

	if err := rs.Core.Classifier.UpsertPolicy(&policy); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, policy)
}

type EmergencyAccessRequest struct {
	UserID    string `json:"user_id"`
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason"`
}

var emergencyAccessRequestSchema = z.Struct(z.Shape{
	"UserID":    z.String().Required(),
	"PatientID": z.String().Required(),
	"Reason":    z.String().Required(),
})

func (rs *RestfulServer) RequestEmergencyAccess(c *gin.Context) {
	var req EmergencyAccessRequest
	if err := emergencyAccessRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	grant, err := rs.Core.Access.Request(req.UserID, req.PatientID, req.Reason, c.ClientIP())
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, grant)
}

func (rs *RestfulServer) ValidateEmergencyAccess(c *gin.Context) {
	accessID := c.Param("access_id")
	userID := c.Query("user_id")

	valid := rs.Core.Access.Validate(accessID, userID)

	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

func (rs *RestfulServer) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (rs *RestfulServer) RevokeEmergencyAccess(c *gin.Context) {
	accessID := c.Param("access_id")
	userID := c.Query("user_id")

	if err := rs.Core.Access.Revoke(accessID, userID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusOK)
}
