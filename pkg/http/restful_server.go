package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"vytalwatch.dev/rpm-core-service/pkg/rpm"
)

type RestfulServer struct {
	Server           *gin.Engine
	Core             *rpm.RPM
	RateLimiterStore *rpm.RateLimiterStore
}

func (rs *RestfulServer) GetLimiter(hardwareID string) *rate.Limiter {
	if rs.RateLimiterStore == nil {
		return nil
	} else {
		return rs.RateLimiterStore.GetLimiter(hardwareID)
	}
}

func (rs *RestfulServer) CheckDeviceLimiter(hardwareID string) bool {
	limiter := rs.GetLimiter(hardwareID)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

func (rs *RestfulServer) SetLimiter(hardwareID string, deviceRate float64, deviceBurst int) {
	if rs.RateLimiterStore == nil {
		return
	}
	rs.RateLimiterStore.SetLimiter(hardwareID, rate.Limit(deviceRate), deviceBurst)
}

func (rs *RestfulServer) Setup() {
	rs.Server.GET("/healthz", rs.HealthCheck)

	rs.Server.POST("/telemetry", rs.PostTelemetry)

	devices := rs.Server.Group("/devices")
	{
		devices.POST("", rs.RegisterDevice)
		devices.GET("/:hardware_id", rs.GetDevice)
		devices.POST("/:hardware_id/limiter", rs.PostLimiter)
	}

	patients := rs.Server.Group("/patients/:patient_id")
	{
		patients.GET("/readings", rs.GetPatientReadings)
		patients.GET("/alerts", rs.GetPatientAlerts)
		patients.POST("/thresholds", rs.UpsertThresholds)
	}

	alerts := rs.Server.Group("/alerts/:alert_id")
	{
		alerts.POST("/ack", rs.AcknowledgeAlert)
		alerts.POST("/resolve", rs.ResolveAlert)
	}

	access := rs.Server.Group("/emergency-access")
	{
		access.POST("", rs.RequestEmergencyAccess)
		access.GET("/:access_id/validate", rs.ValidateEmergencyAccess)
		access.DELETE("/:access_id", rs.RevokeEmergencyAccess)
	}
}

// statusForError maps the core error taxonomy onto HTTP; nothing in the
// taxonomy is fatal to the server.
func statusForError(err error) int {
	var validation *rpm.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest
	}
	var notFound *rpm.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	var invalidTransition *rpm.InvalidTransitionError
	if errors.As(err, &invalidTransition) {
		return http.StatusConflict
	}
	var forbidden *rpm.ForbiddenError
	if errors.As(err, &forbidden) {
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
