package rpm

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"vytalwatch.dev/rpm-core-service/pkg/common"
	"vytalwatch.dev/rpm-core-service/pkg/models"
)

const DefaultEmergencyAccessTTL = 4 * time.Hour

func accessLogger() *zap.Logger {
	return common.GetLoggerWith(
		common.LoggerNameRPMCore,
		zap.String(common.LoggerFieldRPMCategory, common.LoggerCategoryRPMAccess),
	)
}

// IAccessImpl issues and checks break-glass grants. Emergency access is
// deliberately not gated by the caller's normal authorization scope; the
// administrative kill switch is the only precondition.
type IAccessImpl struct {
	rpm   *RPM
	nowFn func() time.Time
}

func (ia *IAccessImpl) Request(userID string, patientID string, reason string, origin string) (*models.EmergencyAccessGrant, error) {
	if !ia.rpm.AccessConfig.Enabled {
		return nil, &ForbiddenError{Msg: "emergency access disabled"}
	}
	if reason == "" {
		return nil, &ValidationError{Reason: ValidationReasonMalformed, Detail: "reason is required"}
	}

	ttl := ia.rpm.AccessConfig.TTL
	if ttl <= 0 {
		ttl = DefaultEmergencyAccessTTL
	}

	now := ia.nowFn()
	grant := models.EmergencyAccessGrant{
		ID:        uuid.NewString(),
		UserID:    userID,
		PatientID: patientID,
		Reason:    reason,
		Origin:    origin,
		GrantedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := ia.rpm.Db.Conn.Create(&grant).Error; err != nil {
		return nil, err
	}

	ia.rpm.Audit.Log(models.AuditEntry{
		Actor:        userID,
		Action:       "EMERGENCY_ACCESS_GRANTED",
		ResourceType: "patient",
		ResourceID:   patientID,
		Severity:     models.AuditSeverityWarning,
		Details:      fmt.Sprintf("access_id=%s reason=%q expires_at=%s", grant.ID, reason, grant.ExpiresAt.Format(time.RFC3339)),
		Origin:       origin,
	})

	accessLogger().Warn(fmt.Sprintf("BREAK-GLASS: User %s accessed patient %s. Reason: %s", userID, patientID, reason))
	return &grant, nil
}

// Validate is a pure function of (grant exists, userId matches, not revoked,
// not expired). It returns false rather than erroring so callers can run it
// on every data access inside the grant window.
func (ia *IAccessImpl) Validate(accessID string, userID string) bool {
	var grant models.EmergencyAccessGrant
	if err := ia.rpm.Db.Conn.First(&grant, "id = ?", accessID).Error; err != nil {
		return false
	}
	if grant.UserID != userID || grant.Revoked {
		return false
	}
	return ia.nowFn().Before(grant.ExpiresAt)
}

func (ia *IAccessImpl) Revoke(accessID string, userID string) error {
	var grant models.EmergencyAccessGrant
	err := ia.rpm.Db.Conn.First(&grant, "id = ?", accessID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Resource: "emergency_access", Key: accessID}
	}
	if err != nil {
		return err
	}
	if grant.Revoked {
		// Idempotent: revoking twice is a no-op.
		return nil
	}

	if err := ia.rpm.Db.Conn.Model(&grant).Update("revoked", true).Error; err != nil {
		return err
	}

	ia.rpm.Audit.Log(models.AuditEntry{
		Actor:        userID,
		Action:       "EMERGENCY_ACCESS_REVOKED",
		ResourceType: "emergency_access",
		ResourceID:   accessID,
		Severity:     models.AuditSeverityInfo,
	})
	return nil
}

// SweepExpiredGrants removes grants that expired more than a day ago. The
// audit trail is the durable record; the table only needs live grants plus a
// short tail for operator inspection.
func (ia *IAccessImpl) SweepExpiredGrants() (int64, error) {
	cutoff := ia.nowFn().Add(-24 * time.Hour)
	result := ia.rpm.Db.Conn.
		Where("expires_at < ?", cutoff).
		Delete(&models.EmergencyAccessGrant{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		accessLogger().Info("Swept expired emergency access grants", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// StartSweeper runs SweepExpiredGrants on the given interval until stop is
// closed.
func (ia *IAccessImpl) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := ia.SweepExpiredGrants(); err != nil {
					accessLogger().Error("Grant sweep failed", zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()
}

func (r *RPM) GetIAccess() IAccess {
	return &IAccessImpl{rpm: r, nowFn: time.Now}
}
