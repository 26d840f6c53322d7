package rpm

import (
	"time"

	"go.uber.org/zap"
	"vytalwatch.dev/rpm-core-service/pkg/common"
)

// Dispatcher is the outbound notification collaborator. The real fan-out
// (SMS, email, pager) lives outside this core.
type Dispatcher interface {
	Dispatch(userID string, subject string, body string, context map[string]string) error
}

// LogDispatcher is the default dispatcher: it records the request and leaves
// delivery to whatever tails the log stream.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

func (d *LogDispatcher) Dispatch(userID string, subject string, body string, context map[string]string) error {
	logger := common.GetLoggerWith(
		common.LoggerNameRPMCore,
		zap.String(common.LoggerFieldRPMCategory, common.LoggerCategoryRPMNotify),
	)
	logger.Warn("Notification dispatch requested",
		zap.String("user_id", userID),
		zap.String("subject", subject),
		zap.String("body", body),
		zap.Any("context", context),
	)
	return nil
}

const (
	dispatchAttempts = 3
	dispatchBackoff  = 200 * time.Millisecond
)

// dispatchAsync fires a notification without stalling the caller; delivery
// failures are retried with backoff and then surfaced in the log only.
func (r *RPM) dispatchAsync(userID string, subject string, body string, context map[string]string) {
	if r.Dispatcher == nil {
		return
	}
	go func() {
		logger := common.GetLoggerWith(
			common.LoggerNameRPMCore,
			zap.String(common.LoggerFieldRPMCategory, common.LoggerCategoryRPMNotify),
		)
		backoff := dispatchBackoff
		var err error
		for attempt := 1; attempt <= dispatchAttempts; attempt++ {
			if err = r.Dispatcher.Dispatch(userID, subject, body, context); err == nil {
				return
			}
			time.Sleep(backoff)
			backoff *= 2
		}
		logger.Error("Notification dispatch failed after retries",
			zap.String("user_id", userID),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}()
}
