package rpm

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"vytalwatch.dev/rpm-core-service/pkg/common"
	"vytalwatch.dev/rpm-core-service/pkg/db"
	"vytalwatch.dev/rpm-core-service/pkg/models"
)

const (
	auditQueueDepth    = 1024
	auditWriteAttempts = 3
	auditWriteBackoff  = 100 * time.Millisecond
)

// AuditSink persists audit entries off the caller's path. Log never blocks
// and never fails the triggering domain action; entries that cannot be
// persisted after retries are escalated as an operational alert through the
// dispatcher. LogTx is the synchronous path for mutations whose audit record
// must commit atomically with them.
type AuditSink struct {
	db         db.DB
	dispatcher Dispatcher
	queue      chan models.AuditEntry
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

func NewAuditSink(database db.DB, dispatcher Dispatcher) *AuditSink {
	s := &AuditSink{
		db:         database,
		dispatcher: dispatcher,
		queue:      make(chan models.AuditEntry, auditQueueDepth),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

func fillEntryDefaults(entry *models.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Severity == "" {
		entry.Severity = models.AuditSeverityInfo
	}
}

func (s *AuditSink) Log(entry models.AuditEntry) {
	fillEntryDefaults(&entry)
	select {
	case s.queue <- entry:
	default:
		// A full queue must not stall the domain path; the gap itself is an
		// operational problem.
		s.escalate(entry, "audit queue full")
	}
}

func (s *AuditSink) LogTx(tx *gorm.DB, entry models.AuditEntry) error {
	fillEntryDefaults(&entry)
	return tx.Create(&entry).Error
}

func (s *AuditSink) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}

func (s *AuditSink) drain() {
	defer s.wg.Done()
	for entry := range s.queue {
		s.persist(entry)
	}
}

func (s *AuditSink) persist(entry models.AuditEntry) {
	backoff := auditWriteBackoff
	var err error
	for attempt := 1; attempt <= auditWriteAttempts; attempt++ {
		if err = s.db.Conn.Create(&entry).Error; err == nil {
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	s.escalate(entry, err.Error())
}

// escalate raises an operational alert, distinct from clinical alerts: the
// audit gap is logged at error level and pushed to the ops channel.
func (s *AuditSink) escalate(entry models.AuditEntry, cause string) {
	logger := common.GetLoggerWith(
		common.LoggerNameRPMCore,
		zap.String(common.LoggerFieldRPMCategory, common.LoggerCategoryRPMAudit),
	)
	logger.Error("Audit entry could not be persisted",
		zap.String("action", entry.Action),
		zap.String("resource_id", entry.ResourceID),
		zap.String("cause", cause),
	)
	if s.dispatcher != nil {
		_ = s.dispatcher.Dispatch("ops", "audit sink failure",
			"an audit entry could not be persisted: "+cause,
			map[string]string{"action": entry.Action, "resource_id": entry.ResourceID, "severity": string(models.AuditSeverityHigh)})
	}
}

func (r *RPM) GetIAudit() IAudit {
	return NewAuditSink(r.Db, r.Dispatcher)
}
