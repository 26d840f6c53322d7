package rpm

import (
	"sync"
	"time"

	"gorm.io/gorm"
	"vytalwatch.dev/rpm-core-service/pkg/db"
	"vytalwatch.dev/rpm-core-service/pkg/models"
)

type IRegistry interface {
	Register(input *RegisterDeviceInput) (*models.Device, error)
	Resolve(hardwareID string) (*models.Device, error)
	MarkSeen(deviceID string, seenAt time.Time) error
	Retire(deviceID string, actor string) error
}

type IIngest interface {
	Ingest(envelope *TelemetryEnvelope, source SourceMeta) (*models.VitalReading, error)
	GetPatientReadings(patientID string, filter ReadingFilter) ([]models.VitalReading, error)
}

type IClassifier interface {
	Classify(reading *models.VitalReading) (models.VitalStatus, error)
	UpsertPolicy(policy *models.ThresholdPolicy) error
}

type IAlert interface {
	Evaluate(reading *models.VitalReading) (*models.Alert, error)
	Acknowledge(alertID string, actor string) (*models.Alert, error)
	Resolve(alertID string, actor string, notes string) (*models.Alert, error)
	GetPatientAlerts(patientID string) ([]models.Alert, error)
}

type IAccess interface {
	Request(userID string, patientID string, reason string, origin string) (*models.EmergencyAccessGrant, error)
	Validate(accessID string, userID string) bool
	Revoke(accessID string, userID string) error
}

type IAudit interface {
	Log(entry models.AuditEntry)
	LogTx(tx *gorm.DB, entry models.AuditEntry) error
	Close()
}

// AccessConfig gates the break-glass path; TTL is fixed at grant time and
// never extended.
type AccessConfig struct {
	Enabled bool
	TTL     time.Duration
}

type RPM struct {
	Db           db.DB
	AccessConfig AccessConfig
	Dispatcher   Dispatcher

	Registry   IRegistry
	Ingest     IIngest
	Classifier IClassifier
	Alert      IAlert
	Access     IAccess
	Audit      IAudit

	laneLocks     *laneLockStore
	laneLocksOnce sync.Once
}

func (r *RPM) getLaneLocks() *laneLockStore {
	r.laneLocksOnce.Do(func() {
		r.laneLocks = newLaneLockStore()
	})
	return r.laneLocks
}

type ServiceOpts struct {
	Registry   IRegistry
	Ingest     IIngest
	Classifier IClassifier
	Alert      IAlert
	Access     IAccess
	Audit      IAudit
}

func (r *RPM) WithServices(opts ServiceOpts) *RPM {
	if opts.Registry != nil {
		r.Registry = opts.Registry
	}
	if opts.Ingest != nil {
		r.Ingest = opts.Ingest
	}
	if opts.Classifier != nil {
		r.Classifier = opts.Classifier
	}
	if opts.Alert != nil {
		r.Alert = opts.Alert
	}
	if opts.Access != nil {
		r.Access = opts.Access
	}
	if opts.Audit != nil {
		r.Audit = opts.Audit
	}
	return r
}
