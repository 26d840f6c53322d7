package rpm

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"

	"go.uber.org/mock/gomock"
	"vytalwatch.dev/rpm-core-service/pkg/db"
	"vytalwatch.dev/rpm-core-service/pkg/rpm/mocks"
)

func GetMockRPMWithMemorySqliteDialector(t *testing.T, useMockIAlert, useMockIAudit bool) (
	*gomock.Controller,
	*RPM,
	*mocks.MockIAlert,
	*mocks.MockIAudit,
) {
	ctrl := gomock.NewController(t)

	mockIAlert := mocks.NewMockIAlert(ctrl)
	mockIAudit := mocks.NewMockIAudit(ctrl)
	dialector := db.UseMemorySqliteDialector()
	dbInstance := db.GetInstance(dialector) // ensure migrations
	rpmInstance := &RPM{
		Db:           *dbInstance,
		AccessConfig: AccessConfig{Enabled: true, TTL: DefaultEmergencyAccessTTL},
		Dispatcher:   &LogDispatcher{},
	}

	alertService := rpmInstance.GetIAlert()
	if useMockIAlert {
		alertService = mockIAlert
	}

	auditService := rpmInstance.GetIAudit()
	if useMockIAudit {
		auditService = mockIAudit
	}

	rpmInstance.WithServices(ServiceOpts{
		Registry:   rpmInstance.GetIRegistry(),
		Ingest:     rpmInstance.GetIIngest(),
		Classifier: rpmInstance.GetIClassifier(),
		Alert:      alertService,
		Access:     rpmInstance.GetIAccess(),
		Audit:      auditService,
	})

	return ctrl, rpmInstance, mockIAlert, mockIAudit
}

func ParseLogs(r io.Reader) []any {
	scanner := bufio.NewScanner(r)
	var logs []any

	for scanner.Scan() {
		line := scanner.Text()
		var j any
		if err := json.Unmarshal([]byte(line), &j); err == nil {
			logs = append(logs, j)
		}
	}
	return logs
}
