package common

const (
	EnvKeyGoEnv string = "GO_ENV"

	EnvKeyRunIntegrationTests string = "RUN_INTEGRATION_TESTS"

	EnvKeyRPMDBType string = "RPM_DB_TYPE"
	EnvKeyRPMDbPath string = "RPM_DB_PATH"

	EnvKeyRPMHttpHostPort string = "RPM_HTTP_HOST_PORT"

	EnvKeyRPMDefaultRate  string = "RPM_DEFAULT_RATE"
	EnvKeyRPMDefaultBurst string = "RPM_DEFAULT_BURST"

	EnvKeyRPMEmergencyAccessEnabled  string = "RPM_EMERGENCY_ACCESS_ENABLED"
	EnvKeyRPMEmergencyAccessTTLHours string = "RPM_EMERGENCY_ACCESS_TTL_HOURS"

	LoggerNameRPMCore       string = "rpm_core"
	LoggerNameRestfulServer string = "restful_server"

	LoggerFieldRPMCategory      string = "category"
	LoggerCategoryRPMRegistry   string = "registry"
	LoggerCategoryRPMNormalizer string = "normalizer"
	LoggerCategoryRPMClassify   string = "classify"
	LoggerCategoryRPMAlert      string = "alert"
	LoggerCategoryRPMAccess     string = "access"
	LoggerCategoryRPMAudit      string = "audit"
	LoggerCategoryRPMIngest     string = "ingest"
	LoggerCategoryRPMNotify     string = "notify"
)
