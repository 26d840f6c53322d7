package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"vytalwatch.dev/rpm-core-service/pkg/common"
	"vytalwatch.dev/rpm-core-service/pkg/db"
	rpmHttp "vytalwatch.dev/rpm-core-service/pkg/http"
	"vytalwatch.dev/rpm-core-service/pkg/rpm"
)

func main() {
	var err error

	err = godotenv.Load()
	if err != nil {
		log.Fatal("Error loading .env file, copy .env.example to .env first if in development")
	}

	var dbInstance *db.DB
	rpmDbType := os.Getenv(common.EnvKeyRPMDBType)
	switch rpmDbType {
	case "file":
		dbInstance = db.GetInstance(db.UseSqliteDialector())
	case "memory":
		dbInstance = db.GetInstance(db.UseMemorySqliteDialector())
	default:
		log.Fatal("Unknown RPM_DB_TYPE: " + rpmDbType)
	}

	httpHostPort := strings.TrimSpace(os.Getenv(common.EnvKeyRPMHttpHostPort))

	var defaultRate float64
	var defaultBurst int64

	if defaultRate, err = strconv.ParseFloat(os.Getenv(common.EnvKeyRPMDefaultRate), 64); err != nil {
		log.Fatal("Invalid RPM_DEFAULT_RATE, or not set in .env, should be a float64 value")
	}

	if defaultBurst, err = strconv.ParseInt(os.Getenv(common.EnvKeyRPMDefaultBurst), 10, 64); err != nil {
		log.Fatal("Invalid RPM_DEFAULT_BURST, or not set in .env, should be an int value")
	}

	accessConfig := rpm.AccessConfig{
		Enabled: os.Getenv(common.EnvKeyRPMEmergencyAccessEnabled) == "true",
		TTL:     rpm.DefaultEmergencyAccessTTL,
	}
	if ttlHours := os.Getenv(common.EnvKeyRPMEmergencyAccessTTLHours); ttlHours != "" {
		hours, err := strconv.ParseInt(ttlHours, 10, 64)
		if err != nil || hours <= 0 {
			log.Fatal("Invalid RPM_EMERGENCY_ACCESS_TTL_HOURS, should be a positive int value")
		}
		accessConfig.TTL = time.Duration(hours) * time.Hour
	}

	logger := common.GetLogger()

	rpmCore := rpm.RPM{
		Db:           *dbInstance,
		AccessConfig: accessConfig,
		Dispatcher:   &rpm.LogDispatcher{},
	}
	rpmCore.WithServices(rpm.ServiceOpts{
		Registry:   rpmCore.GetIRegistry(),
		Ingest:     rpmCore.GetIIngest(),
		Classifier: rpmCore.GetIClassifier(),
		Alert:      rpmCore.GetIAlert(),
		Access:     rpmCore.GetIAccess(),
		Audit:      rpmCore.GetIAudit(),
	})
	defer rpmCore.Audit.Close()

	if access, ok := rpmCore.Access.(*rpm.IAccessImpl); ok {
		sweeperStop := make(chan struct{})
		defer close(sweeperStop)
		access.StartSweeper(time.Hour, sweeperStop)
	}

	if httpHostPort == "" {
		// fallback to default http port
		httpHostPort = ":1080"
	}

	logger.Info("Starting HTTP server on port " + httpHostPort)
	rs := &rpmHttp.RestfulServer{
		Server:           gin.Default(),
		Core:             &rpmCore,
		RateLimiterStore: rpm.NewRateLimiterStore(rate.Limit(defaultRate), int(defaultBurst)),
	}
	rs.Setup()

	logger.Info("http server created with:",
		zap.String("default_limiter",
			fmt.Sprintf("{\"default_rate\": %v, \"default_burst\": %v}", defaultRate, defaultBurst)))

	logger.Info("Starting HTTP server on: " + httpHostPort)
	if err := rs.Server.Run(httpHostPort); err != nil {
		log.Fatalf("http server failed to serve: %v", err)
	}
}
