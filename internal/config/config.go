package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dandantas/lms-worker/internal/database"
)

// Job store backends
const (
	StoreMongo     = "mongo"
	StoreCassandra = "cassandra"
)

// Config holds all application configuration
type Config struct {
	// Job store selection
	JobStoreBackend string

	// MongoDB Configuration
	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration
	// 0 sizes the pool from WorkerPoolSize
	MongoMaxPoolSize      int
	MongoJobsCollection   string
	MongoLeasesCollection string
	MongoUsersCollection  string

	// Cassandra Configuration
	CassandraHosts    []string
	CassandraKeyspace string
	CassandraTimeout  time.Duration
	CassandraRetries  int

	// NATS Configuration
	NATSURL           string
	WorkerQueueGroup  string
	BulkUploadSubject string
	TelemetrySubject  string
	SMSSubject        string

	// HTTP Server Configuration
	HTTPPort         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// Worker Pool Configuration
	WorkerPoolSize  int
	WorkerQueueSize int

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Bulk upload processing
	LeaseEnabled       bool
	LeaseTTL           time.Duration
	CheckpointEvery    int
	FinalWriteAttempts int

	// Location service
	LocationServiceURL   string
	LocationSearchPath   string
	LocationCreatePath   string
	LocationUpdatePath   string
	LocationResultsPath  string
	LocationAuthToken    string
	LocationTimeout      time.Duration
	LocationMaxRetries   int
	LocationRetryWaitMax time.Duration
	LocationKeyFieldList []string
	DefaultObjectType    string

	// Telemetry
	TelemetryBaseURL string
	TelemetryAPIPath string
	TelemetryTimeout time.Duration

	// SMS
	SMSProviderURL    string
	SMSAuthKey        string
	SMSSender         string
	SMSDefaultCountry string
	SMSTimeout        time.Duration

	// Recovery sweeper
	RecoveryEnabled    bool
	RecoverySchedule   string
	RecoveryStaleAfter time.Duration
	RecoveryBatchLimit int

	// Identity of this replica, used as lease owner
	PodID string

	ShutdownGracePeriod time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		JobStoreBackend: strings.ToLower(getEnv("JOB_STORE_BACKEND", StoreMongo)),

		// MongoDB
		MongoURI:              getEnv("MONGO_URI", "mongodb://localhost:27017/lms?authSource=admin"),
		MongoDatabase:         getEnv("MONGO_DATABASE", "lms"),
		MongoTimeout:          getDurationEnv("MONGO_TIMEOUT_SEC", 10) * time.Second,
		MongoMaxPoolSize:      getIntEnv("MONGO_MAX_POOL_SIZE", 0),
		MongoJobsCollection:   getEnv("MONGO_JOBS_COLLECTION", "bulk_upload_process"),
		MongoLeasesCollection: getEnv("MONGO_LEASES_COLLECTION", "job_leases"),
		MongoUsersCollection:  getEnv("MONGO_USERS_COLLECTION", "users"),

		// Cassandra
		CassandraHosts:    getListEnv("CASSANDRA_HOSTS", "localhost:9042"),
		CassandraKeyspace: getEnv("CASSANDRA_KEYSPACE", "sunbird"),
		CassandraTimeout:  getDurationEnv("CASSANDRA_TIMEOUT_SEC", 10) * time.Second,
		CassandraRetries:  getIntEnv("CASSANDRA_NUM_RETRIES", 3),

		// NATS
		NATSURL:           getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		WorkerQueueGroup:  getEnv("WORKER_QUEUE_GROUP", "lms-workers"),
		BulkUploadSubject: getEnv("BULK_UPLOAD_SUBJECT", "lms.bulkupload.location"),
		TelemetrySubject:  getEnv("TELEMETRY_SUBJECT", "lms.telemetry"),
		SMSSubject:        getEnv("SMS_SUBJECT", "lms.notification.sms"),

		// HTTP Server
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		HTTPReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT_SEC", 30) * time.Second,
		HTTPWriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT_SEC", 30) * time.Second,

		// Worker Pool
		WorkerPoolSize:  getIntEnv("WORKER_POOL_SIZE", 10),
		WorkerQueueSize: getIntEnv("WORKER_QUEUE_SIZE", 1000),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Bulk upload
		LeaseEnabled:       getBoolEnv("JOB_LEASE_ENABLED", true),
		LeaseTTL:           getDurationEnv("JOB_LEASE_TTL_SEC", 600) * time.Second,
		CheckpointEvery:    getIntEnv("JOB_CHECKPOINT_EVERY", 100),
		FinalWriteAttempts: getIntEnv("JOB_FINAL_WRITE_ATTEMPTS", 5),

		// Location service
		LocationServiceURL:   getEnv("LOCATION_SERVICE_URL", "http://localhost:9000"),
		LocationSearchPath:   getEnv("LOCATION_SEARCH_PATH", "/v1/location/search"),
		LocationCreatePath:   getEnv("LOCATION_CREATE_PATH", "/v1/location/create"),
		LocationUpdatePath:   getEnv("LOCATION_UPDATE_PATH", "/v1/location/update"),
		LocationResultsPath:  getEnv("LOCATION_RESULTS_JSONPATH", "$.result.response"),
		LocationAuthToken:    getEnv("LOCATION_AUTH_TOKEN", ""),
		LocationTimeout:      getDurationEnv("LOCATION_TIMEOUT_SEC", 30) * time.Second,
		LocationMaxRetries:   getIntEnv("LOCATION_MAX_RETRIES", 3),
		LocationRetryWaitMax: getDurationEnv("LOCATION_RETRY_WAIT_MAX_SEC", 5) * time.Second,
		LocationKeyFieldList: getListEnv("LOCATION_KEY_FIELDS", "code,locationType"),
		DefaultObjectType:    getEnv("BULK_UPLOAD_OBJECT_TYPE", "location"),

		// Telemetry
		TelemetryBaseURL: getEnv("TELEMETRY_BASE_URL", "http://localhost:9001"),
		TelemetryAPIPath: getEnv("TELEMETRY_API_PATH", "/v1/telemetry"),
		TelemetryTimeout: getDurationEnv("TELEMETRY_TIMEOUT_SEC", 10) * time.Second,

		// SMS
		SMSProviderURL:    getEnv("SMS_PROVIDER_URL", "https://api.msg91.com/api/v2/sendsms"),
		SMSAuthKey:        getEnv("SMS_AUTH_KEY", ""),
		SMSSender:         getEnv("SMS_SENDER", "LMSNOT"),
		SMSDefaultCountry: getEnv("SMS_DEFAULT_COUNTRY_CODE", "91"),
		SMSTimeout:        getDurationEnv("SMS_TIMEOUT_SEC", 10) * time.Second,

		// Recovery sweeper
		RecoveryEnabled:    getBoolEnv("RECOVERY_ENABLED", true),
		RecoverySchedule:   getEnv("RECOVERY_SCHEDULE", "*/5 * * * *"),
		RecoveryStaleAfter: getDurationEnv("RECOVERY_STALE_AFTER_SEC", 900) * time.Second,
		RecoveryBatchLimit: getIntEnv("RECOVERY_BATCH_LIMIT", 100),

		PodID: getEnv("POD_ID", hostname()),

		ShutdownGracePeriod: getDurationEnv("SHUTDOWN_GRACE_PERIOD_SEC", 30) * time.Second,
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
		log.Printf("Warning: Invalid duration value for %s, using default %d", key, defaultValue)
	}
	return time.Duration(defaultValue)
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}

// hostname is the pod name in Kubernetes, or a random id if unavailable
func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = uuid.New().String()
		log.Printf("Warning: Failed to get hostname, using %s as pod id", name)
	}
	return name
}

// getListEnv splits a comma separated value, dropping blank entries
func getListEnv(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MongoOptions returns the client settings for the worker's MongoDB
func (c *Config) MongoOptions() database.Options {
	return database.Options{
		URI:         c.MongoURI,
		Database:    c.MongoDatabase,
		Timeout:     c.MongoTimeout,
		MaxPoolSize: uint64(max(c.MongoMaxPoolSize, 0)),
		Workers:     c.WorkerPoolSize,
		AppName:     ServiceName + "-" + c.PodID,
		Collections: database.Collections{
			BulkUploads: c.MongoJobsCollection,
			JobLeases:   c.MongoLeasesCollection,
			Users:       c.MongoUsersCollection,
		},
	}
}

// MaxRowDuration is the worst case for one row: a search plus a create or
// update, each running every transport retry to its timeout.
func (c *Config) MaxRowDuration() time.Duration {
	retries := time.Duration(max(c.LocationMaxRetries, 0))
	perCall := c.LocationTimeout*(retries+1) + c.LocationRetryWaitMax*retries
	return 2 * perCall
}

// Validate checks the settings that have no usable fallback
func (c *Config) Validate() error {
	switch c.JobStoreBackend {
	case StoreMongo, StoreCassandra:
	default:
		return fmt.Errorf("invalid JOB_STORE_BACKEND %q (must be %q or %q)", c.JobStoreBackend, StoreMongo, StoreCassandra)
	}
	if c.MongoMaxPoolSize < 0 {
		return errors.New("MONGO_MAX_POOL_SIZE must not be negative")
	}
	if c.WorkerPoolSize < 1 {
		return errors.New("WORKER_POOL_SIZE must be at least 1")
	}
	if c.LeaseEnabled {
		if c.LeaseTTL <= 0 {
			return errors.New("JOB_LEASE_TTL_SEC must be positive when leasing is enabled")
		}
		// the lease is extended between rows, at the latest a third of the TTL
		// after the previous extension
		if row := c.MaxRowDuration(); c.LeaseTTL*2/3 <= row {
			return fmt.Errorf("JOB_LEASE_TTL_SEC (%s) must exceed 1.5x the longest possible row (%s)", c.LeaseTTL, row)
		}
	}
	if c.CheckpointEvery < 0 {
		return errors.New("JOB_CHECKPOINT_EVERY must not be negative")
	}
	if len(c.LocationKeyFieldList) == 0 {
		return errors.New("LOCATION_KEY_FIELDS must name at least one field")
	}
	return nil
}
