package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Db      DbConfig
	RPC_URL string

	BatchSize          int
	MaxNonceRetries    int
	ConfirmationBlocks uint64
	ConcurrentReceipts int
	MaxRetries         int
	CronSchedule       string
	MetricsAddr        string
	Verbose            bool
}

type DbConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	DbName     string
	ReplicaSet string
}

func LoadConfig() *Config {
	if err := LoadEnv(); err != nil {
		panic(fmt.Sprintf("Error loading environment variables: %v", err))
	}

	config := Config{
		Db: DbConfig{
			Host:       getEnvString("DB_HOST", ptr("localhost")),
			User:       getEnvString("DB_USER", ptr("")),
			Password:   getEnvString("DB_PASS", ptr("")),
			DbName:     getEnvString("DB_NAME", ptr("distribution_engine")),
			Port:       getEnvInt("DB_PORT", ptr(27017)),
			ReplicaSet: getEnvString("DB_REPLICA_SET", ptr("")),
		},
		RPC_URL: getEnvString("RPC_URL", ptr("")),

		BatchSize:          getEnvInt("BATCH_SIZE", ptr(100)),
		MaxNonceRetries:    getEnvInt("MAX_NONCE_RETRIES", ptr(10)),
		ConfirmationBlocks: uint64(getEnvInt("CONFIRMATION_BLOCKS", ptr(12))),
		ConcurrentReceipts: getEnvInt("CONCURRENT_RECEIPTS", ptr(8)),
		MaxRetries:         getEnvInt("MAX_RETRIES", ptr(5)),
		CronSchedule:       getEnvString("CRON_SCHEDULE", ptr("0 */5 * * * *")),
		MetricsAddr:        getEnvString("METRICS_ADDR", ptr(":2112")),
		Verbose:            getEnvBool("VERBOSE", ptr(false)),
	}
	if config.BatchSize <= 0 {
		panic("BATCH_SIZE must be positive")
	}
	log.Println("✅ Config Loaded")
	return &config
}

// URI builds the MongoDB connection string for the configured deployment.
func (c DbConfig) URI() string {
	uri := fmt.Sprintf("mongodb://%s:%d", c.Host, c.Port)
	if c.User != "" && c.Password != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", c.User, c.Password, c.Host, c.Port)
	}
	if c.ReplicaSet != "" {
		uri += "/?replicaSet=" + c.ReplicaSet
	}
	return uri
}

func getConfigPath() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("error getting current file path")
	}
	return filepath.Dir(filename), nil
}

func LoadEnv() error {
	dir, err := getConfigPath()
	if err != nil {
		return err
	}

	envPath := filepath.Join(dir, "../../.env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// .env file doesn't exist, just return without an error
		return nil
	}

	return godotenv.Load(envPath)
}

func getEnvString(key string, defaultValue *string) string {
	value := os.Getenv(key)

	if value != "" {
		return value
	}
	if defaultValue == nil {
		panic(fmt.Sprintf("Environment variable %s is required", key))
	}
	return *defaultValue
}

func getEnvInt(key string, defaultValue *int) int {
	value := os.Getenv(key)
	if value != "" {
		intValue, err := strconv.Atoi(value)
		if err != nil {
			panic(fmt.Sprintf("Environment variable %s is not a valid integer", key))
		}
		return intValue
	}
	if defaultValue == nil {
		panic(fmt.Sprintf("Environment variable %s is required", key))
	}
	return *defaultValue
}

func getEnvBool(key string, defaultValue *bool) bool {
	value := os.Getenv(key)
	if value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			panic(fmt.Sprintf("Environment variable %s is not a valid boolean", key))
		}
		return boolValue
	}
	if defaultValue == nil {
		panic(fmt.Sprintf("Environment variable %s is required", key))
	}
	return *defaultValue
}

func ptr[T any](v T) *T {
	return &v
}
