package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Milvus    MilvusConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Embedding EmbeddingConfig
	Search    SearchConfig
	Ingestion IngestionConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	DistanceMetric string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type EmbeddingConfig struct {
	Model      string
	APIKey     string
	Dimension  int
	BatchSize  int
	TimeoutSec int
}

// SearchConfig holds the retrieval and routing policy. The thresholds are
// empirically chosen defaults and are expected to be recalibrated against
// labeled query data per deployment.
type SearchConfig struct {
	HighConfidenceThreshold   float64
	MediumConfidenceThreshold float64
	DefaultTopK               int
	MismatchDiffThreshold     float64
	DetectMismatch            bool
}

type IngestionConfig struct {
	DataDir   string
	BatchSize int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/ehr-chatbot")

	viper.SetEnvPrefix("EHR_CHATBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the engine cannot run with. Anything not
// checked here is either defaulted or only fails at the backend boundary.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Search.HighConfidenceThreshold < c.Search.MediumConfidenceThreshold {
		return fmt.Errorf("search.highConfidenceThreshold (%.2f) must be >= search.mediumConfidenceThreshold (%.2f)",
			c.Search.HighConfidenceThreshold, c.Search.MediumConfidenceThreshold)
	}
	if c.Search.DefaultTopK <= 0 {
		return fmt.Errorf("search.defaultTopK must be positive, got %d", c.Search.DefaultTopK)
	}
	if c.Search.MismatchDiffThreshold < 0 {
		return fmt.Errorf("search.mismatchDiffThreshold must not be negative, got %.2f", c.Search.MismatchDiffThreshold)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "ehr_qa")
	viper.SetDefault("milvus.distanceMetric", "COSINE")

	viper.SetDefault("sqlite.path", "./data/chatbot.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimension", 1536)
	viper.SetDefault("embedding.batchSize", 32)
	viper.SetDefault("embedding.timeoutSec", 15)

	viper.SetDefault("search.highConfidenceThreshold", 0.83)
	viper.SetDefault("search.mediumConfidenceThreshold", 0.75)
	viper.SetDefault("search.defaultTopK", 3)
	viper.SetDefault("search.mismatchDiffThreshold", 0.2)
	viper.SetDefault("search.detectMismatch", true)

	viper.SetDefault("ingestion.dataDir", "./data/raw")
	viper.SetDefault("ingestion.batchSize", 1000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
