package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed recognition.yaml
var recognitionYAML []byte

type Config struct {
	FaceService FaceServiceConfig
	Recognition RecognitionConfig
	Database    DatabaseConfig
	Web         WebConfig
	Models      ModelsConfig
}

type FaceServiceConfig struct {
	URL   string // face detection/embedding service (e.g., http://localhost:8000)
	Model string // embedding model served by the face service (default facenet512)
}

type RecognitionConfig struct {
	Threshold   float64 // maximum cosine distance for an accepted match
	Dim         int     // embedding dimension (default 512 for facenet512)
	MinDetScore float64 // minimum detector confidence for a face to count
	MinFacePx   int     // minimum face width/height in pixels
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the student embedding HNSW index (optional)
}

type WebConfig struct {
	Port          int
	Host          string
	SessionSecret string
}

// ModelsConfig holds recognition parameters per embedding model,
// loaded from the embedded recognition.yaml.
type ModelsConfig struct {
	Models map[string]ModelProfile `yaml:"models"`
}

type ModelProfile struct {
	Dim         int     `yaml:"dim"`
	Threshold   float64 `yaml:"threshold"`
	MinDetScore float64 `yaml:"min_det_score"`
	MinFacePx   int     `yaml:"min_face_px"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func Load() *Config {
	var models ModelsConfig
	if err := yaml.Unmarshal(recognitionYAML, &models); err != nil {
		// This is an embedded file so this error should never happen in practice.
		panic("failed to unmarshal embedded recognition.yaml: " + err.Error())
	}

	model := os.Getenv("FACE_MODEL")
	if model == "" {
		model = "facenet512"
	}
	profile := models.Models[model]

	cfg := &Config{
		FaceService: FaceServiceConfig{
			URL:   os.Getenv("FACE_SERVICE_URL"),
			Model: model,
		},
		Recognition: RecognitionConfig{
			Threshold:   envFloat("MATCH_THRESHOLD", profile.Threshold),
			Dim:         envInt("EMBEDDING_DIM", profile.Dim),
			MinDetScore: profile.MinDetScore,
			MinFacePx:   profile.MinFacePx,
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Web: WebConfig{
			Port:          envInt("WEB_PORT", 8080),
			Host:          envOr("WEB_HOST", "0.0.0.0"),
			SessionSecret: os.Getenv("WEB_SESSION_SECRET"),
		},
		Models: models,
	}

	// Unknown model name: keep env/default recognition values sane.
	if cfg.Recognition.Dim == 0 {
		cfg.Recognition.Dim = 512
	}
	if cfg.Recognition.Threshold == 0 {
		cfg.Recognition.Threshold = 0.6
	}
	return cfg
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Profile returns the recognition profile for a model name, falling back
// to the facenet512 defaults for unknown models.
func (c *Config) Profile(model string) ModelProfile {
	if p, ok := c.Models.Models[model]; ok {
		return p
	}
	return ModelProfile{Dim: 512, Threshold: 0.6, MinDetScore: 0.85, MinFacePx: 40}
}
