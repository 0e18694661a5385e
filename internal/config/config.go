package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int
	LogLevel string

	OpenAIAPIKey    string
	OpenAIModel     string
	TranscribeModel string
	OpenAIBaseURL   string

	SurveyPath    string
	AnswersPath   string
	ChunkLogPath  string
	ResultsPath   string
	ReferencePath string

	SentencesPerChunk int
	OverlapSentences  int

	NatsURL     string
	NatsToken   string
	DatabaseURL string
	APIToken    string
}

func Load() Config {
	return Config{
		Port:              envInt("CAREFORM_PORT", 8640),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		OpenAIAPIKey:      envStr("OPENAI_API_KEY", ""),
		OpenAIModel:       envStr("CAREFORM_MODEL", "o4-mini-2025-04-16"),
		TranscribeModel:   envStr("CAREFORM_TRANSCRIBE_MODEL", "gpt-4o-transcribe"),
		OpenAIBaseURL:     envStr("OPENAI_BASE_URL", ""),
		SurveyPath:        envStr("CAREFORM_SURVEY", "data/survey.csv"),
		AnswersPath:       envStr("CAREFORM_ANSWERS", "data/answers.json"),
		ChunkLogPath:      envStr("CAREFORM_CHUNK_LOG", "evaluation/log_chunks.jsonl"),
		ResultsPath:       envStr("CAREFORM_RESULTS", "evaluation/evaluation_results.jsonl"),
		ReferencePath:     envStr("CAREFORM_REFERENCE", "evaluation/reference_answers.json"),
		SentencesPerChunk: envInt("CAREFORM_SENTENCES", 10),
		OverlapSentences:  envInt("CAREFORM_OVERLAP", 2),
		NatsURL:           envStr("NATS_URL", ""),
		NatsToken:         envStr("NATS_TOKEN", ""),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		APIToken:          envStr("CAREFORM_API_TOKEN", ""),
	}
}

// fileConfig mirrors Config with pointer fields so an absent key leaves
// the environment-derived value untouched.
type fileConfig struct {
	Port              *int    `yaml:"port"`
	LogLevel          *string `yaml:"log_level"`
	OpenAIModel       *string `yaml:"model"`
	TranscribeModel   *string `yaml:"transcribe_model"`
	SurveyPath        *string `yaml:"survey"`
	AnswersPath       *string `yaml:"answers"`
	ChunkLogPath      *string `yaml:"chunk_log"`
	ResultsPath       *string `yaml:"results"`
	ReferencePath     *string `yaml:"reference"`
	SentencesPerChunk *int    `yaml:"sentences_per_chunk"`
	OverlapSentences  *int    `yaml:"overlap_sentences"`
	NatsURL           *string `yaml:"nats_url"`
	DatabaseURL       *string `yaml:"database_url"`
}

// ApplyFile overlays settings from a YAML file onto c. Secrets stay in
// the environment and are not read from files.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	if fc.OpenAIModel != nil {
		c.OpenAIModel = *fc.OpenAIModel
	}
	if fc.TranscribeModel != nil {
		c.TranscribeModel = *fc.TranscribeModel
	}
	if fc.SurveyPath != nil {
		c.SurveyPath = *fc.SurveyPath
	}
	if fc.AnswersPath != nil {
		c.AnswersPath = *fc.AnswersPath
	}
	if fc.ChunkLogPath != nil {
		c.ChunkLogPath = *fc.ChunkLogPath
	}
	if fc.ResultsPath != nil {
		c.ResultsPath = *fc.ResultsPath
	}
	if fc.ReferencePath != nil {
		c.ReferencePath = *fc.ReferencePath
	}
	if fc.SentencesPerChunk != nil {
		c.SentencesPerChunk = *fc.SentencesPerChunk
	}
	if fc.OverlapSentences != nil {
		c.OverlapSentences = *fc.OverlapSentences
	}
	if fc.NatsURL != nil {
		c.NatsURL = *fc.NatsURL
	}
	if fc.DatabaseURL != nil {
		c.DatabaseURL = *fc.DatabaseURL
	}
	return nil
}

func (c Config) Validate() error {
	if c.SentencesPerChunk < 1 {
		return fmt.Errorf("sentences per chunk must be positive, got %d", c.SentencesPerChunk)
	}
	if c.OverlapSentences < 0 || c.OverlapSentences >= c.SentencesPerChunk {
		return fmt.Errorf("overlap must be in [0, %d), got %d", c.SentencesPerChunk, c.OverlapSentences)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
