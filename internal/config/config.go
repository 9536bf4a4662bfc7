package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"document-qa/internal/models"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	RAG      RAGConfig      `yaml:"rag"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	InferLLM LLMConfig      `yaml:"inference_llm"`
	Database DatabaseConfig `yaml:"database"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxFileSize int64  `yaml:"max_file_size"`
}

type RAGConfig struct {
	ChunkSize     int `yaml:"chunk_size"`
	ChunkOverlap  int `yaml:"chunk_overlap"`
	TopKInitial   int `yaml:"top_k_initial"`
	TopKFinal     int `yaml:"top_k_final"`
	RRFOffset     int `yaml:"rrf_offset"`
	ContextBudget int `yaml:"context_budget"`
	Workers       int `yaml:"workers"`
}

type LLMConfig struct {
	Provider   string  `yaml:"provider"` // "ollama" or "openai"
	BaseURL    string  `yaml:"base_url"`
	Key        string  `yaml:"key"`
	Model      string  `yaml:"model"`
	MaxTokens  int     `yaml:"max_tokens"`
	MaxRetries int     `yaml:"max_retries"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Key     string `yaml:"key"`
	Debug   bool   `yaml:"debug"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.MaxFileSize == 0 {
		c.Server.MaxFileSize = 10 << 20
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = models.DefaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = models.DefaultChunkOverlap
	}
	if c.RAG.TopKInitial == 0 {
		c.RAG.TopKInitial = models.DefaultTopKInitial
	}
	if c.RAG.TopKFinal == 0 {
		c.RAG.TopKFinal = models.DefaultTopKFinal
	}
	if c.RAG.RRFOffset == 0 {
		c.RAG.RRFOffset = models.DefaultRRFOffset
	}
	if c.RAG.ContextBudget == 0 {
		c.RAG.ContextBudget = 6000
	}
	if c.RAG.Workers == 0 {
		c.RAG.Workers = 4
	}
	if c.InferLLM.MaxTokens == 0 {
		c.InferLLM.MaxTokens = 512
	}
	if c.InferLLM.MaxRetries == 0 {
		c.InferLLM.MaxRetries = 3
	}
	if c.InferLLM.RatePerSec == 0 {
		c.InferLLM.RatePerSec = 5
	}
	if c.InferLLM.Burst == 0 {
		c.InferLLM.Burst = 5
	}
}

// Default returns a fully defaulted config for use when no config file is
// present.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}
