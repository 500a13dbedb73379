package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Backend kinds accepted by GENERATION_BACKEND.
const (
	BackendSeq2Seq = "seq2seq"
	BackendArk     = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Models     ModelsConfig
	Generation GenerationConfig
	Session    SessionConfig
	Log        LogConfig
	AI         AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	models, err := loadModelsConfig()
	if err != nil {
		return nil, err
	}

	generation, err := loadGenerationConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	if generation.Backend == BackendArk && !ai.Enabled() {
		return nil, fmt.Errorf("GENERATION_BACKEND=ark requires ARK_API_KEY (or AK/SK) and Model")
	}

	return &Config{
		Server:     server,
		Models:     models,
		Generation: generation,
		Session:    session,
		Log:        logCfg,
		AI:         ai,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ModelsConfig 描述本地模型目录以及首次启动时的拉取方式。
type ModelsConfig struct {
	BasePath         string
	RepoURL          string
	KeywordsDir      string
	SubqueriesDir    string
	KeywordsURL      string
	SubqueriesURL    string
	ProvisionEnabled bool
}

// KeywordsPath 返回关键词模型的本地路径。
func (c ModelsConfig) KeywordsPath() string {
	return filepath.Join(c.BasePath, c.KeywordsDir)
}

// SubqueriesPath 返回子查询模型的本地路径。
func (c ModelsConfig) SubqueriesPath() string {
	return filepath.Join(c.BasePath, c.SubqueriesDir)
}

func loadModelsConfig() (ModelsConfig, error) {
	provision, err := parseBoolEnv("PROVISION_ENABLED", true)
	if err != nil {
		return ModelsConfig{}, err
	}

	return ModelsConfig{
		BasePath:         getEnvOrDefault("MODEL_BASE_PATH", "./model"),
		RepoURL:          getEnvOrDefault("MODEL_REPO_URL", "https://code.openxlab.org.cn/chenshufan/query_preprocess.git"),
		KeywordsDir:      getEnvOrDefault("KEYWORDS_MODEL_DIR", "T5-small"),
		SubqueriesDir:    getEnvOrDefault("SUBQUERIES_MODEL_DIR", "flan-T5-base"),
		KeywordsURL:      strings.TrimRight(getEnvOrDefault("KEYWORDS_MODEL_URL", "http://127.0.0.1:8501"), "/"),
		SubqueriesURL:    strings.TrimRight(getEnvOrDefault("SUBQUERIES_MODEL_URL", "http://127.0.0.1:8502"), "/"),
		ProvisionEnabled: provision,
	}, nil
}

// GenerationConfig 描述生成服务的运行参数。
type GenerationConfig struct {
	Backend     string
	Device      string
	Timeout     time.Duration
	Concurrency int
}

func loadGenerationConfig() (GenerationConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("GENERATION_BACKEND", BackendSeq2Seq))
	if backend != BackendSeq2Seq && backend != BackendArk {
		return GenerationConfig{}, fmt.Errorf("invalid GENERATION_BACKEND value: %q", backend)
	}

	device := strings.ToLower(getEnvOrDefault("GENERATION_DEVICE", "cuda"))

	timeoutSeconds := 60 // 默认60秒
	if override, err := parseOptionalIntEnv("GENERATION_TIMEOUT"); err != nil {
		return GenerationConfig{}, err
	} else if override != nil {
		timeoutSeconds = *override
	}

	concurrency := 1
	if override, err := parseOptionalIntEnv("GENERATION_CONCURRENCY"); err != nil {
		return GenerationConfig{}, err
	} else if override != nil {
		if *override < 1 {
			concurrency = 1
		} else {
			concurrency = *override
		}
	}

	return GenerationConfig{
		Backend:     backend,
		Device:      device,
		Timeout:     time.Duration(timeoutSeconds) * time.Second,
		Concurrency: concurrency,
	}, nil
}

// SessionConfig 描述匿名会话的生命周期。
type SessionConfig struct {
	TTL time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	minutes := 60
	if override, err := parseOptionalIntEnv("SESSION_TTL"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return SessionConfig{}, fmt.Errorf("invalid SESSION_TTL value %d: must be positive", *override)
		}
		minutes = *override
	}
	return SessionConfig{TTL: time.Duration(minutes) * time.Minute}, nil
}

// LogConfig 描述日志与审计文件配置。
type LogConfig struct {
	AuditPath string
	Prod      bool
}

func loadLogConfig() (LogConfig, error) {
	prod, err := parseBoolEnv("LOG_PROD", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		AuditPath: getEnvOrDefault("AUDIT_LOG_PATH", "./log/st_log.log"),
		Prod:      prod,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	chatModel, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return chatModel, nil
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
