package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"Pixmux/core/artnet"
	"Pixmux/logger"
	"Pixmux/model"

	"github.com/joho/godotenv"
)

// Config 运行配置，来自环境变量（可由 .env 提供）
type Config struct {
	// Art-Net 输出
	ArtNetTarget     string
	StartUniverse    int
	ChannelOrder     string
	ChannelOverrides string // 形如 "3:GRB,4:RGBW"
	BitDepth         int
	ArtSync          bool

	// 增量编码
	DeltaEnabled           bool
	DeltaThreshold         int
	DeltaThreshold16       int
	DeltaFullFrameInterval int

	// 引擎
	EngineFPS          int
	PixelMapPath       string
	PixelMapWatch      bool
	ShowPath           string
	MediaDir           string
	RecorderSize       int
	SlavePreservePrefs bool

	// MySQL 片段库
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis 状态上报
	RedisHost           string
	RedisPort           string
	RedisPassword       string
	RedisDB             int
	StateReportInterval int // 秒，0 表示不上报

	// MinIO 像素映射与录制存储
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioBucket    string
	MinioRegion    string

	// 只读监控服务
	HTTPAddr string

	// 日志
	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

// ValidationError 配置校验失败，调用方应保留上一份有效配置
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("配置项 %s 无效: %s", e.Field, e.Reason)
}

func invalid(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: err.Error()}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() 不会覆盖已存在的环境变量
	if err := godotenv.Load(); err != nil {
		logger.Debug("未找到 .env 文件，使用环境变量和默认值")
	}
	return FromEnv()
}

// FromEnv 只读取当前环境变量
func FromEnv() *Config {
	return &Config{
		ArtNetTarget:     getEnv("ARTNET_TARGET", "255.255.255.255"),
		StartUniverse:    getEnvInt("ARTNET_START_UNIVERSE", 0),
		ChannelOrder:     getEnv("ARTNET_CHANNEL_ORDER", "RGB"),
		ChannelOverrides: getEnv("ARTNET_CHANNEL_OVERRIDES", ""),
		BitDepth:         getEnvInt("ARTNET_BIT_DEPTH", 8),
		ArtSync:          getEnvBool("ARTNET_SYNC", false),

		DeltaEnabled:           getEnvBool("DELTA_ENABLED", true),
		DeltaThreshold:         getEnvInt("DELTA_THRESHOLD", 8),
		DeltaThreshold16:       getEnvInt("DELTA_THRESHOLD_16BIT", 2048),
		DeltaFullFrameInterval: getEnvInt("DELTA_FULL_FRAME_INTERVAL", 30),

		EngineFPS:          getEnvInt("ENGINE_FPS", 30),
		PixelMapPath:       getEnv("PIXELMAP_PATH", "pixelmap.json"),
		PixelMapWatch:      getEnvBool("PIXELMAP_WATCH", true),
		ShowPath:           getEnv("SHOW_PATH", "show.yaml"),
		MediaDir:           getEnv("MEDIA_DIR", "media"),
		RecorderSize:       getEnvInt("RECORDER_SIZE", 0),
		SlavePreservePrefs: getEnvBool("SLAVE_PRESERVE_PREFS", true),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "pixmux"),

		RedisHost:           getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:           getEnv("REDIS_PORT", "6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		StateReportInterval: getEnvInt("STATE_REPORT_INTERVAL", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioBucket:    getEnv("MINIO_BUCKET", "pixmux"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		HTTPAddr: getEnv("HTTP_ADDR", ""),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 7),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}

// ParseOverrides 解析按 universe 覆盖的通道顺序，如 "3:GRB,4:RGBW"
func ParseOverrides(s string) (map[int]model.ChannelOrder, error) {
	out := make(map[int]model.ChannelOrder)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		u, order, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("override %q must look like universe:ORDER", item)
		}
		universe, err := strconv.Atoi(strings.TrimSpace(u))
		if err != nil {
			return nil, fmt.Errorf("override %q: invalid universe", item)
		}
		parsed, err := model.ParseChannelOrder(order)
		if err != nil {
			return nil, fmt.Errorf("override %q: %w", item, err)
		}
		out[universe] = parsed
	}
	return out, nil
}

// OutputLayout 由配置构造输出布局并校验
func (c *Config) OutputLayout() (model.OutputLayout, error) {
	order, err := model.ParseChannelOrder(c.ChannelOrder)
	if err != nil {
		return model.OutputLayout{}, invalid("ARTNET_CHANNEL_ORDER", err)
	}
	overrides, err := ParseOverrides(c.ChannelOverrides)
	if err != nil {
		return model.OutputLayout{}, invalid("ARTNET_CHANNEL_OVERRIDES", err)
	}
	layout := model.OutputLayout{
		StartUniverse: c.StartUniverse,
		Default:       model.UniverseConfig{ChannelOrder: order, BitDepth: c.BitDepth},
		Overrides:     overrides,
	}
	if err := layout.Validate(); err != nil {
		return model.OutputLayout{}, invalid("ARTNET", err)
	}
	return layout, nil
}

// DeltaConfig 增量编码配置
func (c *Config) DeltaConfig() artnet.DeltaConfig {
	return artnet.DeltaConfig{
		Enabled:           c.DeltaEnabled,
		Threshold:         c.DeltaThreshold,
		Threshold16:       c.DeltaThreshold16,
		FullFrameInterval: c.DeltaFullFrameInterval,
	}
}

// LoggerConfig 日志配置
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      logger.LogLevel(strings.ToLower(c.LogLevel)),
		OutputPath: c.LogFile,
		MaxSize:    c.LogMaxSize,
		MaxBackups: c.LogMaxBackups,
		MaxAge:     c.LogMaxAge,
		Compress:   c.LogCompress,
	}
}

// Validate 校验启动所需的配置项，返回 *ValidationError
func (c *Config) Validate() error {
	if c.ArtNetTarget == "" {
		return &ValidationError{Field: "ARTNET_TARGET", Reason: "不能为空"}
	}
	if _, err := c.OutputLayout(); err != nil {
		return err
	}
	if err := c.DeltaConfig().Validate(); err != nil {
		return invalid("DELTA", err)
	}
	if c.EngineFPS <= 0 || c.EngineFPS > 1000 {
		return &ValidationError{Field: "ENGINE_FPS", Reason: fmt.Sprintf("%d 不在 1..1000 范围内", c.EngineFPS)}
	}
	if c.RecorderSize < 0 {
		return &ValidationError{Field: "RECORDER_SIZE", Reason: "不能为负数"}
	}
	return nil
}

// RedisAddr Redis 地址
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
