package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/voicelink/internal/logging"
	"github.com/zhouzirui/voicelink/internal/service/recorder"
	"github.com/zhouzirui/voicelink/internal/service/transport"
	"github.com/zhouzirui/voicelink/internal/service/voice"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Log    logging.Config
	Voice  VoiceConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	voiceCfg, err := loadVoiceConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Log: logCfg, Voice: voiceCfg}, nil
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
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

func loadLogConfig() (logging.Config, error) {
	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console"))
	if format != "console" && format != "json" {
		return logging.Config{}, fmt.Errorf("invalid LOG_FORMAT value %q", format)
	}

	maxSize, err := parseOptionalIntEnv("LOG_MAX_SIZE_MB")
	if err != nil {
		return logging.Config{}, err
	}
	maxBackups, err := parseOptionalIntEnv("LOG_MAX_BACKUPS")
	if err != nil {
		return logging.Config{}, err
	}

	cfg := logging.Config{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: format,
		File:   strings.TrimSpace(os.Getenv("LOG_FILE")),
	}
	if maxSize != nil {
		cfg.MaxSizeMB = *maxSize
	}
	if maxBackups != nil {
		cfg.MaxBackups = *maxBackups
	}
	return cfg, nil
}

// VoiceConfig 描述录音与 websocket 连接配置。
type VoiceConfig struct {
	Address   string
	Sentinel  string
	Recorder  recorder.Config
	Transport transport.Options
}

// Controller 转换为控制器配置。
func (c VoiceConfig) Controller() voice.Config {
	return voice.Config{
		DefaultAddress: c.Address,
		Sentinel:       c.Sentinel,
		Recorder:       c.Recorder,
		Transport:      c.Transport,
	}
}

func loadVoiceConfig() (VoiceConfig, error) {
	rec := recorder.DefaultConfig()

	mode, err := recorder.ParseMode(getEnvOrDefault("VOICE_MODE", string(rec.Mode)))
	if err != nil {
		return VoiceConfig{}, fmt.Errorf("invalid VOICE_MODE: %w", err)
	}
	rec.Mode = mode

	if rec.Timeslice, err = parseDurationEnv("VOICE_TIMESLICE", rec.Timeslice, false); err != nil {
		return VoiceConfig{}, err
	}

	rec.Codec = strings.ToLower(getEnvOrDefault("VOICE_CODEC", rec.Codec))
	switch rec.Codec {
	case recorder.CodecWebM, recorder.CodecOgg, recorder.CodecPCM:
	default:
		return VoiceConfig{}, fmt.Errorf("invalid VOICE_CODEC value %q", rec.Codec)
	}

	if rate, err := parseOptionalIntEnv("VOICE_SAMPLE_RATE"); err != nil {
		return VoiceConfig{}, err
	} else if rate != nil {
		rec.SampleRate = *rate
	}

	if channels, err := parseOptionalIntEnv("VOICE_CHANNELS"); err != nil {
		return VoiceConfig{}, err
	} else if channels != nil {
		if *channels < 1 || *channels > 2 {
			return VoiceConfig{}, fmt.Errorf("invalid VOICE_CHANNELS value %d", *channels)
		}
		rec.Channels = *channels
	}

	rec.DebugDumpDir = strings.TrimSpace(os.Getenv("VOICE_DEBUG_DUMP_DIR"))

	opts := transport.DefaultOptions()
	if opts.HandshakeTimeout, err = parseDurationEnv("WS_HANDSHAKE_TIMEOUT", opts.HandshakeTimeout, false); err != nil {
		return VoiceConfig{}, err
	}
	if opts.WriteTimeout, err = parseDurationEnv("WS_WRITE_TIMEOUT", opts.WriteTimeout, false); err != nil {
		return VoiceConfig{}, err
	}
	// 读超时与 ping 间隔为 0 表示关闭
	if opts.ReadTimeout, err = parseDurationEnv("WS_READ_TIMEOUT", opts.ReadTimeout, true); err != nil {
		return VoiceConfig{}, err
	}
	if opts.PingInterval, err = parseDurationEnv("WS_PING_INTERVAL", opts.PingInterval, true); err != nil {
		return VoiceConfig{}, err
	}

	sentinel := voice.DefaultSentinel
	if raw, ok := os.LookupEnv("VOICE_SENTINEL"); ok {
		// 显式设为空串表示不发送结束信号
		sentinel = strings.TrimSpace(raw)
	}

	return VoiceConfig{
		Address:   getEnvOrDefault("VOICE_WS_URL", voice.DefaultAddress),
		Sentinel:  sentinel,
		Recorder:  rec,
		Transport: opts,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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

// parseDurationEnv 接受 time.ParseDuration 格式，纯数字按毫秒处理。
// allowZero 为 false 时只接受正值。
func parseDurationEnv(key string, defaultValue time.Duration, allowZero bool) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if ms, convErr := strconv.Atoi(raw); convErr == nil {
		val, err = time.Duration(ms)*time.Millisecond, nil
	}
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}

	if val < 0 || (val == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
