package bootstrap

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr string
	LogLevel   string
	Version    string

	AppID     string
	SecretID  string
	SecretKey string
	Token     string
	Region    string

	HTTPEndpoint string
	WSEndpoint   string

	EngineMode string

	VoiceType  int
	Codec      string
	SampleRate int

	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	ResourceTimeout time.Duration

	ProbeInterval         time.Duration
	ProbeFailureThreshold int
	ProbeText             string

	OfflineVoice       string
	OfflineLicense     string
	OfflineLicensePK   string
	OfflineLicenseSign string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Version:    getEnv("VERSION", "dev"),

		AppID:     getEnv("TTS_APP_ID", ""),
		SecretID:  getEnv("TTS_SECRET_ID", ""),
		SecretKey: getEnv("TTS_SECRET_KEY", ""),
		Token:     getEnv("TTS_TOKEN", ""),
		Region:    getEnv("TTS_REGION", "ap-shanghai"),

		HTTPEndpoint: getEnv("TTS_HTTP_ENDPOINT", "https://tts.tencentcloudapi.com"),
		WSEndpoint:   getEnv("TTS_WS_ENDPOINT", "wss://tts.cloud.tencent.com/stream_ws"),

		EngineMode: getEnv("ENGINE_MODE", "online"),

		VoiceType:  getEnvInt("TTS_VOICE_TYPE", 1001),
		Codec:      getEnv("TTS_CODEC", "mp3"),
		SampleRate: getEnvInt("TTS_SAMPLE_RATE", 16000),

		ConnectTimeout:  time.Duration(getEnvInt("TTS_CONNECT_TIMEOUT_MS", 10000)) * time.Millisecond,
		RequestTimeout:  time.Duration(getEnvInt("TTS_REQUEST_TIMEOUT_MS", 15000)) * time.Millisecond,
		ResourceTimeout: time.Duration(getEnvInt("TTS_RESOURCE_TIMEOUT_MS", 30000)) * time.Millisecond,

		ProbeInterval:         time.Duration(getEnvInt("PROBE_INTERVAL_SECONDS", 300)) * time.Second,
		ProbeFailureThreshold: getEnvInt("PROBE_FAILURE_THRESHOLD", 2),
		ProbeText:             getEnv("PROBE_TEXT", "1"),

		OfflineVoice:       getEnv("OFFLINE_VOICE", "pb"),
		OfflineLicense:     getEnv("OFFLINE_LICENSE", ""),
		OfflineLicensePK:   getEnv("OFFLINE_LICENSE_PK", ""),
		OfflineLicenseSign: getEnv("OFFLINE_LICENSE_SIGN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
