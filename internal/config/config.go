package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	ClinicCacheTTL time.Duration

	UseMemoryQueue bool
	WorkerCount    int
	JobsQueueURL   string
	JobsTable      string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioFromNumber        string
	ValidateTwilioSignature bool

	// Voice response
	VoiceMode             string
	VoicemailPauseSeconds int
	VoicemailMaxSeconds   int
	VoicemailPrompt       string

	// Missed-call lifecycle
	MissedCallMinTalkTime  time.Duration
	DefaultFollowUpDelay   time.Duration
	FollowUpLookupBuffer   time.Duration
	FollowUpLookupAttempts int
	FollowUpLookupDelay    time.Duration
	ReplyCap               int
	ReplyHistory           int
	ReplyTimeout           time.Duration

	// LLM
	LLMProvider    string
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	// Voicemail storage
	StorageProvider string
	S3Bucket        string
	S3PublicBaseURL string
	GCSBucket       string

	// Email
	EmailProvider        string
	SendGridAPIKey       string
	SendGridFromEmail    string
	SendGridFromName     string
	SESFromEmail         string
	VoicemailNotifyEmail string

	AdminJWTSecret string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables. Outside production a
// local .env file fills in anything the environment does not set.
func Load() *Config {
	if !strings.EqualFold(os.Getenv("ENV"), "production") {
		_ = godotenv.Load()
	}
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		ClinicCacheTTL: getEnvAsDuration("CLINIC_CACHE_TTL", 5*time.Minute),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		JobsQueueURL:   getEnv("JOBS_QUEUE_URL", ""),
		JobsTable:      getEnv("JOBS_TABLE", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		TwilioAccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:        getEnv("TWILIO_FROM_NUMBER", ""),
		ValidateTwilioSignature: getEnvAsBool("VALIDATE_TWILIO_SIGNATURE", true),

		VoiceMode:             strings.ToLower(strings.TrimSpace(getEnv("VOICE_MODE", "voicemail"))),
		VoicemailPauseSeconds: getEnvAsInt("VOICEMAIL_PAUSE_SECONDS", 20),
		VoicemailMaxSeconds:   getEnvAsInt("VOICEMAIL_MAX_SECONDS", 30),
		VoicemailPrompt:       getEnv("VOICEMAIL_PROMPT", "Thank you for calling. Please leave a message after the beep."),

		MissedCallMinTalkTime:  getEnvAsSeconds("MISSED_CALL_MIN_TALK_SECONDS", 10*time.Second),
		DefaultFollowUpDelay:   getEnvAsDuration("DEFAULT_FOLLOW_UP_DELAY", 30*time.Second),
		FollowUpLookupBuffer:   getEnvAsDuration("FOLLOW_UP_LOOKUP_BUFFER", 3*time.Second),
		FollowUpLookupAttempts: getEnvAsInt("FOLLOW_UP_LOOKUP_ATTEMPTS", 5),
		FollowUpLookupDelay:    getEnvAsDuration("FOLLOW_UP_LOOKUP_DELAY", 2*time.Second),
		ReplyCap:               getEnvAsInt("REPLY_CAP", 5),
		ReplyHistory:           getEnvAsInt("REPLY_HISTORY", 10),
		ReplyTimeout:           getEnvAsDuration("REPLY_TIMEOUT", 12*time.Second),

		LLMProvider:    strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "auto"))),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		StorageProvider: strings.ToLower(strings.TrimSpace(getEnv("STORAGE_PROVIDER", ""))),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3PublicBaseURL: strings.TrimRight(getEnv("S3_PUBLIC_BASE_URL", ""), "/"),
		GCSBucket:       getEnv("GCS_BUCKET", ""),

		EmailProvider:        strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:       getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:    getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:     getEnv("SENDGRID_FROM_NAME", "Missed Call Assistant"),
		SESFromEmail:         getEnv("SES_FROM_EMAIL", ""),
		VoicemailNotifyEmail: getEnv("VOICEMAIL_NOTIFY_EMAIL", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 40),
	}
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c != nil && strings.EqualFold(c.Env, "production")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSeconds accepts either a bare number of seconds or a duration string.
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.ParseFloat(valueStr, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return getEnvAsDuration(key, defaultValue)
}
