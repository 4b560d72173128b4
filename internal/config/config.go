// Package config loads the process configuration from PLANWATCH_*
// environment variables, falling back to defaults for any unset values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alexanderramin/planwatch/internal/domain"
)

// Config is the startup configuration snapshot. It is built once in main
// and passed explicitly; nothing reads the environment after load.
type Config struct {
	// Store.
	DBPath string

	// HTTP surface.
	ListenAddr      string
	FrontendBaseURL string
	CORSOrigins     []string
	MaxUploadMB     int

	// Magic links.
	JWTSecret      string
	JWTExpiryHours int

	// Import behavior.
	NoiseThresholdDays int

	// Scheduler.
	EnableScheduler          bool
	RunScheduler             bool
	SchedulerTimezone        string
	AlertBatchSize           int
	PMApprovalTimeoutHours   int
	JobFailureAlertThreshold int
	EscalationBusinessHours  bool

	// Escalation.
	OpsEscalationEmail string
	DefaultCountry     string

	// Notification transport credentials. Only the ones matching the
	// selected transport need to be set; absent all of them, sends go to
	// the structured log.
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	SendgridAPIKey string
	ChatWebhookURL string
}

// Default returns the configuration defaults before environment
// overrides.
func Default() Config {
	return Config{
		DBPath:                   "planwatch.db",
		ListenAddr:               ":8080",
		JWTExpiryHours:           72,
		MaxUploadMB:              10,
		NoiseThresholdDays:       2,
		EnableScheduler:          true,
		RunScheduler:             false,
		SchedulerTimezone:        "UTC",
		AlertBatchSize:           50,
		PMApprovalTimeoutHours:   24,
		JobFailureAlertThreshold: 2,
		SMTPPort:                 587,
	}
}

// Load builds the configuration from the environment on top of the
// defaults. Unparseable numeric or boolean values are ignored.
func Load() Config {
	cfg := Default()

	applyString(&cfg.DBPath, "PLANWATCH_DB")
	applyString(&cfg.ListenAddr, "PLANWATCH_LISTEN_ADDR")
	applyString(&cfg.FrontendBaseURL, "PLANWATCH_FRONTEND_BASE_URL")
	if v := os.Getenv("PLANWATCH_CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}
	applyInt(&cfg.MaxUploadMB, "PLANWATCH_MAX_UPLOAD_MB")

	applyString(&cfg.JWTSecret, "PLANWATCH_JWT_SECRET")
	applyInt(&cfg.JWTExpiryHours, "PLANWATCH_JWT_EXPIRY_HOURS")

	applyInt(&cfg.NoiseThresholdDays, "PLANWATCH_NOISE_THRESHOLD_DAYS")

	applyBool(&cfg.EnableScheduler, "PLANWATCH_ENABLE_SCHEDULER")
	applyBool(&cfg.RunScheduler, "PLANWATCH_RUN_SCHEDULER")
	applyString(&cfg.SchedulerTimezone, "PLANWATCH_SCHEDULER_TIMEZONE")
	applyInt(&cfg.AlertBatchSize, "PLANWATCH_ALERT_BATCH_SIZE")
	applyInt(&cfg.PMApprovalTimeoutHours, "PLANWATCH_PM_APPROVAL_TIMEOUT_HOURS")
	applyInt(&cfg.JobFailureAlertThreshold, "PLANWATCH_JOB_FAILURE_ALERT_THRESHOLD")
	applyBool(&cfg.EscalationBusinessHours, "PLANWATCH_ESCALATION_BUSINESS_HOURS")

	applyString(&cfg.OpsEscalationEmail, "PLANWATCH_OPS_ESCALATION_EMAIL")
	applyString(&cfg.DefaultCountry, "PLANWATCH_DEFAULT_COUNTRY")

	applyString(&cfg.SMTPHost, "PLANWATCH_SMTP_HOST")
	applyInt(&cfg.SMTPPort, "PLANWATCH_SMTP_PORT")
	applyString(&cfg.SMTPUser, "PLANWATCH_SMTP_USER")
	applyString(&cfg.SMTPPassword, "PLANWATCH_SMTP_PASSWORD")
	applyString(&cfg.SendgridAPIKey, "PLANWATCH_SENDGRID_API_KEY")
	applyString(&cfg.ChatWebhookURL, "PLANWATCH_CHAT_WEBHOOK_URL")

	return cfg
}

// Validate checks the invariants the service refuses to start without.
func (c Config) Validate() error {
	var problems []string
	if c.JWTSecret == "" {
		problems = append(problems, "jwt_secret is required")
	}
	if c.FrontendBaseURL == "" {
		problems = append(problems, "frontend_base_url is required")
	}
	if c.OpsEscalationEmail == "" {
		problems = append(problems, "ops_escalation_email is required")
	}
	if c.JWTExpiryHours <= 0 {
		problems = append(problems, "jwt_expiry_hours must be positive")
	}
	if c.AlertBatchSize <= 0 {
		problems = append(problems, "alert_batch_size must be positive")
	}
	if c.MaxUploadMB <= 0 {
		problems = append(problems, "max_upload_mb must be positive")
	}
	if _, err := time.LoadLocation(c.SchedulerTimezone); err != nil {
		problems = append(problems, fmt.Sprintf("scheduler_timezone %q is not a valid tz name", c.SchedulerTimezone))
	}
	if len(problems) > 0 {
		return domain.NewFault(domain.FaultConfiguration,
			"invalid configuration", "problems", strings.Join(problems, "; "))
	}
	return nil
}

// Timezone resolves the scheduler timezone. Call Validate first.
func (c Config) Timezone() *time.Location {
	loc, err := time.LoadLocation(c.SchedulerTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func applyString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func applyBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
