// Package config loads environment configuration via viper (with pflag
// command-line overrides) and validates the result, matching the
// teacher's config stack.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the complete set of environment options (spec.md §6.3 plus
// the domain-stack additions this module wires in).
type Config struct {
	Env      string `mapstructure:"env" validate:"required,oneof=dev staging prod"`
	HTTPAddr string `mapstructure:"http_addr" validate:"required"`

	BrokerBackend string `mapstructure:"broker_backend" validate:"required,oneof=memory amqp"`
	BrokerAMQPURL string `mapstructure:"broker_amqp_url" validate:"required_if=BrokerBackend amqp"`

	PreferenceBackend string `mapstructure:"preference_backend" validate:"required,oneof=memory postgres"`
	PostgresDSN       string `mapstructure:"postgres_dsn" validate:"required_if=PreferenceBackend postgres"`

	SendgridAPIKey string `mapstructure:"sendgrid_api_key"`

	APNSKeyFile string `mapstructure:"apns_key_file"`
	APNSKeyID   string `mapstructure:"apns_key_id"`
	APNSTeamID  string `mapstructure:"apns_team_id"`
	APNSTopic   string `mapstructure:"apns_topic"`

	FCMProjectID        string `mapstructure:"fcm_project_id"`
	FCMCredentialsJSON  string `mapstructure:"fcm_credentials_json"`

	TwilioAccountSID string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken  string `mapstructure:"twilio_auth_token"`
	TwilioFromNumber string `mapstructure:"twilio_from_number"`
	// TwilioMessagingServiceSIDTransactional/Promotional select the Twilio
	// messaging service (and thus its carrier-filed transactional or
	// promotional classification) the text adapter sends through, chosen
	// per-send by the notification's priority (spec §4.C6).
	TwilioMessagingServiceSIDTransactional string `mapstructure:"twilio_messaging_service_sid_transactional"`
	TwilioMessagingServiceSIDPromotional   string `mapstructure:"twilio_messaging_service_sid_promotional"`

	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=json text"`

	JWTSigningKey string `mapstructure:"jwt_signing_key" validate:"required"`

	SessionMailboxSize     int           `mapstructure:"session_mailbox_size" validate:"required,gt=0"`
	SessionIdleTimeout     time.Duration `mapstructure:"session_idle_timeout" validate:"required"`
	SessionSendTimeout     time.Duration `mapstructure:"session_send_timeout" validate:"required"`
	SessionHeartbeatPeriod time.Duration `mapstructure:"session_heartbeat_period" validate:"required"`
	LiveSessionPath        string        `mapstructure:"live_session_path" validate:"required"`

	NotificationRetention time.Duration `mapstructure:"notification_retention" validate:"required"`
	RetentionTickInterval time.Duration `mapstructure:"retention_tick_interval" validate:"required"`

	BroadcastAMQPURL      string `mapstructure:"broadcast_amqp_url"`
	BroadcastExchangeName string `mapstructure:"broadcast_exchange_name" validate:"required"`
	NodeID                string `mapstructure:"node_id" validate:"required"`
}

// Load returns the configuration's documented defaults, overlaid with
// environment variables and any recognized command-line flags in flags.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	// Options without a default are bound explicitly: Unmarshal only sees
	// keys viper already knows about, so AutomaticEnv alone misses them.
	for _, key := range []string{
		"broker_amqp_url", "postgres_dsn", "sendgrid_api_key",
		"apns_key_file", "apns_key_id", "apns_team_id", "apns_topic",
		"fcm_project_id", "fcm_credentials_json",
		"twilio_account_sid", "twilio_auth_token", "twilio_from_number",
		"twilio_messaging_service_sid_transactional", "twilio_messaging_service_sid_promotional",
		"jwt_signing_key", "broadcast_amqp_url",
	} {
		_ = v.BindEnv(key)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("broker_backend", "memory")
	v.SetDefault("preference_backend", "memory")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("session_mailbox_size", 256)
	v.SetDefault("session_idle_timeout", 60*time.Second)
	v.SetDefault("session_send_timeout", 250*time.Millisecond)
	v.SetDefault("session_heartbeat_period", 30*time.Second)
	v.SetDefault("live_session_path", "/ws")
	v.SetDefault("notification_retention", 30*24*time.Hour)
	v.SetDefault("retention_tick_interval", 24*time.Hour)
	v.SetDefault("broadcast_exchange_name", "journal-sync.broadcast")

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "journal-sync"
	}
	v.SetDefault("node_id", hostname+"-"+uuid.NewString()[:8])
}
