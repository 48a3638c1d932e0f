/*
Copyright 2024 Swiftcart Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"

	// ModeShared backs presence, timers, locks and the location cache with
	// Redis so multiple dispatch instances stay consistent. ModeLocal keeps
	// them in process memory and is only correct for a single instance.
	ModeShared = "shared"
	ModeLocal  = "local"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"DISPATCH_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"DISPATCH_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"DISPATCH_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"DISPATCH_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"DISPATCH_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"DISPATCH_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"DISPATCH_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"DISPATCH_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"DISPATCH_REDIS_SKIP_TLS_VERIFY"`
}

// AssignmentConfig tunes the scheduler's eligibility query and offer flow.
type AssignmentConfig struct {
	RadiusKM         float64 `json:"radius_km" envconfig:"DISPATCH_ASSIGNMENT_RADIUS_KM"`
	OfferTimeoutSec  int     `json:"offer_timeout_sec" envconfig:"DISPATCH_OFFER_TIMEOUT_SEC"`
	AgentLockTTLSec  int     `json:"agent_lock_ttl_sec" envconfig:"DISPATCH_AGENT_LOCK_TTL_SEC"`
	StoreLat         float64 `json:"store_lat" envconfig:"DISPATCH_STORE_LAT"`
	StoreLon         float64 `json:"store_lon" envconfig:"DISPATCH_STORE_LON"`
	MatchPincode     bool    `json:"match_pincode" envconfig:"DISPATCH_MATCH_PINCODE"`
	TimerPollSec     int     `json:"timer_poll_sec" envconfig:"DISPATCH_TIMER_POLL_SEC"`
	TimerLockTTLSec  int     `json:"timer_lock_ttl_sec" envconfig:"DISPATCH_TIMER_LOCK_TTL_SEC"`
	DisconnectGraceS int     `json:"disconnect_grace_sec" envconfig:"DISPATCH_DISCONNECT_GRACE_SEC"`
}

// LocationConfig tunes the position ingest, flush and relay throttle pipeline.
type LocationConfig struct {
	TTLSec             int `json:"ttl_sec" envconfig:"DISPATCH_LOCATION_TTL_SEC"`
	FlushIntervalSec   int `json:"flush_interval_sec" envconfig:"DISPATCH_FLUSH_INTERVAL_SEC"`
	FlushBatchSize     int `json:"flush_batch_size" envconfig:"DISPATCH_FLUSH_BATCH_SIZE"`
	RelayThrottleMilli int `json:"relay_throttle_ms" envconfig:"DISPATCH_RELAY_THROTTLE_MS"`
}

type QueueConfig struct {
	AssignQueue  string `json:"assign_queue" envconfig:"DISPATCH_ASSIGN_QUEUE"`
	WebhookQueue string `json:"webhook_queue" envconfig:"DISPATCH_WEBHOOK_QUEUE"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"DISPATCH_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"DISPATCH_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"DISPATCH_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"DISPATCH_PROJECT_NAME"`
	Mode            string           `json:"mode" envconfig:"DISPATCH_MODE"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"DISPATCH_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Assignment      AssignmentConfig `json:"assignment"`
	Location        LocationConfig   `json:"location"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

// OfferTimeout returns the offer timeout as a duration.
func (cnf *Configuration) OfferTimeout() time.Duration {
	return time.Duration(cnf.Assignment.OfferTimeoutSec) * time.Second
}

// AgentLockTTL returns the agent lock TTL as a duration. It is kept slightly
// longer than the offer timeout so the lock outlives the timer that clears it.
func (cnf *Configuration) AgentLockTTL() time.Duration {
	return time.Duration(cnf.Assignment.AgentLockTTLSec) * time.Second
}

// DisconnectGrace returns how long an agent may stay disconnected before its
// active order is forcibly reassigned.
func (cnf *Configuration) DisconnectGrace() time.Duration {
	return time.Duration(cnf.Assignment.DisconnectGraceS) * time.Second
}

// LocationTTL returns the lifetime of a buffered location sample.
func (cnf *Configuration) LocationTTL() time.Duration {
	return time.Duration(cnf.Location.TTLSec) * time.Second
}

// RelayThrottle returns the minimum interval between live-location relays
// for one (order, participant) pair.
func (cnf *Configuration) RelayThrottle() time.Duration {
	return time.Duration(cnf.Location.RelayThrottleMilli) * time.Millisecond
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("dispatch", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called dispatch.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Dispatch Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Mode == "" {
		cnf.Mode = ModeShared
	}
	if cnf.Mode != ModeShared && cnf.Mode != ModeLocal {
		return errors.New("mode must be either \"shared\" or \"local\"")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Assignment.RadiusKM <= 0 {
		cnf.Assignment.RadiusKM = 5
	}
	if cnf.Assignment.OfferTimeoutSec <= 0 {
		cnf.Assignment.OfferTimeoutSec = 30
	}
	if cnf.Assignment.AgentLockTTLSec <= 0 {
		cnf.Assignment.AgentLockTTLSec = cnf.Assignment.OfferTimeoutSec + 5
	}
	if cnf.Assignment.AgentLockTTLSec <= cnf.Assignment.OfferTimeoutSec {
		return errors.New("agent lock TTL must be longer than the offer timeout")
	}
	if cnf.Assignment.TimerPollSec <= 0 {
		cnf.Assignment.TimerPollSec = 2
	}
	if cnf.Assignment.TimerLockTTLSec <= 0 {
		cnf.Assignment.TimerLockTTLSec = 10
	}
	if cnf.Assignment.DisconnectGraceS <= 0 {
		cnf.Assignment.DisconnectGraceS = 15
	}

	if cnf.Location.TTLSec <= 0 {
		cnf.Location.TTLSec = 120
	}
	if cnf.Location.FlushIntervalSec <= 0 {
		cnf.Location.FlushIntervalSec = 5
	}
	if cnf.Location.FlushBatchSize <= 0 {
		cnf.Location.FlushBatchSize = 100
	}
	if cnf.Location.RelayThrottleMilli <= 0 {
		cnf.Location.RelayThrottleMilli = 1000
	}

	if cnf.Queue.AssignQueue == "" {
		cnf.Queue.AssignQueue = "dispatch:assign"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "dispatch:webhook"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Mode == "" {
		mockConfig.Mode = ModeLocal
	}
	if mockConfig.DataSource.Dns == "" {
		mockConfig.DataSource.Dns = "postgres://localhost:5432/dispatch"
	}
	if mockConfig.Redis.Dns == "" {
		mockConfig.Redis.Dns = "localhost:6379"
	}
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
