// Package config loads settings for the api, worker, supervisor and ctl
// binaries: defaults, then an optional TOML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Database contains connection and schema settings.
type Database struct {
	URL      string `toml:"url"`
	MaxConns int32  `toml:"max_conns"`
	Schema   string `toml:"schema"`
}

// RabbitMQ contains the event transport settings. An empty URL disables
// event publishing.
type RabbitMQ struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

// Supervisor contains housekeeping intervals and retention windows, in
// seconds. A zero FailedCheckInterval or MonitorStateInterval disables that
// task.
type Supervisor struct {
	ExpireCheckInterval   int `toml:"expire_check_interval"`
	ArchiveCheckInterval  int `toml:"archive_check_interval"`
	DeleteCheckInterval   int `toml:"delete_check_interval"`
	FailedCheckInterval   int `toml:"failed_check_interval"`
	MonitorStateInterval  int `toml:"monitor_state_interval"`
	ArchiveCompletedAfter int `toml:"archive_completed_after_seconds"`
	DeleteArchivedAfter   int `toml:"delete_archived_after_seconds"`
	// StateJobDelimiter marks synthetic state-transition job names. Set it
	// to "" to turn the marker rules off.
	StateJobDelimiter string `toml:"state_job_delimiter"`
}

// Queue contains defaults applied to inserted jobs.
type Queue struct {
	ExpireInSeconds int `toml:"expire_in_seconds"`
	RetryLimit      int `toml:"retry_limit"`
}

// Worker contains settings for the competing consumer processes.
type Worker struct {
	Queues         []string `toml:"queues"`
	BatchSize      int      `toml:"batch_size"`
	Concurrency    int      `toml:"concurrency"`
	PollIntervalMS int      `toml:"poll_interval_ms"`
	MetricsAddr    string   `toml:"metrics_addr"`
}

// API contains the HTTP listen addresses.
type API struct {
	Addr        string `toml:"addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Config struct {
	Database   Database   `toml:"database"`
	RabbitMQ   RabbitMQ   `toml:"rabbitmq"`
	Supervisor Supervisor `toml:"supervisor"`
	Queue      Queue      `toml:"queue"`
	Worker     Worker     `toml:"worker"`
	API        API        `toml:"api"`
	Logging    Logging    `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: Database{
			Schema: "jobqueue",
		},
		RabbitMQ: RabbitMQ{
			Exchange: "jobqueue.events",
		},
		Supervisor: Supervisor{
			ExpireCheckInterval:   60,
			ArchiveCheckInterval:  60 * 60,
			DeleteCheckInterval:   60 * 60,
			ArchiveCompletedAfter: 60 * 60,
			DeleteArchivedAfter:   7 * 24 * 60 * 60,
			StateJobDelimiter:     "__state__",
		},
		Queue: Queue{
			ExpireInSeconds: 15 * 60,
		},
		Worker: Worker{
			Queues:         []string{"send_email", "export_data"},
			BatchSize:      1,
			Concurrency:    10,
			PollIntervalMS: 1000,
			MetricsAddr:    ":9091",
		},
		API: API{
			Addr:        ":8080",
			MetricsAddr: ":8081",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty or the file does not exist) and environment overrides, then
// validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			decoder := toml.NewDecoder(file)
			decoder.DisallowUnknownFields()
			if err := decoder.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("DATABASE_URL", &c.Database.URL)
	str("BOSS_SCHEMA", &c.Database.Schema)
	str("RABBITMQ_URL", &c.RabbitMQ.URL)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("API_ADDR", &c.API.Addr)

	// Allow tuning the maximum connections via environment variable to avoid exhausting Postgres.
	maxConns := int(c.Database.MaxConns)
	if err := integer("DB_MAX_CONNS", &maxConns); err != nil {
		return err
	}
	c.Database.MaxConns = int32(maxConns)

	if err := integer("WORKER_CONCURRENCY", &c.Worker.Concurrency); err != nil {
		return err
	}
	if err := integer("WORKER_BATCH_SIZE", &c.Worker.BatchSize); err != nil {
		return err
	}
	if v, ok := lookup("WORKER_QUEUES"); ok && v != "" {
		c.Worker.Queues = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (s Supervisor) ExpireCheck() time.Duration  { return seconds(s.ExpireCheckInterval) }
func (s Supervisor) ArchiveCheck() time.Duration { return seconds(s.ArchiveCheckInterval) }
func (s Supervisor) DeleteCheck() time.Duration  { return seconds(s.DeleteCheckInterval) }
func (s Supervisor) FailedCheck() time.Duration  { return seconds(s.FailedCheckInterval) }
func (s Supervisor) MonitorState() time.Duration { return seconds(s.MonitorStateInterval) }
func (s Supervisor) ArchiveAfter() time.Duration { return seconds(s.ArchiveCompletedAfter) }
func (s Supervisor) DeleteAfter() time.Duration  { return seconds(s.DeleteArchivedAfter) }

func (q Queue) ExpireIn() time.Duration { return seconds(q.ExpireInSeconds) }

func (w Worker) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}
