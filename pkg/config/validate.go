package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateSupervisor(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDatabase() error {
	if c.Database.Schema == "" {
		return errors.New("database.schema must be set")
	}
	if c.Database.MaxConns < 0 {
		return errors.New("database.max_conns must be >= 0")
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	s := c.Supervisor
	required := []struct {
		key string
		val int
	}{
		{"supervisor.expire_check_interval", s.ExpireCheckInterval},
		{"supervisor.archive_check_interval", s.ArchiveCheckInterval},
		{"supervisor.delete_check_interval", s.DeleteCheckInterval},
		{"supervisor.archive_completed_after_seconds", s.ArchiveCompletedAfter},
		{"supervisor.delete_archived_after_seconds", s.DeleteArchivedAfter},
	}
	for _, r := range required {
		if r.val <= 0 {
			return fmt.Errorf("%s must be positive", r.key)
		}
	}
	if s.FailedCheckInterval < 0 {
		return errors.New("supervisor.failed_check_interval must be >= 0")
	}
	if s.MonitorStateInterval < 0 {
		return errors.New("supervisor.monitor_state_interval must be >= 0")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.ExpireInSeconds <= 0 {
		return errors.New("queue.expire_in_seconds must be positive")
	}
	if c.Queue.RetryLimit < 0 {
		return errors.New("queue.retry_limit must be >= 0")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.BatchSize < 1 {
		return errors.New("worker.batch_size must be at least 1")
	}
	if c.Worker.Concurrency < 1 {
		return errors.New("worker.concurrency must be at least 1")
	}
	if c.Worker.PollIntervalMS < 1 {
		return errors.New("worker.poll_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
