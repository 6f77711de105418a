package cron

import (
	"time"

	process "github.com/goliatone/go-process"
)

// Parser selects the cron expression dialect.
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the timezone schedules are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

func WithLogger(logger process.Logger) Option {
	return func(s *Scheduler) {
		s.logger = process.NormalizeLogger(logger)
	}
}

// WithErrorHandler receives every failed run after its retries.
func WithErrorHandler(handler func(error)) Option {
	return func(s *Scheduler) {
		if handler != nil {
			s.errorHandler = handler
		}
	}
}

func WithParser(p Parser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

// Schedule describes one scheduled task.
type Schedule struct {
	Name       string        `yaml:"name" json:"name"`
	Expression string        `yaml:"expression" json:"expression"`
	MaxRetries int           `yaml:"maxRetries" json:"maxRetries"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// loggerAdapter adapts process.Logger to robfig/cron's logger.
type loggerAdapter struct {
	logger process.Logger
}

func (l loggerAdapter) Info(msg string, args ...any) {
	l.logger.Debug("cron: %s %v", msg, args)
}

func (l loggerAdapter) Error(err error, msg string, args ...any) {
	l.logger.Error("cron: %s %v: %v", msg, args, err)
}
