// Package config holds the immutable, validated runtime configuration
// described in spec.md §4.M and §6's configuration table.
//
// Grounded on the teacher eventloop package's options.go: a functional
// options interface (Option/apply) resolved once at construction time into
// an immutable struct, returning a validation error instead of panicking.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config is the immutable, validated runtime configuration. Build one with
// New; the zero value is not valid.
type Config struct {
	// EventLoopSize is the number of OS event-loop threads. Defaults to
	// runtime.NumCPU().
	EventLoopSize int
	// StackSize is the default per-coroutine stack size in bytes.
	StackSize int
	// MinSize is the minimum number of idle pool workers.
	MinSize int
	// MaxSize is the maximum number of pool workers.
	MaxSize int
	// KeepAlive is the idle keep-alive duration for non-core workers.
	KeepAlive time.Duration
	// MinMemoryCount is the number of stacks the stack pool pre-warms.
	MinMemoryCount int
	// MemoryKeepAlive is the idle keep-alive duration for pooled stacks
	// beyond MinMemoryCount.
	MemoryKeepAlive time.Duration
	// HookEnabled toggles whether the syscall chain forwards to the
	// nio path (true) or calls straight through to Raw (false).
	HookEnabled bool
}

// Defaults matches the teacher's documented defaults: stack_size 128 KiB,
// event_loop_size = CPU count, slice = 10ms (see Slice).
const (
	DefaultStackSize       = 128 * 1024
	DefaultMinSize         = 1
	DefaultMaxSize         = 256
	DefaultKeepAlive       = 10 * time.Second
	DefaultMinMemoryCount  = 0
	DefaultMemoryKeepAlive = 10 * time.Second
	// Slice is the default scheduling time-quantum used by the monitor,
	// event loop wait slicing, and the nio syscall adapters.
	Slice = 10 * time.Millisecond
)

// Option configures a Config during New.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

func WithEventLoopSize(n int) Option {
	return optionFunc(func(c *Config) { c.EventLoopSize = n })
}

func WithStackSize(bytes int) Option {
	return optionFunc(func(c *Config) { c.StackSize = bytes })
}

func WithPoolSize(min, max int) Option {
	return optionFunc(func(c *Config) { c.MinSize, c.MaxSize = min, max })
}

func WithKeepAlive(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.KeepAlive = d })
}

func WithMemoryPool(minCount int, keepAlive time.Duration) Option {
	return optionFunc(func(c *Config) { c.MinMemoryCount, c.MemoryKeepAlive = minCount, keepAlive })
}

func WithHookEnabled(enabled bool) Option {
	return optionFunc(func(c *Config) { c.HookEnabled = enabled })
}

// InvalidConfig reports a Config that failed validation.
type InvalidConfig struct {
	Field  string
	Reason string
}

func (e *InvalidConfig) Error() string {
	return fmt.Sprintf("config: invalid %s: %s", e.Field, e.Reason)
}

// New resolves opts into a validated Config.
func New(opts ...Option) (*Config, error) {
	c := &Config{
		EventLoopSize:   runtime.NumCPU(),
		StackSize:       DefaultStackSize,
		MinSize:         DefaultMinSize,
		MaxSize:         DefaultMaxSize,
		KeepAlive:       DefaultKeepAlive,
		MinMemoryCount:  DefaultMinMemoryCount,
		MemoryKeepAlive: DefaultMemoryKeepAlive,
		HookEnabled:     true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.EventLoopSize < 1 {
		return &InvalidConfig{"EventLoopSize", "must be >= 1"}
	}
	if c.MaxSize <= 0 {
		return &InvalidConfig{"MaxSize", "must be > 0"}
	}
	if c.MinSize < 1 {
		return &InvalidConfig{"MinSize", "must be >= 1"}
	}
	if c.MaxSize < c.MinSize {
		return &InvalidConfig{"MaxSize", "must be >= MinSize"}
	}
	if c.StackSize < 0 {
		return &InvalidConfig{"StackSize", "must be >= 0"}
	}
	return nil
}
