package device

import (
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt"
	"github.com/deploymenttheory/go-qdl/internal/parsers/sparse"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Logger receives structured operation logs
	Logger logrus.FieldLogger

	// SlotConvention locates A/B state in partition attributes
	SlotConvention gpt.SlotConvention

	// MaxSparseChunk bounds the size of each program command issued for sparse images
	MaxSparseChunk int64

	// RewritePrimaryEntries makes RepairGpt also write the primary entry array
	RewritePrimaryEntries bool
}

func defaultConfig() Config {
	return Config{
		Logger:         logrus.StandardLogger(),
		SlotConvention: gpt.DefaultSlotConvention(),
		MaxSparseChunk: sparse.DefaultMaxChunkSize,
	}
}

// Option is a functional option for configuring a Device.
type Option func(*Config)

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithSlotConvention overrides where A/B flags live in partition attributes.
func WithSlotConvention(conv gpt.SlotConvention) Option {
	return func(c *Config) {
		c.SlotConvention = conv
	}
}

// WithMaxSparseChunk sets the largest region written by a single program command.
func WithMaxSparseChunk(n int64) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxSparseChunk = n
		}
	}
}

// WithRewritePrimaryEntries controls whether RepairGpt writes the primary
// entry array in addition to the primary header and the backup table.
func WithRewritePrimaryEntries(rewrite bool) Option {
	return func(c *Config) {
		c.RewritePrimaryEntries = rewrite
	}
}

// FlashOption configures a single FlashBlob call.
type FlashOption func(*flashConfig)

type flashConfig struct {
	onProgress        func(n int)
	eraseBeforeSparse bool
}

// WithProgress reports the byte size of every chunk once it is written.
func WithProgress(fn func(n int)) FlashOption {
	return func(c *flashConfig) {
		c.onProgress = fn
	}
}

// WithEraseBeforeSparse controls whether the partition is erased before a
// sparse image is written. Defaults to true. When disabled, zero fill regions
// are written explicitly.
func WithEraseBeforeSparse(erase bool) FlashOption {
	return func(c *flashConfig) {
		c.eraseBeforeSparse = erase
	}
}
