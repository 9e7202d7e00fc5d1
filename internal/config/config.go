// Package config loads tool settings from qdl-config.yaml, QDL_* environment
// variables and built-in defaults.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt"
	"github.com/deploymenttheory/go-qdl/internal/parsers/sparse"
)

// Config holds the tool configuration.
type Config struct {
	SectorSize                  int               `mapstructure:"sector_size"`
	MaxSparseChunk              int64             `mapstructure:"max_sparse_chunk"`
	EraseBeforeSparse           bool              `mapstructure:"erase_before_sparse"`
	PreservePartitions          []string          `mapstructure:"preserve_partitions"`
	RepairRewritePrimaryEntries bool              `mapstructure:"repair_rewrite_primary_entries"`
	ConnectRetries              uint64            `mapstructure:"connect_retries"`
	LogLevel                    string            `mapstructure:"log_level"`
	LUNs                        map[string]string `mapstructure:"luns"`
	Slot                        SlotConfig        `mapstructure:"slot"`
}

// SlotConfig mirrors gpt.SlotConvention.
type SlotConfig struct {
	FlagBitOffset     uint   `mapstructure:"flag_bit_offset"`
	ActiveFlag        uint8  `mapstructure:"active_flag"`
	BootPartition     string `mapstructure:"boot_partition"`
	BootActiveFlags   uint8  `mapstructure:"boot_active_flags"`
	BootInactiveFlags uint8  `mapstructure:"boot_inactive_flags"`
}

// Convention returns the slot convention the settings describe.
func (s SlotConfig) Convention() gpt.SlotConvention {
	return gpt.SlotConvention{
		FlagBitOffset:     s.FlagBitOffset,
		ActiveFlag:        s.ActiveFlag,
		BootPartition:     s.BootPartition,
		BootActiveFlags:   s.BootActiveFlags,
		BootInactiveFlags: s.BootInactiveFlags,
	}
}

// LUNPaths returns the configured LUN image paths keyed by LUN number.
func (c *Config) LUNPaths() (map[int]string, error) {
	out := make(map[int]string, len(c.LUNs))
	for key, path := range c.LUNs {
		lun, err := strconv.Atoi(strings.TrimPrefix(key, "lun"))
		if err != nil || lun < 0 {
			return nil, fmt.Errorf("invalid LUN key %q", key)
		}
		out[lun] = path
	}
	return out, nil
}

// Validate checks the settings for values no device accepts.
func (c *Config) Validate() error {
	if c.SectorSize < 512 || c.SectorSize&(c.SectorSize-1) != 0 {
		return fmt.Errorf("sector_size must be a power of two of at least 512, got %d", c.SectorSize)
	}
	if c.MaxSparseChunk <= 0 {
		return fmt.Errorf("max_sparse_chunk must be positive, got %d", c.MaxSparseChunk)
	}
	if c.Slot.FlagBitOffset > 56 {
		return fmt.Errorf("slot.flag_bit_offset must leave room for a flag byte, got %d", c.Slot.FlagBitOffset)
	}
	return nil
}

// New returns a viper instance with defaults, environment binding and the
// config search path set up. An explicit file overrides the search path.
func New(file string) *viper.Viper {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("qdl-config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.qdl")
		v.AddConfigPath("/etc/qdl")
	}

	conv := gpt.DefaultSlotConvention()
	v.SetDefault("sector_size", 4096)
	v.SetDefault("max_sparse_chunk", sparse.DefaultMaxChunkSize)
	v.SetDefault("erase_before_sparse", true)
	v.SetDefault("preserve_partitions", []string{"mbr", "gpt", "persist"})
	v.SetDefault("repair_rewrite_primary_entries", false)
	v.SetDefault("connect_retries", 3)
	v.SetDefault("log_level", "info")
	v.SetDefault("slot.flag_bit_offset", conv.FlagBitOffset)
	v.SetDefault("slot.active_flag", conv.ActiveFlag)
	v.SetDefault("slot.boot_partition", conv.BootPartition)
	v.SetDefault("slot.boot_active_flags", conv.BootActiveFlags)
	v.SetDefault("slot.boot_inactive_flags", conv.BootInactiveFlags)

	v.SetEnvPrefix("QDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
