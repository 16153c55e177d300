// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the INI-style configuration surface of spec §6:
// sections [pmseries], [pmsearch], [discover], [redis] and [pmproxy]. A few
// fields carry JSON sub-documents (the NATS push-ingestion subscriptions,
// S3 cold-storage settings); those are validated against a compiled JSON
// schema the same way the teacher's internal/config.Validate does, before
// being unmarshalled into their own typed struct.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/ini.v1"

	"github.com/performancecopilot/pmseries-core/internal/storeclient"
	"github.com/performancecopilot/pmseries-core/pkg/nats"
)

// File is the fully parsed configuration.
type File struct {
	Series   SeriesConfig
	Search   SearchConfig
	Discover DiscoverConfig
	Redis    RedisConfig
	Proxy    ProxyConfig
}

// SeriesConfig is the [pmseries] section.
type SeriesConfig struct {
	CursorCount       int    `ini:"cursor.count"`
	StreamMaxLen      int64  `ini:"stream.maxlen"`
	StreamExpire      int64  `ini:"stream.expire"`
	NatsJSON          string `ini:"nats"`
	Nats              nats.Config
}

// SearchConfig is the [pmsearch] section.
type SearchConfig struct {
	Enabled bool `ini:"enabled"`
}

// DiscoverConfig is the [discover] section.
type DiscoverConfig struct {
	Enabled        bool     `ini:"enabled"`
	ArchiveDir     string   `ini:"archive.dir"`
	ExcludeMetrics []string `ini:"-"`
	ExcludeIndoms  []string `ini:"-"`
}

// RedisConfig is the [redis] section.
type RedisConfig struct {
	Enabled           bool    `ini:"enabled"`
	Seeds             string  `ini:"seeds"`
	Username          string  `ini:"username"`
	Password          string  `ini:"password"`
	ReconnectInterval int     `ini:"reconnect.interval"`
	RequestsPerSecond float64 `ini:"requests.per.second"`
}

// ProxyConfig is the [pmproxy] section.
type ProxyConfig struct {
	RedisEnabled bool   `ini:"redis.enabled"`
	S3JSON       string `ini:"archive.s3"`
	S3           S3Config
}

// S3Config is the `pmproxy.archive.s3` JSON sub-document feeding spec
// §4.12's cold-storage upload.
type S3Config struct {
	Bucket string `json:"bucket"`
	Region string `json:"region"`
	Prefix string `json:"prefix"`
}

// Defaults matches spec §6's recognized option defaults.
func Defaults() File {
	return File{
		Series: SeriesConfig{
			CursorCount:  256,
			StreamMaxLen: 8640,
			StreamExpire: 86400,
		},
		Discover: DiscoverConfig{
			Enabled:    true,
			ArchiveDir: "/var/log/pcp/pmlogger",
		},
		Redis: RedisConfig{
			Enabled:           true,
			ReconnectInterval: 5,
		},
	}
}

// natsSubscriptionsSchema validates the `pmseries.nats` JSON sub-document
// before it is unmarshalled into nats.Config.
var natsSubscriptionsSchema = nats.ConfigSchema

// s3ConfigSchema validates `pmproxy.archive.s3`.
const s3ConfigSchema = `{
    "type": "object",
    "properties": {
        "bucket": {"type": "string"},
        "region": {"type": "string"},
        "prefix": {"type": "string"}
    },
    "required": ["bucket", "region"]
}`

// Load parses path with gopkg.in/ini.v1 into a File, starting from
// Defaults, validating and decoding any JSON sub-documents it contains.
func Load(path string) (File, error) {
	cfg := Defaults()

	raw, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if sec := raw.Section("pmseries"); sec != nil {
		if err := sec.MapTo(&cfg.Series); err != nil {
			return cfg, fmt.Errorf("config: [pmseries]: %w", err)
		}
		if cfg.Series.NatsJSON != "" {
			if err := validateAndDecode(natsSubscriptionsSchema, cfg.Series.NatsJSON, &cfg.Series.Nats); err != nil {
				return cfg, fmt.Errorf("config: [pmseries].nats: %w", err)
			}
		}
	}
	if sec := raw.Section("pmsearch"); sec != nil {
		if err := sec.MapTo(&cfg.Search); err != nil {
			return cfg, fmt.Errorf("config: [pmsearch]: %w", err)
		}
	}
	if sec := raw.Section("discover"); sec != nil {
		if err := sec.MapTo(&cfg.Discover); err != nil {
			return cfg, fmt.Errorf("config: [discover]: %w", err)
		}
		cfg.Discover.ExcludeMetrics = sec.Key("exclude.metrics").Strings(",")
		cfg.Discover.ExcludeIndoms = sec.Key("exclude.indoms").Strings(",")
	}
	if sec := raw.Section("redis"); sec != nil {
		if err := sec.MapTo(&cfg.Redis); err != nil {
			return cfg, fmt.Errorf("config: [redis]: %w", err)
		}
	}
	if sec := raw.Section("pmproxy"); sec != nil {
		if err := sec.MapTo(&cfg.Proxy); err != nil {
			return cfg, fmt.Errorf("config: [pmproxy]: %w", err)
		}
		if cfg.Proxy.S3JSON != "" {
			if err := validateAndDecode(s3ConfigSchema, cfg.Proxy.S3JSON, &cfg.Proxy.S3); err != nil {
				return cfg, fmt.Errorf("config: [pmproxy].archive.s3: %w", err)
			}
		}
	}

	return cfg, nil
}

// StoreClientConfig derives an internal/storeclient.Config from the parsed
// [redis] section.
func (f File) StoreClientConfig(seeds []string) storeclient.Config {
	return storeclient.Config{
		Seeds:             seeds,
		Username:          f.Redis.Username,
		Password:          f.Redis.Password,
		ReconnectInterval: time.Duration(f.Redis.ReconnectInterval) * time.Second,
		RequestsPerSecond: f.Redis.RequestsPerSecond,
	}
}

// validateAndDecode compiles schema, validates raw against it, then
// decodes raw into out. This mirrors the teacher's config.Validate, but
// returns an error instead of calling log.Fatal so library callers choose
// how to react to a malformed sub-document.
func validateAndDecode(schema string, raw string, out interface{}) error {
	if err := Validate(schema, json.RawMessage(raw)); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decoding JSON: %w", err)
	}
	return nil
}
