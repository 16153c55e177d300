// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleINI = `
[pmseries]
cursor.count = 128
stream.maxlen = 4096
stream.expire = 3600
nats = {"address":"nats://localhost:4222","subscriptions":[{"subscribe-to":"pcp.>","cluster-tag":"cluster"}]}

[discover]
enabled = true
archive.dir = /var/log/pcp/pmlogger
exclude.metrics = kernel.*,mem.freeze
exclude.indoms = 60.1,60.2

[redis]
enabled = true
seeds = 127.0.0.1:7000,127.0.0.1:7001
reconnect.interval = 10

[pmproxy]
redis.enabled = true
archive.s3 = {"bucket":"pcp-archives","region":"eu-west-1","prefix":"cold/"}
`

func writeTempINI(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pmseries.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeTempINI(t, sampleINI)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.Series.CursorCount)
	assert.EqualValues(t, 4096, cfg.Series.StreamMaxLen)
	assert.Equal(t, "nats://localhost:4222", cfg.Series.Nats.Address)
	require.Len(t, cfg.Series.Nats.Subscriptions, 1)
	assert.Equal(t, "pcp.>", cfg.Series.Nats.Subscriptions[0].SubscribeTo)

	assert.True(t, cfg.Discover.Enabled)
	assert.Equal(t, []string{"kernel.*", "mem.freeze"}, cfg.Discover.ExcludeMetrics)
	assert.Equal(t, []string{"60.1", "60.2"}, cfg.Discover.ExcludeIndoms)

	assert.Equal(t, "127.0.0.1:7000,127.0.0.1:7001", cfg.Redis.Seeds)
	assert.Equal(t, 10, cfg.Redis.ReconnectInterval)

	assert.Equal(t, "pcp-archives", cfg.Proxy.S3.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Proxy.S3.Region)
}

func TestLoadAppliesDefaultsWhenSectionsAbsent(t *testing.T) {
	path := writeTempINI(t, "[discover]\nenabled = false\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Series.CursorCount)
	assert.False(t, cfg.Discover.Enabled)
	assert.True(t, cfg.Redis.Enabled, "redis section absent, default should stand")
}

func TestLoadRejectsMalformedNatsJSON(t *testing.T) {
	path := writeTempINI(t, "[pmseries]\nnats = {not json}\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestStoreClientConfigConvertsSeconds(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.ReconnectInterval = 15
	scc := cfg.StoreClientConfig([]string{"a:1"})
	assert.Equal(t, []string{"a:1"}, scc.Seeds)
	assert.Equal(t, int64(15), scc.ReconnectInterval.Nanoseconds()/1e9)
}
