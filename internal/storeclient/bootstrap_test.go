// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package storeclient

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/performancecopilot/pmseries-core/pkg/eventloop"
)

func TestBootstrapInstallsSingleNodeWhenClusterDisabled(t *testing.T) {
	addr, closeSrv := startOneShotServer(t, []byte("-ERR This instance has cluster support disabled\r\n"))
	defer closeSrv()

	loop := eventloop.New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	c := newTestClient(t, loop)
	c.cfg.Seeds = []string{addr}

	done := make(chan error, 1)
	loop.Post(func() {
		c.Bootstrap(context.Background(), func(err error) { done <- err })
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for bootstrap")
	}

	assert.Equal(t, StateConnected, c.State())
}

func TestStartReconnectWorkerReconnectsWhenDisconnected(t *testing.T) {
	addr, closeSrv := startOneShotServer(t, []byte("-ERR This instance has cluster support disabled\r\n"))
	defer closeSrv()

	loop := eventloop.New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	c := newTestClient(t, loop)
	c.cfg.Seeds = []string{addr}
	c.cfg.ReconnectInterval = 20 * time.Millisecond

	require.NoError(t, c.StartReconnectWorker())
	defer c.Close()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.metrics.Reconnects) > 0
	}, 3*time.Second, 10*time.Millisecond, "reconnect worker never completed a bootstrap")

	assert.Equal(t, StateConnected, c.State())
}
