// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/performancecopilot/pmseries-core/internal/bootstrap"
	"github.com/performancecopilot/pmseries-core/internal/mapcache"
	"github.com/performancecopilot/pmseries-core/internal/storeclient"
	"github.com/performancecopilot/pmseries-core/pkg/eventloop"
	"github.com/performancecopilot/pmseries-core/pkg/hashid"
	"github.com/performancecopilot/pmseries-core/pkg/metrics"
	"github.com/performancecopilot/pmseries-core/pkg/pcp"
)

// readRESPCommand reads one RESP array-of-bulk-strings command and returns
// its arguments as plain strings.
func readRESPCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected RESP frame: %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		hdr, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		hdr = strings.TrimRight(hdr, "\r\n")
		if !strings.HasPrefix(hdr, "$") {
			return nil, fmt.Errorf("unexpected RESP bulk header: %q", hdr)
		}
		m, err := strconv.Atoi(hdr[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, m+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		out = append(out, string(buf[:m]))
	}
	return out, nil
}

// mockStore is a generic RESP server that replies to every write command
// the loader issues with a plausible canned reply, tracking every command
// it saw so tests can assert on what was sent. It reproduces a real
// stream's duplicate-id behaviour for XADD: the second XADD against a
// given key replies with the store's "equal or smaller" error.
type mockStore struct {
	mu       sync.Mutex
	seenXadd map[string]bool
	commands chan []string
}

func startMockStore(t *testing.T) (addr string, m *mockStore, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m = &mockStore{seenXadd: make(map[string]bool), commands: make(chan []string, 256)}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go m.serve(conn)
		}
	}()

	return ln.Addr().String(), m, func() { ln.Close() }
}

func (m *mockStore) serve(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	for {
		args, err := readRESPCommand(r)
		if err != nil {
			return
		}
		m.commands <- args
		if _, err := c.Write(m.reply(args)); err != nil {
			return
		}
	}
}

func (m *mockStore) reply(args []string) []byte {
	switch strings.ToUpper(args[0]) {
	case "HSET", "SADD", "PUBLISH", "EXPIRE":
		return []byte(":1\r\n")
	case "HMSET":
		return []byte("+OK\r\n")
	case "XADD":
		key := args[1]
		m.mu.Lock()
		dup := m.seenXadd[key]
		m.seenXadd[key] = true
		m.mu.Unlock()
		if dup {
			return []byte("-ERR The ID specified in XADD is equal or smaller than the target stream top item\r\n")
		}
		return []byte("$6\r\n1000-0\r\n")
	default:
		return []byte("-ERR unknown command\r\n")
	}
}

func (m *mockStore) collect(t *testing.T, n int, timeout time.Duration) [][]string {
	t.Helper()
	out := make([][]string, 0, n)
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case cmd := <-m.commands:
			out = append(out, cmd)
		case <-deadline:
			t.Fatalf("timed out waiting for command %d/%d", i+1, n)
		}
	}
	return out
}

func newTestLoader(t *testing.T, addr string) (*Loader, *eventloop.Loop) {
	t.Helper()
	loop := eventloop.New(32)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	m := metrics.New(fmt.Sprintf("pmseries_ingest_test_%d", time.Now().UnixNano()))
	store := storeclient.New(storeclient.Config{ReconnectInterval: time.Hour}, loop, m)
	store.SlotMap().InstallSingle(addr)
	cache := mapcache.New(store, m)

	return New(store, cache, m, DefaultConfig()), loop
}

func singleMetricRecord() (*pcp.Record, hashid.Hash) {
	metricHash := hashid.Sum([]byte("kernel.all.load"))
	ctxHash := hashid.Sum([]byte("host=a"))
	series := hashid.SeriesName(metricHash, ctxHash, nil)

	rec := &pcp.Record{
		Context:    pcp.ContextID(ctxHash),
		ContextStr: "host=a",
		NewNames: []pcp.NewName{
			{Class: "metricname.name", Hash: pcp.Name(metricHash), Value: "kernel.all.load"},
			{Class: "context.name", Hash: pcp.Name(ctxHash), Value: "host=a"},
		},
		Descriptors: []pcp.Descriptor{{
			MetricName: pcp.Name(metricHash),
			PMID:       1,
			Indom:      pcp.IndomNone,
			Semantics:  pcp.SemanticInstant,
			ValueType:  pcp.ValueF32,
			Units:      "none",
		}},
		Values: []pcp.ValueSample{{
			Series:    pcp.SeriesID(series),
			Timestamp: 1000.0,
			Value:     float32(0.42),
		}},
	}
	return rec, series
}

// recordWithInstances builds a record for a metric with a one-member
// instance domain, so both publishMetadataPhase and publishInstancesPhase
// have something to publish.
func recordWithInstances() *pcp.Record {
	metricHash := hashid.Sum([]byte("mem.util.used"))
	ctxHash := hashid.Sum([]byte("host=a"))
	instHash := hashid.Sum([]byte("cpu0"))
	indom := pcp.IndomID(1001)
	series := hashid.SeriesName(metricHash, ctxHash, &instHash)

	return &pcp.Record{
		Context:    pcp.ContextID(ctxHash),
		ContextStr: "host=a",
		Descriptors: []pcp.Descriptor{{
			MetricName: pcp.Name(metricHash),
			PMID:       2,
			Indom:      indom,
			Semantics:  pcp.SemanticInstant,
			ValueType:  pcp.ValueF32,
			Units:      "none",
		}},
		Indoms: []pcp.InstanceDomain{{
			Indom:     indom,
			Timestamp: 1000,
			Instances: []pcp.Instance{{
				Internal:     0,
				ExternalName: pcp.Name(instHash),
				ExternalStr:  "cpu0",
			}},
		}},
		Values: []pcp.ValueSample{{
			Series:    pcp.SeriesID(series),
			Timestamp: 1000.0,
			Value:     float32(0.1),
		}},
	}
}

func TestIngestSingleMetricNoInstances(t *testing.T) {
	addr, mock, closeSrv := startMockStore(t)
	defer closeSrv()

	l, loop := newTestLoader(t, addr)
	rec, series := singleMetricRecord()

	done := make(chan error, 1)
	loop.Post(func() {
		l.Ingest(context.Background(), rec, func(err error) { done <- err })
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Ingest")
	}

	var sawXadd, sawDescSadd bool
	timeout := time.After(2 * time.Second)
drain:
	for {
		select {
		case cmd := <-mock.commands:
			switch {
			case strings.EqualFold(cmd[0], "XADD") && cmd[1] == "pcp:values:series:"+series.String():
				sawXadd = true
			case strings.EqualFold(cmd[0], "SADD") && cmd[1] == "pcp:series:metric.name:"+hashid.Sum([]byte("kernel.all.load")).String():
				sawDescSadd = true
			}
		case <-timeout:
			break drain
		default:
			if sawXadd && sawDescSadd {
				break drain
			}
		}
	}
	assert.True(t, sawXadd, "expected a value to be streamed")
	assert.True(t, sawDescSadd, "expected the metric-name series index to be written")
}

func TestIngestLabelRoundTrip(t *testing.T) {
	addr, mock, closeSrv := startMockStore(t)
	defer closeSrv()

	l, loop := newTestLoader(t, addr)
	rec, series := singleMetricRecord()
	rec.Values = nil // isolate the label phase

	envName := hashid.Sum([]byte("env"))
	prodValue := hashid.Sum([]byte("prod"))
	rec.NewNames = append(rec.NewNames,
		pcp.NewName{Class: "label.name", Hash: pcp.Name(envName), Value: "env"},
		pcp.NewName{Class: fmt.Sprintf("label.%s.value", envName), Hash: pcp.Name(prodValue), Value: "prod"},
	)
	rec.Labels = []pcp.LabelSet{{
		Target: pcp.LabelTargetItem,
		Labels: []pcp.Label{{Name: pcp.Name(envName), Value: pcp.Name(prodValue), Flags: 0}},
	}}

	done := make(chan error, 1)
	loop.Post(func() {
		l.Ingest(context.Background(), rec, func(err error) { done <- err })
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Ingest")
	}

	var sawLabelValue, sawLabelIndex bool
	timeout := time.After(2 * time.Second)
drain:
	for !(sawLabelValue && sawLabelIndex) {
		select {
		case cmd := <-mock.commands:
			switch {
			case strings.EqualFold(cmd[0], "HMSET") && cmd[1] == "pcp:labelvalue:series:"+series.String():
				if len(cmd) == 4 && cmd[2] == envName.String() && cmd[3] == prodValue.String() {
					sawLabelValue = true
				}
			case strings.EqualFold(cmd[0], "SADD") && cmd[1] == fmt.Sprintf("pcp:series:label.%s.value:%s", envName, prodValue):
				if len(cmd) == 3 && cmd[2] == series.String() {
					sawLabelIndex = true
				}
			}
		case <-timeout:
			break drain
		}
	}
	assert.True(t, sawLabelValue, "expected the label value hash to be written for the series")
	assert.True(t, sawLabelIndex, "expected the series to be added to the label index set")
}

func TestIngestDuplicateXAddWarnsAndContinues(t *testing.T) {
	addr, _, closeSrv := startMockStore(t)
	defer closeSrv()

	l, loop := newTestLoader(t, addr)
	rec, _ := singleMetricRecord()

	first := make(chan error, 1)
	loop.Post(func() {
		l.Ingest(context.Background(), rec, func(err error) { first <- err })
	})
	require.NoError(t, <-first)

	second := make(chan error, 1)
	rec2, _ := singleMetricRecord()
	loop.Post(func() {
		l.Ingest(context.Background(), rec2, func(err error) { second <- err })
	})

	select {
	case err := <-second:
		assert.NoError(t, err, "a duplicate XADD is a dropped-sample warning, not a fatal error")
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for second Ingest")
	}
}

func TestIngestMarkRecordIsNoop(t *testing.T) {
	addr, mock, closeSrv := startMockStore(t)
	defer closeSrv()

	l, loop := newTestLoader(t, addr)

	done := make(chan error, 1)
	loop.Post(func() {
		l.Ingest(context.Background(), &pcp.Record{IsMark: true}, func(err error) { done <- err })
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mark record")
	}

	select {
	case cmd := <-mock.commands:
		t.Fatalf("mark record must not issue any store command, got %v", cmd)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestIngestRecordsSchemaSnapshotEntries(t *testing.T) {
	addr, _, closeSrv := startMockStore(t)
	defer closeSrv()

	l, loop := newTestLoader(t, addr)
	rec := recordWithInstances()

	recorder := bootstrap.NewRecorder()
	l.SetRecorder(recorder)

	done := make(chan error, 1)
	loop.Post(func() {
		l.Ingest(context.Background(), rec, func(err error) { done <- err })
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Ingest")
	}

	var sawDescriptor, sawIndom bool
	for _, e := range recorder.Entries() {
		switch e.Kind {
		case "descriptor":
			sawDescriptor = true
		case "indom":
			sawIndom = true
		}
	}
	assert.True(t, sawDescriptor, "expected a descriptor entry to be recorded")
	assert.True(t, sawIndom, "expected an indom entry to be recorded")

	// Ingesting the same record again must not grow the recorder: the
	// loader's publish-once map skips the repeat descriptor, and the
	// Recorder itself drops the repeated indom observation.
	second := make(chan error, 1)
	loop.Post(func() {
		l.Ingest(context.Background(), rec, func(err error) { second <- err })
	})
	require.NoError(t, <-second)
	assert.Len(t, recorder.Entries(), 2)
}
