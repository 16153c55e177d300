// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterThenUnregisterIsClean(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New("pmseries_test")

	require.NoError(t, s.Register(reg))
	s.Redirections.WithLabelValues("moved").Inc()
	s.Reconnects.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	s.Unregister(reg)
	families, err = reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestRegisterTwiceOnSameRegistryFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New("pmseries_dup")
	b := New("pmseries_dup")

	require.NoError(t, a.Register(reg))
	assert.Error(t, b.Register(reg))
}

func TestCounterValueIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New("pmseries_val")
	require.NoError(t, s.Register(reg))

	s.DuplicateXAdd.Add(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "pmseries_val_store_duplicate_xadd_total" {
			found = f
		}
	}
	require.NotNil(t, found)
	require.Len(t, found.Metric, 1)
	assert.Equal(t, 3.0, found.Metric[0].GetCounter().GetValue())
}
