// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pushingest is the secondary ingestion path of spec §4.9:
// external collectors publish already-decoded samples as line-protocol
// measurements over NATS subjects configured under [pmseries]. Each
// decoded point is mapped onto a pcp.Record and handed to the same
// ingest.Loader the archive discovery driver uses, so both paths share
// mapping cache, baton phases and store writes.
package pushingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/performancecopilot/pmseries-core/internal/ingest"
	"github.com/performancecopilot/pmseries-core/pkg/hashid"
	"github.com/performancecopilot/pmseries-core/pkg/log"
	natspkg "github.com/performancecopilot/pmseries-core/pkg/nats"
	"github.com/performancecopilot/pmseries-core/pkg/pcp"
)

// hostTagKeys are, in priority order, the line-protocol tag keys read as a
// point's context identity. The first one present wins; if none are
// present the subscription's ClusterTag is used instead.
var hostTagKeys = []string{"host", "hostname", "source"}

// Listener subscribes to a set of NATS subjects and feeds decoded points
// to a Loader. Like every other loop-owned component it must be
// constructed and driven from the event loop goroutine; NATS delivers on
// its own goroutines, so every subscription handler only ever calls post.
type Listener struct {
	client *natspkg.Client
	loader *ingest.Loader
	post   func(func())
}

// New builds a Listener. post is typically (*eventloop.Loop).Post.
func New(client *natspkg.Client, loader *ingest.Loader, post func(func())) *Listener {
	return &Listener{client: client, loader: loader, post: post}
}

// Start subscribes to every subscription in cfg. queueGroup, if non-empty,
// load-balances delivery across however many processes share it (several
// pmseries-discover instances behind the same NATS subjects).
func (l *Listener) Start(subscriptions []natspkg.Subscription, queueGroup string) error {
	for _, sub := range subscriptions {
		sub := sub
		handler := func(subject string, data []byte) {
			l.post(func() { l.handleMessage(sub, subject, data) })
		}
		var err error
		if queueGroup != "" {
			err = l.client.SubscribeQueue(sub.SubscribeTo, queueGroup, handler)
		} else {
			err = l.client.Subscribe(sub.SubscribeTo, handler)
		}
		if err != nil {
			return fmt.Errorf("pushingest: subscribing to %s: %w", sub.SubscribeTo, err)
		}
	}
	return nil
}

func (l *Listener) handleMessage(sub natspkg.Subscription, subject string, data []byte) {
	points, err := natspkg.DecodeBatch(data)
	if err != nil && len(points) == 0 {
		log.Warnf("pushingest: decoding %s: %s", subject, err)
		return
	}
	if err != nil {
		log.Warnf("pushingest: decoding %s: %s (kept %d point(s) decoded before the error)", subject, err, len(points))
	}

	for _, p := range points {
		rec := pointToRecord(p, sub.ClusterTag)
		l.loader.Ingest(context.Background(), rec, func(err error) {
			if err != nil {
				log.Warnf("pushingest: ingesting point from %s: %s", subject, err)
			}
		})
	}
}

// pointToRecord maps one decoded line-protocol point onto a pcp.Record.
// Every field in the point becomes its own metric ("<measurement>.<field>"),
// with no instance domain — push-ingestion has no indom concept, only flat
// tag sets. This is a documented simplification (spec has no originating
// description of the push path's schema shape to follow exactly).
func pointToRecord(p natspkg.Point, defaultClusterTag string) *pcp.Record {
	contextStr := contextFor(p, defaultClusterTag)
	ctxHash := hashid.Sum([]byte("context:" + contextStr))
	ctxID := pcp.ContextID(ctxHash)

	rec := &pcp.Record{
		Context:    ctxID,
		ContextStr: contextStr,
		NewNames: []pcp.NewName{
			{Class: "context.name", Hash: pcp.Name(ctxHash), Value: contextStr},
		},
	}

	timestamp := float64(p.Time.UnixNano()) / 1e9

	fieldNames := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	var labels []pcp.Label
	for _, key := range sortedKeys(p.Tags) {
		nameHash := hashid.Sum([]byte("label.name:" + key))
		valueHash := hashid.Sum([]byte("label.value:" + p.Tags[key]))
		rec.NewNames = append(rec.NewNames,
			pcp.NewName{Class: "label.name", Hash: pcp.Name(nameHash), Value: key},
			pcp.NewName{Class: "label.value", Hash: pcp.Name(valueHash), Value: p.Tags[key]},
		)
		labels = append(labels, pcp.Label{Name: pcp.Name(nameHash), Value: pcp.Name(valueHash)})
	}
	if len(labels) > 0 {
		rec.Labels = []pcp.LabelSet{{Target: pcp.LabelTargetContext, Labels: labels}}
	}

	for _, field := range fieldNames {
		metricName := p.Measurement + "." + field
		nameHash := hashid.Sum([]byte("metricname.name:" + metricName))

		rec.NewNames = append(rec.NewNames, pcp.NewName{
			Class: "metricname.name", Hash: pcp.Name(nameHash), Value: metricName,
		})
		rec.Descriptors = append(rec.Descriptors, pcp.Descriptor{
			MetricName: pcp.Name(nameHash),
			Indom:      pcp.IndomNone,
			Semantics:  pcp.SemanticInstant,
			ValueType:  valueTypeOf(p.Fields[field]),
		})

		series := hashid.SeriesName(nameHash, ctxHash, nil)
		rec.Values = append(rec.Values, pcp.ValueSample{
			Series:    pcp.SeriesID(series),
			Timestamp: timestamp,
			Value:     p.Fields[field],
		})
	}

	return rec
}

func contextFor(p natspkg.Point, defaultClusterTag string) string {
	for _, key := range hostTagKeys {
		if v, ok := p.Tags[key]; ok && v != "" {
			return v
		}
	}
	if defaultClusterTag != "" {
		return defaultClusterTag
	}
	return "pushingest"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func valueTypeOf(v interface{}) pcp.ValueType {
	switch v.(type) {
	case int64:
		return pcp.ValueI64
	case uint64:
		return pcp.ValueU64
	case float64:
		return pcp.ValueF64
	case bool, string:
		return pcp.ValueString
	default:
		return pcp.ValueString
	}
}
