// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package offsetledger

import (
	"context"
	"time"

	"github.com/performancecopilot/pmseries-core/pkg/log"
)

type beginKey struct{}

// queryLogHooks satisfies sqlhooks.Hooks, logging each query and its
// duration, the same shape as the teacher's repository.Hooks.
type queryLogHooks struct{}

func (h *queryLogHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("offsetledger: query %s %q", query, args)
	return context.WithValue(ctx, beginKey{}, time.Now()), nil
}

func (h *queryLogHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey{}).(time.Time); ok {
		log.Debugf("offsetledger: query took %s", time.Since(begin))
	}
	return ctx, nil
}
