// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate compiles schema and checks instance against it, same shape as
// the teacher's internal/config.Validate, but returning an error instead
// of calling log.Fatal.
func Validate(schema string, instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("schema.json", schema)
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	var v interface{}
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("decoding instance: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("validating: %w", err)
	}
	return nil
}
