// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nats

import (
	"time"

	influx "github.com/influxdata/line-protocol/v2/lineprotocol"
)

// Point is one decoded line-protocol measurement: a name, its tag set
// (which the push-ingestion path folds into the series context), its field
// set (one value sample per field) and a timestamp. It carries no
// knowledge of the series schema — internal/pushingest maps a Point onto
// pcp.Record.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Time        time.Time
}

// decodeOne decodes the point dec is currently positioned at. Callers must
// have already advanced dec with Next.
func decodeOne(d *influx.Decoder) (Point, error) {
	var p Point

	measurement, err := d.Measurement()
	if err != nil {
		return p, err
	}
	p.Measurement = string(measurement)

	p.Tags = make(map[string]string)
	for {
		key, value, err := d.NextTag()
		if err != nil {
			return p, err
		}
		if key == nil {
			break
		}
		p.Tags[string(key)] = string(value)
	}

	p.Fields = make(map[string]interface{})
	for {
		key, value, err := d.NextField()
		if err != nil {
			return p, err
		}
		if key == nil {
			break
		}
		p.Fields[string(key)] = value.Interface()
	}

	t, err := d.Time(influx.Nanosecond, time.Time{})
	if err != nil {
		return p, err
	}
	p.Time = t

	return p, nil
}

// DecodeBatch decodes every point out of buf, a complete line-protocol
// payload (one NATS message body may carry several lines). A malformed
// point ends the batch but does not discard the points already decoded.
func DecodeBatch(buf []byte) ([]Point, error) {
	dec := influx.NewDecoderWithBytes(buf)
	var points []Point
	for dec.Next() {
		p, err := decodeOne(dec)
		if err != nil {
			return points, err
		}
		points = append(points, p)
	}
	return points, nil
}
