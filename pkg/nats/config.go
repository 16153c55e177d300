// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nats

// Subscription names one push-ingestion subject: SubscribeTo is the NATS
// subject pattern, ClusterTag is the context used for points whose
// line-protocol tag set carries none of the host, hostname or source tags.
type Subscription struct {
	SubscribeTo string `json:"subscribe-to"`
	ClusterTag  string `json:"cluster-tag"`
}

// Config holds the configuration for connecting to a NATS server and the
// subjects the push-ingestion path subscribes to.
type Config struct {
	Address       string         `json:"address"`
	Username      string         `json:"username"`
	Password      string         `json:"password"`
	CredsFilePath string         `json:"creds-file-path"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// ConfigSchema validates the `[pmseries].nats` JSON sub-document.
const ConfigSchema = `{
    "type": "object",
    "description": "Configuration for the NATS push-ingestion client.",
    "properties": {
        "address": {
            "description": "Address of the NATS server (e.g., 'nats://localhost:4222').",
            "type": "string"
        },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "creds-file-path": { "type": "string" },
        "subscriptions": {
            "type": "array",
            "items": {
                "type": "object",
                "properties": {
                    "subscribe-to": { "type": "string" },
                    "cluster-tag": { "type": "string" }
                },
                "required": ["subscribe-to"]
            }
        }
    },
    "required": ["address"]
}`
