// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package discover

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/performancecopilot/pmseries-core/pkg/log"
)

// ColdStorage uploads a purged archive's files to S3 (spec §4.12). It is
// purely additive: upload failures are logged, never propagated, since a
// purge must complete regardless of the object store's availability.
type ColdStorage struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewColdStorage builds a ColdStorage client for bucket in region, keying
// uploaded objects under prefix.
func NewColdStorage(ctx context.Context, bucket, region, prefix string) (*ColdStorage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("discover: cold storage: empty bucket name")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("discover: cold storage: load AWS config: %w", err)
	}
	return &ColdStorage{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// UploadArchive uploads every file in dir whose name starts with
// archiveBase (the meta file, the index, and every log volume), logging a
// warning per file that fails rather than aborting the whole purge.
func (c *ColdStorage) UploadArchive(ctx context.Context, dir, archiveBase string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warnf("discover: cold storage: listing %s: %s", dir, err)
		return
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), archiveBase) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("discover: cold storage: reading %s: %s", path, err)
			continue
		}
		key := c.prefix + e.Name()
		if _, err := c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		}); err != nil {
			log.Warnf("discover: cold storage: uploading %s: %s", path, err)
		}
	}
}
