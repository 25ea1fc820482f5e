// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package statsd_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/featurebasedb/shardkit/logger"
	"github.com/featurebasedb/shardkit/statsd"
)

func TestStatsClient_WithTags(t *testing.T) {
	// Create a new client.
	c, err := statsd.NewStatsClient("localhost:19444", "testnamespace", logger.NopLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// Create a new client with additional tags.
	c1 := c.WithTags("foo", "bar")
	if tags := c1.Tags(); !reflect.DeepEqual(tags, []string{"bar", "foo"}) {
		t.Fatalf("unexpected tags: %+v", tags)
	}

	// Create a new client from the clone with more tags.
	c2 := c1.WithTags("bar", "baz")
	if tags := c2.Tags(); !reflect.DeepEqual(tags, []string{"bar", "baz", "foo"}) {
		t.Fatalf("unexpected tags: %+v", tags)
	}
}

func TestStatsClient_Methods(t *testing.T) {
	// Create a new client. statsd speaks UDP, so nothing needs to be
	// listening on the other end.
	c, err := statsd.NewStatsClient("localhost:19444", "testnamespace", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	dur, _ := time.ParseDuration("123us")
	c.Count("cc", 1, 1.0)
	c.Gauge("gg", 10, 1.0)
	c.Timing("tt", dur, 1.0)
}
