// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	shardkit "github.com/featurebasedb/shardkit"
)

func TestConfigCommand_Run(t *testing.T) {
	rder := []byte{}
	stdin := bytes.NewReader(rder)
	r, w, _ := os.Pipe()
	cm := NewConfigCommand(stdin, w, os.Stderr)
	cm.Config = shardkit.NewConfig()

	err := cm.Run(context.Background())
	if err != nil {
		t.Fatalf("Config Run doesn't work: %s", err)
	}
	w.Close()
	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "directory-invalidation") {
		t.Fatalf("Unexpected config: \n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "shard_directory") {
		t.Fatalf("Unexpected config: \n%s", buf.String())
	}
}
