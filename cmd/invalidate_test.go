// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd_test

import (
	"testing"

	"github.com/featurebasedb/shardkit/cmd"
)

func TestInvalidateConfig(t *testing.T) {
	tests := []commandTest{
		{
			args: []string{"invalidate", "--key", "customer-7", "--removal"},
			env:  map[string]string{"SHARDKIT_ENDPOINTS": "localhost:2379"},
			validation: func() error {
				v := validator{}
				v.Check(cmd.Invalidate.Key, "customer-7")
				v.Check(cmd.Invalidate.Removal, true)
				v.Check(cmd.Invalidate.Channel, "directory-invalidation")
				v.Check(cmd.Invalidate.Prefix, "/shardkit")
				v.Check(cmd.Invalidate.Endpoints, []string{"localhost:2379"})
				return v.Error()
			},
		},
		{
			args: []string{"invalidate", "-k", "customer-7", "-s", "s4"},
			env:  map[string]string{"SHARDKIT_CHANNEL": "routing-updates"},
			validation: func() error {
				v := validator{}
				v.Check(cmd.Invalidate.ShardID, "s4")
				v.Check(cmd.Invalidate.Channel, "routing-updates")
				v.Check(cmd.Invalidate.Removal, false)
				return v.Error()
			},
		},
	}
	executeDry(t, tests)
}
