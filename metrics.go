// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardkit

const (
	MetricTopologyRefresh          = "topology_refresh_total"
	MetricTopologyRefreshError     = "topology_refresh_error_total"
	MetricTopologyActiveShards     = "topology_active_shards"
	MetricDirectoryCacheHit        = "directory_cache_hit_total"
	MetricDirectoryCacheMiss       = "directory_cache_miss_total"
	MetricDirectoryRefresh         = "directory_refresh_total"
	MetricInvalidationPublished    = "invalidation_published_total"
	MetricInvalidationPublishError = "invalidation_publish_error_total"
	MetricInvalidationApplied      = "invalidation_applied_total"
	MetricFanoutShards             = "fanout_shards"
	MetricFanoutShardFailure       = "fanout_shard_failure_total"
	MetricFanoutDuration           = "fanout_duration_seconds"
)
