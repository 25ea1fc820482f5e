// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

/*
Package cmd contains all the shardkit subcommand definitions (1 per file).

Each command file has a new*Command function which returns a cobra.Command
object wrapping the subcommand, and a global exported instance of the
underlying ctl command so that flag, environment, and config file handling
can be tested.

The root command wires every subcommand's flags through viper, so each flag
can also be set by an environment variable (SHARDKIT_ prefix, dashes and
dots replaced by underscores) or a TOML config file passed via --config.
*/
package cmd
