// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	shardkit "github.com/featurebasedb/shardkit"
	"github.com/featurebasedb/shardkit/ctl"
)

var Conf *ctl.ConfigCommand

func newConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Conf = ctl.NewConfigCommand(stdin, stdout, stderr)
	Conf.Config = shardkit.NewConfig()
	confCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration.",
		Long: `config prints the default configuration to stdout
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Conf.Run(context.Background())
		},
	}

	return confCmd
}
