// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/constants"
	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/version"
)

type runOptions struct {
	configPath  string
	metricsAddr string
	apiAddr     string
	logLevel    string
	debug       bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "orchestratord",
		Short:        "Starts and stops local units to match a desired set",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newRunCmd(), newVersionCmd())

	return root
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", constants.DefaultConfigPath, "path to the orchestrator config file")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "listen address of the metrics endpoint (overrides config)")
	flags.StringVar(&opts.apiAddr, "api-addr", "", "listen address of the control API (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides config and LOGGING_LEVEL)")
	flags.BoolVar(&opts.debug, "debug", false, "run the control API in debug mode")

	return cmd
}

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetInfo()

			if format == "json" {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("format version info: %w", err)
				}

				cmd.Println(string(out))

				return nil
			}

			cmd.Printf("orchestratord %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)

			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "output format (json)")

	return cmd
}
