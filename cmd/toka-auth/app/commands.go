// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command-line interface of toka-auth.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/toka/pkg/authserver"
	"github.com/stacklok/toka/pkg/logger"
	"github.com/stacklok/toka/pkg/versions"
)

const redactedValue = "[REDACTED]"

// NewRootCmd creates the root command for the toka-auth CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "toka-auth",
		DisableAutoGenTag: true,
		Short:             "OAuth2 and OpenID Connect authorization server",
		Long: `toka-auth issues RS256-signed access, ID and refresh tokens through the
authorization code grant. Configuration is read from the environment and,
optionally, a YAML file given with --config. Environment variables take
precedence over the file.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to an optional YAML configuration file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*authserver.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := authserver.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		Long: `Start the authorization server and serve until interrupted.

The login form, token, userinfo and logout endpoints are served under the
path of the issuer; /health is additionally served at the root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			srv, err := authserver.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			defer func() {
				if err := srv.Close(); err != nil {
					logger.Warnf("Failed to release server resources: %v", err)
				}
			}()

			return srv.Run(ctx)
		},
	}
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the configuration from the environment and the optional --config file
and report every problem found. With --print the effective configuration is
written as YAML with secrets redacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			printCfg, err := cmd.Flags().GetBool("print")
			if err != nil {
				return err
			}
			if !printCfg {
				logger.Infow("Configuration is valid",
					"issuer", cfg.Issuer,
					"mount_path", cfg.MountPath(),
					"clients", len(cfg.AllClients()),
				)
				return nil
			}

			out, err := yaml.Marshal(redact(cfg))
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().Bool("print", false, "Print the effective configuration with secrets redacted")
	return cmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "toka-auth %s\nCommit: %s\nBuilt: %s\nGo: %s\nPlatform: %s\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().Bool("json", false, "Print version information as JSON")
	return cmd
}

// redact returns a copy of cfg with credentials replaced.
func redact(cfg *authserver.Config) *authserver.Config {
	out := *cfg
	mask := func(s *string) {
		if *s != "" {
			*s = redactedValue
		}
	}

	mask(&out.Client.Secret)
	out.Clients = append(out.Clients[:0:0], cfg.Clients...)
	for i := range out.Clients {
		mask(&out.Clients[i].Secret)
	}
	mask(&out.Keys.PrivateKey)
	mask(&out.Directory.ServiceToken)
	mask(&out.Directory.DatabaseURL)
	mask(&out.Events.RabbitMQURL)
	mask(&out.Storage.Redis.URL)
	if cfg.Storage.Redis.ACLUserConfig != nil {
		acl := *cfg.Storage.Redis.ACLUserConfig
		mask(&acl.Password)
		out.Storage.Redis.ACLUserConfig = &acl
	}
	return &out
}
