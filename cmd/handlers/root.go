/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"newsdigest/internal/config"
	"newsdigest/internal/logger"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "newsdigest",
		Short: "newsdigest clusters news stories into topics and writes a daily digest.",
		Long: `newsdigest ingests normalized news articles, summarizes and embeds them,
groups near-duplicate coverage into topics by vector similarity and writes a
daily digest whose paragraphs link to the topics they mention.

Stories, topics, keywords and digests live in PostgreSQL (with pgvector) or in
a local SQLite file, selected by database.driver.`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.newsdigest.yaml or $HOME/.newsdigest.yaml)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewDigestCmd())
	rootCmd.AddCommand(NewSimilarCmd())
	rootCmd.AddCommand(NewKeywordsCmd())
	rootCmd.AddCommand(NewFixDatesCmd())
	rootCmd.AddCommand(NewBackfillEmbeddingsCmd())
	rootCmd.AddCommand(NewMigrateCmd())
	rootCmd.AddCommand(NewStatsCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(cfg.App.LogLevel)
	if cfg.App.Debug {
		logger.SetLevel("debug")
	}
}
