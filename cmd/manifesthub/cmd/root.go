/*
Copyright 2026 The ManifestHub Authors.

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

package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sigs.k8s.io/release-utils/log"

	"github.com/ManifestHub/ManifestHub/internal/harvest"
)

// rootCmd represents the base command when called without any
// subcommands; it behaves as `manifesthub download`.
var rootCmd = &cobra.Command{
	Use:   "manifesthub",
	Short: "Harvest Steam depot manifests into a Git archive",
	Long: `manifesthub - Steam depot manifest harvester

Enumerates every app a pool of Steam accounts can see and archives the
depot manifests and decryption keys into the Git repository's branches
and tags.
`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initLogging,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload()
	},
}

type rootOptions struct {
	logLevel    string
	repoPath    string
	accountFile string
	token       string
	keyBase64   string
	accounts    int
	manifests   int
	index       int
	number      int
}

var rootOpts = &rootOptions{}

// Execute adds all child commands to the root command and sets flags.
// This is called by main.main(). It only needs to happen once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&rootOpts.logLevel,
		"log-level",
		"info",
		fmt.Sprintf("the logging verbosity, either %s", log.LevelNames()),
	)

	rootCmd.PersistentFlags().StringVar(
		&rootOpts.repoPath,
		"repo",
		".",
		"path of the archive clone the run operates on",
	)

	rootCmd.PersistentFlags().StringVarP(
		&rootOpts.accountFile,
		"account",
		"a",
		"",
		"account ingestion file (account mode)",
	)

	rootCmd.PersistentFlags().StringVarP(
		&rootOpts.token,
		"token",
		"t",
		"",
		"forge access token used as the push password",
	)

	rootCmd.PersistentFlags().StringVarP(
		&rootOpts.keyBase64,
		"key",
		"k",
		"",
		"base64 of the 32-byte AES key sealing account secrets",
	)

	rootCmd.PersistentFlags().IntVarP(
		&rootOpts.accounts,
		"concurrent-account",
		"c",
		harvest.DefaultMaxAccounts,
		"number of concurrent Steam sessions",
	)

	rootCmd.PersistentFlags().IntVarP(
		&rootOpts.manifests,
		"concurrent-manifest",
		"p",
		16,
		"number of concurrent manifest downloads per session",
	)

	rootCmd.PersistentFlags().IntVarP(
		&rootOpts.index,
		"index",
		"i",
		0,
		"zero-based index of this instance among --number parallel instances",
	)

	rootCmd.PersistentFlags().IntVarP(
		&rootOpts.number,
		"number",
		"n",
		1,
		"total number of parallel instances",
	)
}

func initLogging(*cobra.Command, []string) error {
	return log.SetupGlobalLogger(rootOpts.logLevel)
}

// harvestOptions translates the CLI surface into run options.
func harvestOptions(o *rootOptions) (harvest.Options, error) {
	if o.token == "" {
		return harvest.Options{}, errors.New("--token is required")
	}
	if o.keyBase64 == "" {
		return harvest.Options{}, errors.New("--key is required")
	}
	key, err := base64.StdEncoding.DecodeString(o.keyBase64)
	if err != nil {
		return harvest.Options{}, errors.Wrap(err, "decoding --key")
	}
	opts := harvest.Options{
		RepoPath:     o.repoPath,
		Token:        o.token,
		Key:          key,
		MaxAccounts:  o.accounts,
		MaxDownloads: o.manifests,
		Index:        o.index,
		Number:       o.number,
	}
	return opts, opts.Validate()
}
