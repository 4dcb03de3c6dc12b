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
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ManifestHub/ManifestHub/internal/harvest"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Harvest every visible manifest with the stored account pool",
	Long: `manifesthub download

Runs the full harvest: every stored account gets a session, every
visible depot manifest missing from the archive is downloaded and
committed, expired tags are pruned, and the tracking report is
published.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload()
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload() error {
	opts, err := harvestOptions(rootOpts)
	if err != nil {
		return err
	}
	h, err := harvest.New(opts)
	if err != nil {
		return err
	}
	return errors.Wrap(h.Download(context.Background()), "running download")
}
