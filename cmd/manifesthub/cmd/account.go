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

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Ingest an external account file into the vault",
	Long: `manifesthub account

Decodes the ingestion file named by --account (an RSA-sealed payload
when RSA_PRIVATE_KEY is set, raw JSON otherwise), takes this instance's
partition of the account list, refreshes each account's token, and
stores the records on their friend-code branches.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAccount()
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
}

func runAccount() error {
	if rootOpts.accountFile == "" {
		return errors.New("--account is required in account mode")
	}
	opts, err := harvestOptions(rootOpts)
	if err != nil {
		return err
	}
	h, err := harvest.New(opts)
	if err != nil {
		return err
	}
	return errors.Wrap(
		h.ImportAccounts(context.Background(), rootOpts.accountFile),
		"running account ingestion",
	)
}
