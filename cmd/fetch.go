package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/netwatch/internal/app"
	"github.com/JakeFAU/netwatch/internal/hash/digest"
	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// newFetchCmd fetches one page with the configured fetcher and prints its digest and
// content. Useful for checking a selector before creating a watch item.
func newFetchCmd() *cobra.Command {
	var link, selector string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a page once and print its hash and watched content",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			fetcher, release, err := app.NewFetcher(rt.cfg.Fetcher, rt.logger)
			if err != nil {
				return err
			}
			defer release()

			hasher, err := digest.New(rt.cfg.Processor.HashAlgorithm)
			if err != nil {
				return fmt.Errorf("hasher init failed: %w", err)
			}
			res, err := fetcher.Fetch(cmd.Context(), netwatch.FetchRequest{URL: link, Selector: selector})
			if err != nil {
				return err
			}
			sum, err := hasher.Hash(res.Body)
			if err != nil {
				return fmt.Errorf("hash content: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", hasher.Algorithm(), sum)
			fmt.Fprintln(out, string(res.Body))
			return nil
		},
	}
	cmd.Flags().StringVar(&link, "link", "", "URL to fetch")
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector scoping the watched content")
	_ = cmd.MarkFlagRequired("link")
	return cmd
}
