package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/terabox-bot/internal/lib/keygen"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
)

func newKeyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage access keys",
	}
	cmd.AddCommand(newKeyCreateCmd(opts))
	cmd.AddCommand(newKeyListCmd(opts))
	cmd.AddCommand(newKeyDeleteCmd(opts))
	return cmd
}

func newKeyCreateCmd(opts *options) *cobra.Command {
	var (
		plan  string
		days  int
		count int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue new access keys",
		Example: `  botctl key create --plan monthly
  botctl key create --days 7 --count 10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				d, err := resolveDays(e.cfg, plan, days)
				if err != nil {
					return err
				}
				for range max(count, 1) {
					key, err := e.subs.IssueKey(ctx, d)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%dd\n", key.Token, key.DurationDays)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&plan, "plan", "", "plan name from config")
	cmd.Flags().IntVar(&days, "days", 0, "duration in days")
	cmd.Flags().IntVar(&count, "count", 1, "number of keys to issue")
	return cmd
}

func newKeyListCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List access keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				keys, err := e.subs.ListKeys(ctx, limit)
				if err != nil {
					return err
				}
				return printKeys(cmd, keys)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of keys, 0 for all")
	return cmd
}

func printKeys(cmd *cobra.Command, keys []models.AccessKey) error {
	if len(keys) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no keys")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tDAYS\tREDEEMED BY\tCREATED")
	for _, k := range keys {
		by := "-"
		if k.RedeemedBy != nil {
			by = fmt.Sprint(*k.RedeemedBy)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", k.Token, k.DurationDays, by, k.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func newKeyDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete TOKEN",
		Short: "Delete an unused access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				token := keygen.Normalize(args[0])
				if err := e.subs.DeleteKey(ctx, token); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", token)
				return nil
			})
		},
	}
}
