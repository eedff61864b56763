package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/terabox-bot/internal/models"
)

func newUserCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect and change user subscriptions",
	}
	cmd.AddCommand(newUserStatusCmd(opts))
	cmd.AddCommand(newUserGrantCmd(opts))
	cmd.AddCommand(newUserRevokeCmd(opts))
	return cmd
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func newUserStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status USER_ID",
		Short: "Show subscription status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				st, err := e.subs.Status(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "user:      %d\n", st.User.ID)
				switch {
				case st.Active && st.Unlimited:
					fmt.Fprintln(out, "plan:      premium (no expiry)")
				case st.Active:
					fmt.Fprintf(out, "plan:      premium until %s (%d days left)\n", st.User.PaidUntil, st.DaysLeft)
				default:
					fmt.Fprintf(out, "plan:      free (%d of %d downloads left today)\n", st.RemainingFree, st.Limit)
				}
				return nil
			})
		},
	}
}

func newUserGrantCmd(opts *options) *cobra.Command {
	var (
		plan string
		days int
	)
	cmd := &cobra.Command{
		Use:     "grant USER_ID",
		Short:   "Grant or extend a premium subscription",
		Example: "  botctl user grant 5016461081 --plan monthly",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				d, err := resolveDays(e.cfg, plan, days)
				if err != nil {
					return err
				}
				u, err := e.subs.GrantUser(ctx, id, d)
				if err != nil {
					return err
				}
				printUser(cmd, u)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&plan, "plan", "", "plan name from config")
	cmd.Flags().IntVar(&days, "days", 0, "duration in days")
	return cmd
}

func newUserRevokeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke USER_ID",
		Short: "Revoke a premium subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				u, err := e.subs.RevokeUser(ctx, id)
				if err != nil {
					return err
				}
				printUser(cmd, u)
				return nil
			})
		},
	}
}

func printUser(cmd *cobra.Command, u models.User) {
	until := "-"
	if u.PaidUntil != nil {
		until = u.PaidUntil.String()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d\tpaid=%t\tuntil=%s\n", u.ID, u.IsPaid, until)
}
