package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/terabox-bot/internal/storage/file"
)

func newSnapshotCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import the whole storage",
		Long: `Move users and keys between storage backends through a JSON snapshot file.
Import replaces everything in the configured storage.`,
	}
	cmd.AddCommand(newSnapshotExportCmd(opts))
	cmd.AddCommand(newSnapshotImportCmd(opts))
	return cmd
}

func newSnapshotExportCmd(opts *options) *cobra.Command {
	var compress bool
	cmd := &cobra.Command{
		Use:     "export FILE",
		Short:   "Write the configured storage to a snapshot file",
		Example: "  botctl snapshot export backup.json.zst --compress",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				snap, err := e.store.Load(ctx)
				if err != nil {
					return err
				}
				out, err := file.New(args[0], compress)
				if err != nil {
					return err
				}
				if err := out.Save(ctx, snap); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d users and %d keys to %s\n", len(snap.Users), len(snap.Keys), args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&compress, "compress", false, "compress the snapshot with zstd")
	return cmd
}

func newSnapshotImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "import FILE",
		Short:   "Replace the configured storage with a snapshot file",
		Example: "  botctl --config prod.yaml snapshot import data/store.json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				in, err := file.New(args[0], false)
				if err != nil {
					return err
				}
				snap, err := in.Load(ctx)
				if err != nil {
					return err
				}
				if err := e.store.Save(ctx, snap); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d users and %d keys into %s storage\n",
					len(snap.Users), len(snap.Keys), e.cfg.Storage.Driver)
				return nil
			})
		},
	}
}
