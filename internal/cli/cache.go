package cli

import (
	"context"
	"fmt"

	"github.com/geodiary/mapcore/internal/model/convert"
	"github.com/spf13/cobra"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the offline marker cache",
	}
	cmd.AddCommand(newCacheShowCommand(opts))
	cmd.AddCommand(newCacheClearCommand(opts))
	return cmd
}

func newCacheShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List the markers saved while signed out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			app, err := Bootstrap(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			cached, err := app.Cache.Load(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read cache", err)
			}
			markers := make([]MarkerView, 0, len(cached))
			for _, c := range cached {
				markers = append(markers, markerView(convert.CachedToCore(c)))
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), markers)
			}
			printMarkers(cmd.OutOrStdout(), markers)
			return nil
		},
	}
}

func newCacheClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the markers saved while signed out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			app, err := Bootstrap(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			if err := app.Cache.Clear(ctx); err != nil {
				return WrapExitError(ExitCommandError, "failed to clear cache", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Marker cache cleared")
			return nil
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
