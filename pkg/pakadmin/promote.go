package pakadmin

import (
	"context"
	"fmt"
	"sort"

	"github.com/function61/gokit/osutil"
	"github.com/function61/pakka/pkg/pakserver"
	"github.com/function61/pakka/pkg/paktypes"
	"github.com/spf13/cobra"
)

func promoteEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promotes content or membership between stores",
	}

	var (
		dryRun         bool
		purgeSource    bool
		failWhenExists bool
	)

	pathsCmd := &cobra.Command{
		Use:   "paths [source] [target] [path...]",
		Short: "Copies paths (all content if none given) from source into a hosted target",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				source, target, err := parseSourceAndTarget(args)
				if err != nil {
					return err
				}

				result, err := app.Promotions.PromotePaths(ctx, paktypes.PathsPromoteRequest{
					Source:         source,
					Target:         target,
					Paths:          args[2:],
					DryRun:         dryRun,
					PurgeSource:    purgeSource,
					FailWhenExists: failWhenExists,
				})
				if err != nil {
					return err
				}

				return reportPromotion(result)
			}))
		},
	}
	pathsCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", dryRun, "Only report what would happen")
	pathsCmd.Flags().BoolVarP(&purgeSource, "purge", "", purgeSource, "Delete promoted paths from source")
	pathsCmd.Flags().BoolVarP(&failWhenExists, "fail-when-exists", "", failWhenExists, "Paths already in target are pending instead of skipped")
	cmd.AddCommand(pathsCmd)

	groupDryRun := false

	groupCmd := &cobra.Command{
		Use:   "group [source] [targetGroup]",
		Short: "Adds source as the target group's last member",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				source, target, err := parseSourceAndTarget(args)
				if err != nil {
					return err
				}

				result, err := app.Promotions.PromoteGroup(ctx, paktypes.GroupPromoteRequest{
					Source:      source,
					TargetGroup: target,
					DryRun:      groupDryRun,
				})
				if err != nil {
					return err
				}

				return reportPromotion(result)
			}))
		},
	}
	groupCmd.Flags().BoolVarP(&groupDryRun, "dry-run", "n", groupDryRun, "Only report what would happen")
	cmd.AddCommand(groupCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [source] [target] [path...]",
		Short: "Runs the target's validation rules without promoting",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				source, target, err := parseSourceAndTarget(args)
				if err != nil {
					return err
				}

				validation, err := app.Promotions.Validate(ctx, paktypes.PathsPromoteRequest{
					Source: source,
					Target: target,
					Paths:  args[2:],
				})
				if err != nil {
					return err
				}

				if err := printJson(validation); err != nil {
					return err
				}

				if !validation.Valid {
					return fmt.Errorf("validation failed")
				}

				return nil
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resume [promotionId]",
		Short: "Retries a promotion's pending paths",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				result, err := app.Promotions.Resume(ctx, args[0])
				if err != nil {
					return err
				}

				return reportPromotion(result)
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rollback [promotionId]",
		Short: "Undoes a promotion",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				result, err := app.Promotions.Rollback(ctx, args[0])
				if err != nil {
					return err
				}

				return reportPromotion(result)
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [promotionId]",
		Short: "Shows a recorded promotion",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				record, err := app.Promotions.Result(ctx, args[0])
				if err != nil {
					return err
				}

				return printJson(record)
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "Lists recorded promotions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				records, err := app.Catalog.Promotions(ctx)
				if err != nil {
					return err
				}

				sort.Slice(records, func(i, j int) bool { return records[i].Created.Before(records[j].Created) })

				rows := [][]string{}
				for _, record := range records {
					rows = append(rows, []string{
						record.ID,
						record.Created.Format("2006-01-02 15:04:05"),
						string(record.Result.Kind),
						record.Result.Source.String(),
						record.Result.Target.String(),
						string(record.Status),
					})
				}

				printTable([]string{"ID", "Created", "Kind", "Source", "Target", "Status"}, rows)

				return nil
			}))
		},
	})

	return cmd
}

func parseSourceAndTarget(args []string) (paktypes.StoreKey, paktypes.StoreKey, error) {
	source, err := paktypes.ParseStoreKey(args[0])
	if err != nil {
		return paktypes.StoreKey{}, paktypes.StoreKey{}, err
	}

	target, err := paktypes.ParseStoreKey(args[1])
	if err != nil {
		return paktypes.StoreKey{}, paktypes.StoreKey{}, err
	}

	return source, target, nil
}

// non-zero exit when the promotion didn't fully succeed, so scripts can tell
func reportPromotion(result *paktypes.PromoteResult) error {
	printPromoteResult(result)

	if !result.Succeeded() && !result.RolledBack {
		return fmt.Errorf("promotion %s did not complete", result.ID)
	}

	return nil
}
