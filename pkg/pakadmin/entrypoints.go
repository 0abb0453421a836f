// Admin commands operating on the local catalog database and content store
package pakadmin

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/pakka/pkg/pakimplied"
	"github.com/function61/pakka/pkg/pakserver"
	"github.com/function61/pakka/pkg/paktypes"
	"github.com/function61/pakka/pkg/pakvalidation"
	"github.com/spf13/cobra"
)

func Entrypoints() []*cobra.Command {
	return []*cobra.Command{
		storeEntrypoint(),
		groupEntrypoint(),
		contentEntrypoint(),
		promoteEntrypoint(),
		rulesetEntrypoint(),
		impliedEntrypoint(),
	}
}

func storeEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store management",
	}

	flags := storeFlags{}

	putCmd := &cobra.Command{
		Use:   "put [key]",
		Short: "Creates or replaces a store (e.g. maven:remote:central)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				key, err := paktypes.ParseStoreKey(args[0])
				if err != nil {
					return err
				}

				store, err := flags.build(key)
				if err != nil {
					return err
				}

				changed, err := putStore(ctx, app.Catalog, store, currentUser())
				if err != nil {
					return err
				}

				if !changed {
					fmt.Fprintln(os.Stderr, "no changes")
				}

				return nil
			}))
		},
	}
	putCmd.Flags().StringVarP(&flags.url, "url", "", flags.url, "Upstream URL (remotes)")
	putCmd.Flags().StringArrayVarP(&flags.members, "member", "m", flags.members, "Member store key, in priority order (groups)")
	putCmd.Flags().StringArrayVarP(&flags.pathMasks, "path-mask", "", flags.pathMasks, "Path prefix or r/<regex>/ the remote may serve")
	putCmd.Flags().StringArrayVarP(&flags.metadata, "meta", "", flags.metadata, "Metadata as key=value")
	putCmd.Flags().BoolVarP(&flags.disabled, "disabled", "", flags.disabled, "Store doesn't serve content")
	cmd.AddCommand(putCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Shows a store",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				key, err := paktypes.ParseStoreKey(args[0])
				if err != nil {
					return err
				}

				store, err := app.Catalog.Get(ctx, key)
				if err != nil {
					return err
				}

				return printJson(store)
			}))
		},
	})

	storeType := ""

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "Lists stores",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				var stores []paktypes.ArtifactStore
				var err error
				if storeType != "" {
					stores, err = app.Catalog.Query(ctx, paktypes.StoreType(storeType))
				} else {
					stores, err = app.Catalog.All(ctx)
				}
				if err != nil {
					return err
				}

				printTable([]string{"Key", "Disabled", "URL / members"}, storeRows(stores))

				return nil
			}))
		},
	}
	lsCmd.Flags().StringVarP(&storeType, "type", "t", storeType, "hosted | remote | group")
	cmd.AddCommand(lsCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [key]",
		Short: "Removes a store",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				key, err := paktypes.ParseStoreKey(args[0])
				if err != nil {
					return err
				}

				return app.Catalog.Delete(ctx, key, paktypes.Changed(currentUser(), "store rm"))
			}))
		},
	})

	return cmd
}

func groupEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Group membership",
	}

	concreteOnly := false

	resolveCmd := &cobra.Command{
		Use:   "resolve [groupKey]",
		Short: "Lists the group's members recursively, in lookup order",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				key, err := paktypes.ParseStoreKey(args[0])
				if err != nil {
					return err
				}

				resolve := app.Resolver.ResolveOrdered
				if concreteOnly {
					resolve = app.Resolver.ResolveOrderedConcrete
				}

				members, err := resolve(ctx, key)
				if err != nil {
					return err
				}

				rows := [][]string{}
				for i, member := range members {
					rows = append(rows, []string{fmt.Sprintf("%d", i+1), member.StoreKey().String(), boolToStr(member.IsDisabled())})
				}

				printTable([]string{"#", "Key", "Disabled"}, rows)

				return nil
			}))
		},
	}
	resolveCmd.Flags().BoolVarP(&concreteOnly, "concrete", "c", concreteOnly, "Leave out nested groups")
	cmd.AddCommand(resolveCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "first-match [groupKey] [path]",
		Short: "Shows which member serves the path",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				key, err := paktypes.ParseStoreKey(args[0])
				if err != nil {
					return err
				}

				store, err := app.Resolver.FirstMatch(ctx, key, args[1], app.Content)
				if err != nil {
					return err
				}

				fmt.Println(store.StoreKey().String())

				return nil
			}))
		},
	})

	return cmd
}

func contentEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Store content",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "put [storeKey] [path] [file]",
		Short: "Uploads a file into a hosted store",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				key, err := paktypes.ParseStoreKey(args[0])
				if err != nil {
					return err
				}

				implied, err := uploadContent(ctx, app, key, args[1], args[2])
				if err != nil {
					return err
				}

				if len(implied) > 0 {
					fmt.Fprintf(os.Stderr, "implies: %s\n", paktypes.FormatStoreKeyList(implied))
				}

				return nil
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ls [storeKey]",
		Short: "Lists a store's paths",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				key, err := paktypes.ParseStoreKey(args[0])
				if err != nil {
					return err
				}

				paths, err := app.Content.ListAll(ctx, key)
				if err != nil {
					return err
				}

				for _, p := range paths {
					fmt.Println(p)
				}

				return nil
			}))
		},
	})

	return cmd
}

func rulesetEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ruleset",
		Short: "Promotion validation rule sets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "put [file.json]",
		Short: "Creates or replaces a rule set",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				ruleSet := paktypes.RuleSet{}
				if err := jsonfile.Read(args[0], &ruleSet, true); err != nil {
					return err
				}

				if err := checkRuleSet(ruleSet, pakvalidation.DefaultRegistry()); err != nil {
					return err
				}

				return app.Catalog.PutRuleSet(ctx, ruleSet)
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "Lists rule sets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				ruleSets, err := app.Catalog.RuleSets(ctx)
				if err != nil {
					return err
				}

				printTable([]string{"Name", "Store key pattern", "Rules"}, ruleSetRows(ruleSets))

				return nil
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [name]",
		Short: "Removes a rule set",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				return app.Catalog.DeleteRuleSet(ctx, args[0])
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rules",
		Short: "Lists the rules rule sets can refer to",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range pakvalidation.DefaultRegistry().Names() {
				fmt.Println(name)
			}
		},
	})

	return cmd
}

func impliedEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "implied",
		Short: "Implied repositories",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "maintain [groupKey]",
		Short: "Adds the stores the group's members imply (all groups if not given)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				if len(args) == 0 {
					return app.Maintainer.RunAll(ctx)
				}

				key, err := paktypes.ParseStoreKey(args[0])
				if err != nil {
					return err
				}

				added, err := app.Maintainer.MaintainImpliedRepos(ctx, key)
				if err != nil {
					return err
				}

				for _, member := range added {
					fmt.Println(member.String())
				}

				return nil
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "scan [storeKey] [path]",
		Short: "Looks for repository declarations in a stored descriptor",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withApp(func(ctx context.Context, app *pakserver.App) error {
				key, err := paktypes.ParseStoreKey(args[0])
				if err != nil {
					return err
				}

				if !pakimplied.IsDescriptor(args[1]) {
					return fmt.Errorf("not a descriptor: %s", args[1])
				}

				implied, err := app.Detector.OnDescriptorStored(ctx, key, args[1])
				if err != nil {
					return err
				}

				for _, member := range implied {
					fmt.Println(member.String())
				}

				return nil
			}))
		},
	})

	return cmd
}

// opens the catalog and content store as configured in config.json. a running server
// holds the DB lock, in which case opening times out
func withApp(fn func(ctx context.Context, app *pakserver.App) error) error {
	logger := logex.StandardLogger()

	ctx := osutil.CancelOnInterruptOrTerminate(logger)

	scf, err := pakserver.ReadServerConfigFile()
	if err != nil {
		return err
	}

	app, err := pakserver.OpenApp(ctx, scf, nil, logex.Prefix("pakka", logger))
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

func currentUser() string {
	if current, err := user.Current(); err == nil {
		return current.Username
	}
	return "admin"
}
