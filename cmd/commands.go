package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/meghashyamc/doccatalog/api"
	"github.com/meghashyamc/doccatalog/api/handlers"
	"github.com/meghashyamc/doccatalog/config"
	"github.com/meghashyamc/doccatalog/services/index"
	"github.com/meghashyamc/doccatalog/services/search"
	"github.com/meghashyamc/doccatalog/services/watch"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type rootOptions struct {
	env     string
	catalog string
	source  string
}

// newRootCmd returns the command tree and a function that releases whatever
// the executed command opened.
func newRootCmd() (*cobra.Command, func() error) {
	var opts rootOptions
	var a *app

	cmd := &cobra.Command{
		Use:           "doccatalog",
		Short:         "Build and query a local full-text catalog of documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.env)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if opts.catalog != "" {
				cfg.Set("CATALOG_PATH", opts.catalog)
			}
			if opts.source != "" {
				cfg.Set("SOURCE_PATH", opts.source)
			}

			a, err = newApp(cmd.Context(), cfg)
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&opts.env, "env", "", "Configuration environment (config/config.<env>.yaml)")
	cmd.PersistentFlags().StringVar(&opts.catalog, "catalog", "", "Directory holding the search_index_db store")
	cmd.PersistentFlags().StringVar(&opts.source, "source", "", "Directory tree to index")

	getApp := func() *app { return a }
	cmd.AddCommand(newServeCmd(getApp), newIndexCmd(getApp), newSearchCmd(getApp))

	closeApp := func() error {
		if a == nil {
			return nil
		}
		return a.Close()
	}

	return cmd, closeApp
}

func newServeCmd(getApp func() *app) *cobra.Command {
	var watchSource bool
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			if port == "" {
				port = a.cfg.GetPort()
			}

			var watcher *watch.Watcher
			if watchSource {
				rc := a.runContext()
				if rc.CatalogPath == "" || rc.SourcePath == "" {
					return errors.New("--watch needs a catalog and a source path")
				}
				watcher = watch.New(a.logger, a.indexer, rc, watch.Options{
					Debounce:   time.Duration(a.cfg.GetWatchDebounceMillis()) * time.Millisecond,
					Extensions: a.cfg.GetExtensions(),
					SkipHidden: a.cfg.GetSkipHidden(),
				})
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return api.Run(ctx, a.logger, port, api.Dependencies{
					Indexer:  a.indexer,
					Searcher: a.searcher,
					Defaults: handlers.Defaults{CatalogPath: a.cfg.GetCatalogPath(), SourcePath: a.cfg.GetSourcePath()},
				})
			})
			if watcher != nil {
				g.Go(func() error { return watcher.Run(ctx) })
			}

			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&watchSource, "watch", false, "Re-index the source tree when it changes")
	cmd.Flags().StringVar(&port, "port", "", "Port to listen on")

	return cmd
}

func newIndexCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Bring the catalog up to date with the source tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()

			events, unsubscribe := a.indexer.Subscribe()
			defer unsubscribe()

			runID, err := a.indexer.Start(cmd.Context(), a.runContext())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexing run %s started\n", runID)

			for {
				select {
				case event := <-events:
					if event.RunID != runID || !event.Terminal() {
						continue
					}
					c := event.Counters
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d files seen, %d updated, %d unchanged, %d failed, %d removed\n",
						event.Type, c.Processed, c.Updated, c.Skipped, c.Failed, c.Removed)
					if event.Type == index.EventFailed {
						return errors.New(event.Error)
					}
					return nil
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
			}
		},
	}
}

func newSearchCmd(getApp func() *app) *cobra.Command {
	var sortBy string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search the catalog",
		Long: `Search the catalog content.

A term without * or ? matches every word as a substring. A term with
wildcards is passed to the query parser as is.

Examples:
  doccatalog search invoice --catalog /data/catalog
  doccatalog search "quarter report" --sort modified
  doccatalog search "inv*" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()

			sortKey, err := search.ParseSortKey(sortBy)
			if err != nil {
				return err
			}

			resultSet, err := a.searcher.Search(cmd.Context(), a.cfg.GetCatalogPath(), strings.Join(args, " "), sortKey)
			if err != nil {
				return err
			}

			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(resultSet)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, result := range resultSet.Results {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", result.Title, result.Size, result.ModTime.Local().Format(time.DateTime), result.Path)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d results\n", resultSet.Len())
			return nil
		},
	}

	cmd.Flags().StringVar(&sortBy, "sort", "", fmt.Sprintf("Sort by one of %v (default relevance)", search.SortKeys))
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}
