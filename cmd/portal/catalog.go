package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
	"github.com/portal-pesantren/portal-sub001/pkg/platform"
)

func getSearchCmd(o *rootOptions) *cobra.Command {
	var (
		location   string
		programs   []string
		facilities []string
		minRating  float64
		maxFees    int64
	)

	cmd := &cobra.Command{
		Use:   "search [text...]",
		Short: "Search pesantren by name, location or program",
		Long: `Search pesantren by free text and filters. When the backend cannot be
reached, listings fetched by earlier commands (kept in dataset.file by
default) are filtered locally and a notice is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := pesantren.Query{Text: strings.Join(args, " "), Filters: pesantren.NewFilters()}
			q.Filters.Location = location
			q.Filters.Programs.Append(programs...)
			q.Filters.Facilities.Append(facilities...)
			if cmd.Flags().Changed("min-rating") {
				q.Filters.MinRating = &minRating
			}
			if cmd.Flags().Changed("max-fees") {
				q.Filters.MaxFees = &maxFees
			}

			return o.withPlatform(cmd.Context(), func(p *platform.Platform) error {
				res, err := p.Search().Resolve(cmd.Context(), q)
				if err != nil {
					return err
				}
				if res.Notice != "" {
					cmd.PrintErrln(res.Notice)
				}
				return o.printListings(cmd.OutOrStdout(), res.Items)
			})
		},
	}

	cmd.Flags().StringVar(&location, "location", "", "location substring")
	cmd.Flags().StringSliceVar(&programs, "program", nil, "program, repeatable; any match")
	cmd.Flags().StringSliceVar(&facilities, "facility", nil, "facility, repeatable; all must match")
	cmd.Flags().Float64Var(&minRating, "min-rating", 0, "minimum rating")
	cmd.Flags().Int64Var(&maxFees, "max-fees", 0, "maximum monthly fee in rupiah")
	return cmd
}

func getListCmd(o *rootOptions) *cobra.Command {
	var params pesantren.ListParams

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pesantren page by page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withPlatform(cmd.Context(), func(p *platform.Platform) error {
				var (
					page pesantren.Page
					err  error
				)
				switch {
				case params.Province != "":
					page, err = p.Catalog().ByProvince(cmd.Context(), params.Province, params)
				case params.Program != "":
					page, err = p.Catalog().ByProgram(cmd.Context(), params.Program, params)
				default:
					page, err = p.Catalog().List(cmd.Context(), params)
				}
				if err != nil {
					return err
				}
				return o.printPage(cmd.OutOrStdout(), page)
			})
		},
	}

	cmd.Flags().IntVar(&params.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&params.Limit, "limit", 10, "listings per page")
	cmd.Flags().StringVar(&params.Search, "query", "", "free-text filter")
	cmd.Flags().StringVar(&params.Province, "province", "", "province")
	cmd.Flags().StringVar(&params.Program, "program", "", "program")
	cmd.Flags().StringVar(&params.Sort, "sort", "", "sort order (rating, name, students, newest)")
	return cmd
}

func getGetCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one pesantren",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withPlatform(cmd.Context(), func(p *platform.Platform) error {
				item, err := p.Catalog().Detail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return o.printPesantren(cmd.OutOrStdout(), item)
			})
		},
	}
}

func getFeaturedCmd(o *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "featured",
		Short: "List featured pesantren",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withPlatform(cmd.Context(), func(p *platform.Platform) error {
				items, err := p.Catalog().Featured(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return o.printListings(cmd.OutOrStdout(), items)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum listings, 0 for the backend default")
	return cmd
}

func getPopularCmd(o *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "popular",
		Short: "List the pesantren with the most students",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withPlatform(cmd.Context(), func(p *platform.Platform) error {
				items, err := p.Catalog().Popular(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return o.printListings(cmd.OutOrStdout(), items)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum listings, 0 for the backend default")
	return cmd
}

func getStatsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show directory statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withPlatform(cmd.Context(), func(p *platform.Platform) error {
				stats, err := p.Catalog().Stats(cmd.Context())
				if err != nil {
					return err
				}
				return o.printStats(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func getAboutCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "about",
		Short: "Show the about page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withPlatform(cmd.Context(), func(p *platform.Platform) error {
				about, err := p.Catalog().About(cmd.Context())
				if err != nil {
					return err
				}
				return o.printAbout(cmd.OutOrStdout(), about)
			})
		},
	}
}
