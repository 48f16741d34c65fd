// cmd/amitrigger/testfilter.go
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/colebrumley/amitrigger/internal/ami"
	"github.com/colebrumley/amitrigger/internal/catalog"
	"github.com/colebrumley/amitrigger/internal/config"
)

type testFilterOptions struct {
	region       string
	profile      string
	name         string
	description  string
	architecture string
	ownerAlias   string
	ownerID      string
	productCode  string
	tags         string
	shared       string
}

func (o *testFilterOptions) filter() ami.Filter {
	return ami.Filter{
		Architecture: ami.ParseChoice(o.architecture),
		Description:  o.description,
		Name:         o.name,
		OwnerAlias:   ami.ParseChoice(o.ownerAlias),
		OwnerID:      o.ownerID,
		ProductCode:  o.productCode,
		Tags:         o.tags,
		Shared:       ami.ParseChoice(o.shared),
	}
}

func (o *testFilterOptions) hasFilter() bool {
	return o.name != "" || o.description != "" || o.architecture != "" || o.ownerAlias != "" ||
		o.ownerID != "" || o.productCode != "" || o.tags != "" || o.shared != ""
}

func newTestFilterCmd(c *cli) *cobra.Command {
	var opts testFilterOptions
	cmd := &cobra.Command{
		Use:   "test-filter [trigger]",
		Short: "Show the newest images a filter matches",
		Long: `Query EC2 once and list the newest images matching a filter. Nothing is
recorded and no action runs.

With a trigger name and no filter flags, every filter of that definition is
queried. Filter flags build a single filter; a trigger name then only
supplies the region and credentials.`,
		Example: `  amitrigger test-filter base-image-rebuild
  amitrigger test-filter --name "al2023-ami-*" --owner-alias amazon --architecture arm64
  amitrigger test-filter --tags "Project=jenkins;Owner=hudson" --profile ami-reader`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTestFilter(cmd, args, &opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.region, "region", "", "AWS region (overrides the trigger and config)")
	f.StringVar(&opts.profile, "profile", "", "AWS shared-config profile (overrides the trigger and config)")
	f.StringVar(&opts.name, "name", "", "image name pattern, * and ? wildcards allowed")
	f.StringVar(&opts.description, "description", "", "image description pattern")
	f.StringVar(&opts.architecture, "architecture", "", "i386, x86_64, arm64 or any")
	f.StringVar(&opts.ownerAlias, "owner-alias", "", "amazon, aws-marketplace, self or any")
	f.StringVar(&opts.ownerID, "owner-id", "", "owning AWS account ID")
	f.StringVar(&opts.productCode, "product-code", "", "marketplace product code")
	f.StringVar(&opts.tags, "tags", "", "tag filter, key=value;key=value")
	f.StringVar(&opts.shared, "shared", "", "true, false or any")
	return cmd
}

func (c *cli) runTestFilter(cmd *cobra.Command, args []string, opts *testFilterOptions) error {
	cfg, err := c.loadGlobal()
	if err != nil {
		return err
	}

	def := &config.TriggerDef{}
	if len(args) == 1 {
		def, err = c.findTrigger(args[0])
		if err != nil {
			return err
		}
	}

	var filters []ami.Filter
	switch {
	case opts.hasFilter():
		filters = []ami.Filter{opts.filter()}
	case len(args) == 1:
		filters = def.Filters
	default:
		return fmt.Errorf("give a trigger name or at least one of --name, --description or --tags")
	}
	for i, f := range filters {
		if err := config.ValidateFilter(f); err != nil {
			return fmt.Errorf("filter %d: %w", i+1, err)
		}
	}

	cc := catalog.ConfigFor(cfg, def)
	if opts.region != "" {
		cc.Region = opts.region
	}
	if opts.profile != "" {
		cc.Profile = opts.profile
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cat, err := c.catalogPool(cmd.ErrOrStderr()).Get(ctx, cc)
	if err != nil {
		return fmt.Errorf("creating catalog client: %w", err)
	}

	previews, err := previewAll(ctx, cat, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Region %s\n", cc.Region)
	for i, p := range previews {
		if len(previews) > 1 {
			fmt.Fprintf(out, "\nFilter %d:\n", i+1)
		}
		fmt.Fprint(out, p.Summary())
	}
	return nil
}

// previewAll runs the filters concurrently and returns their previews in
// filter order.
func previewAll(ctx context.Context, cat ami.Catalog, filters []ami.Filter) ([]*ami.Preview, error) {
	previews := make([]*ami.Preview, len(filters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, f := range filters {
		g.Go(func() error {
			p, err := ami.PreviewFilter(gctx, cat, f)
			if err != nil {
				return fmt.Errorf("filter %d: %w", i+1, err)
			}
			previews[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return previews, nil
}

func (c *cli) findTrigger(name string) (*config.TriggerDef, error) {
	defs, _, err := config.LoadTriggersDir(c.triggersDir())
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if def.Name == name {
			return def, nil
		}
	}
	return nil, fmt.Errorf("trigger %q not found or invalid", name)
}
