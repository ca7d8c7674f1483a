package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var seedForce bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a sample catalog",
	Long: `Applies the schema, then inserts sample categories and products.
Does nothing when products already exist unless --force is given.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.Migrate(cmd.Context(), db); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		return seedCatalog(cmd.Context(), &catalog.Repo{DB: db}, cmd.OutOrStdout(), seedForce)
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().BoolVar(&seedForce, "force", false, "Seed even if products already exist")
}

type catalogWriter interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	CreateCategory(ctx context.Context, name string) (int64, error)
	CreateProduct(ctx context.Context, in catalog.NewProduct) (int64, error)
}

type sampleProduct struct {
	category    string
	name        string
	description string
	price       string
	stock       int
}

var sampleCatalog = []sampleProduct{
	{"Kitchen", "Stoneware Mug", "350 ml mug, dishwasher safe", "12.50", 40},
	{"Kitchen", "Pour-over Kettle", "Gooseneck kettle, 1 l", "39.00", 8},
	{"Kitchen", "Bamboo Cutting Board", "Large board with juice groove", "24.90", 2},
	{"Apparel", "Canvas Tote", "Heavy cotton tote bag", "18.00", 25},
	{"Apparel", "Wool Beanie", "Merino wool, one size", "22.00", 0},
	{"Stationery", "Dot Grid Notebook", "A5, 160 pages", "14.00", 60},
	{"Stationery", "Brass Pen", "Refillable ballpoint", "32.00", 3},
}

func seedCatalog(ctx context.Context, store catalogWriter, out io.Writer, force bool) error {
	existing, err := store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}
	if len(existing) > 0 && !force {
		fmt.Fprintf(out, "catalog already has %d products, skipping (use --force)\n", len(existing))
		return nil
	}

	categories := map[string]int64{}
	for _, p := range sampleCatalog {
		catID, ok := categories[p.category]
		if !ok {
			catID, err = store.CreateCategory(ctx, p.category)
			if err != nil {
				return fmt.Errorf("failed to create category %q: %w", p.category, err)
			}
			categories[p.category] = catID
		}
		id, err := store.CreateProduct(ctx, catalog.NewProduct{
			Name:        p.name,
			Description: p.description,
			Price:       decimal.RequireFromString(p.price),
			Stock:       p.stock,
			CategoryID:  &catID,
		})
		if err != nil {
			return fmt.Errorf("failed to create product %q: %w", p.name, err)
		}
		fmt.Fprintf(out, "  + %-22s #%d (stock %d)\n", p.name, id, p.stock)
	}
	fmt.Fprintf(out, "seeded %d categories and %d products\n", len(categories), len(sampleCatalog))
	return nil
}
