package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kijani-supplies/order-desk/internal/model"
)

var seedFile string

// seedData is the catalog file layout: a product list and optionally the
// known customers with their pricing tiers.
type seedData struct {
	Products  []model.Product  `yaml:"products"`
	Customers []model.Customer `yaml:"customers"`
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the product catalog and customers from YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(seedFile)
		if err != nil {
			return eris.Wrap(err, "read seed file")
		}
		var data seedData
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return eris.Wrap(err, "parse seed file")
		}
		if len(data.Products) == 0 && len(data.Customers) == 0 {
			return eris.New("seed file has no products or customers")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if len(data.Products) > 0 {
			if err := st.SeedProducts(ctx, data.Products); err != nil {
				return err
			}
		}
		for _, customer := range data.Customers {
			if customer.Tier == "" {
				customer.Tier = model.TierStandard
			}
			if err := st.UpsertCustomer(ctx, customer); err != nil {
				return eris.Wrapf(err, "upsert customer %q", customer.Name)
			}
		}

		zap.L().Info("seed complete",
			zap.String("file", seedFile),
			zap.Int("products", len(data.Products)),
			zap.Int("customers", len(data.Customers)),
		)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "catalog.yaml", "seed YAML file")
	rootCmd.AddCommand(seedCmd)
}
