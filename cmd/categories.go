package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/ingest"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Manage the crime category table",
}

var categoriesFile string

var categoriesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write crime categories and harm weights to the store",
	Long:  "Seeds categories from --file (or categories.file), falling back to the built-in police.uk table.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path := categoriesFile
		if path == "" {
			path = cfg.Categories.File
		}
		cats, err := ingest.LoadCategories(path)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertCategories(ctx, cats)
		if err != nil {
			return err
		}
		zap.L().Info("categories seeded", zap.Int64("rows", n), zap.String("source", sourceName(path)))
		return nil
	},
}

var categoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the category table in effect",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		table, _, err := loadCategories(ctx, st)
		if err != nil {
			return err
		}
		printCategories(table)
		return nil
	},
}

func printCategories(table *grid.CategoryTable) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tHARM\tPERSONAL\tPROPERTY")
	for _, c := range table.All() {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%t\t%t\n", c.ID, c.Name, c.HarmWeight, c.IsPersonal, c.IsProperty)
	}
	_ = tw.Flush()
}

func sourceName(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

func init() {
	categoriesSeedCmd.Flags().StringVar(&categoriesFile, "file", "", "YAML category table (default from config)")
	categoriesCmd.AddCommand(categoriesSeedCmd, categoriesListCmd)
	rootCmd.AddCommand(categoriesCmd)
}
