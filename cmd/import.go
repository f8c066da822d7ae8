package main

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fernwood/orderdesk/internal/ingest"
	"github.com/fernwood/orderdesk/internal/model"
)

var (
	importProductsPath string
	importEmailsPath   string
	importSheet        string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the product catalog and email sheets into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if importProductsPath == "" && importEmailsPath == "" {
			return eris.New("nothing to import: pass --products and/or --emails")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if importProductsPath != "" {
			entries, err := loadProducts(importProductsPath)
			if err != nil {
				return err
			}
			n, err := st.ImportCatalog(ctx, entries)
			if err != nil {
				return err
			}
			zap.L().Info("catalog imported",
				zap.Int("products", n),
				zap.String("path", importProductsPath))
		}

		if importEmailsPath != "" {
			emails, err := loadEmails(importEmailsPath)
			if err != nil {
				return err
			}
			n, err := st.ImportEmails(ctx, emails)
			if err != nil {
				return err
			}
			zap.L().Info("emails imported",
				zap.Int("emails", n),
				zap.String("path", importEmailsPath))
		}

		return nil
	},
}

func loadProducts(path string) ([]model.CatalogEntry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ingest.ReadProductsXLSX(path, importSheet)
	case ".csv":
		return ingest.ReadProductsCSV(path)
	default:
		return nil, eris.Errorf("unsupported catalog file type: %s", path)
	}
}

func loadEmails(path string) ([]model.Email, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ingest.ReadEmailsXLSX(path, importSheet)
	case ".csv":
		return ingest.ReadEmailsCSV(path)
	default:
		return nil, eris.Errorf("unsupported email file type: %s", path)
	}
}

func init() {
	importCmd.Flags().StringVar(&importProductsPath, "products", "", "path to product catalog (xlsx or csv)")
	importCmd.Flags().StringVar(&importEmailsPath, "emails", "", "path to email sheet (xlsx or csv)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "sheet name override for xlsx files")
	rootCmd.AddCommand(importCmd)
}
