package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joao-fontenele/storefront-orders/internal/config"
	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/inventory"
)

type catalogFile struct {
	Products []catalogEntry `yaml:"products"`
}

type catalogEntry struct {
	ID     string `yaml:"id"`
	Title  string `yaml:"title"`
	Price  string `yaml:"price"`
	Stock  int    `yaml:"stock"`
	Active *bool  `yaml:"active"`
}

func seedCmd(logger *slog.Logger, cfg *config.Migrate) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert products from a YAML catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer func() { _ = f.Close() }()

			products, err := parseCatalog(f)
			if err != nil {
				return err
			}

			db, err := sql.Open("postgres", cfg.PostgresURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			return seed(cmd.Context(), inventory.NewProductRepository(db), products, logger)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed/catalog.yaml", "Catalog file path (YAML)")
	return cmd
}

func parseCatalog(r io.Reader) ([]domain.Product, error) {
	var doc catalogFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]bool, len(doc.Products))
	products := make([]domain.Product, 0, len(doc.Products))
	for i, entry := range doc.Products {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog entry %d: missing id", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("catalog entry %d: duplicate id %q", i, id)
		}
		seen[id] = true

		price, err := decimal.NewFromString(entry.Price)
		if err != nil {
			return nil, fmt.Errorf("product %s: invalid price %q: %w", id, entry.Price, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("product %s: price must not be negative", id)
		}
		if entry.Stock < 0 {
			return nil, fmt.Errorf("product %s: stock must not be negative", id)
		}

		products = append(products, domain.Product{
			ID:       id,
			Title:    entry.Title,
			Price:    price,
			Stock:    entry.Stock,
			IsActive: entry.Active == nil || *entry.Active,
		})
	}

	return products, nil
}

type productUpserter interface {
	UpsertProduct(ctx context.Context, p domain.Product) error
}

func seed(ctx context.Context, repo productUpserter, products []domain.Product, logger *slog.Logger) error {
	for _, p := range products {
		if err := repo.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
		logger.Info("product seeded", slog.String("id", p.ID), slog.Int("stock", p.Stock))
	}
	logger.Info("catalog seeded", slog.Int("products", len(products)))
	return nil
}
