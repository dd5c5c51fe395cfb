package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

// seedDoc is the dev catalog fixture shape.
type seedDoc struct {
	Products []seedProduct `yaml:"products"`
	Vendors  []seedVendor  `yaml:"vendors"`
	Offers   []seedOffer   `yaml:"offers"`
}

type seedProduct struct {
	ID            string   `yaml:"id"`
	CanonicalName string   `yaml:"canonical_name"`
	Aliases       []string `yaml:"aliases"`
	Unit          string   `yaml:"unit"`
	Category      string   `yaml:"category"`
}

type seedVendor struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	Active          bool    `yaml:"active"`
	WorkingHoursBeg int     `yaml:"working_hours_beg"`
	WorkingHoursEnd int     `yaml:"working_hours_end"`
	ServiceRadiusKM float64 `yaml:"service_radius_km"`
	Lat             float64 `yaml:"lat"`
	Lon             float64 `yaml:"lon"`
}

type seedOffer struct {
	VendorID  string  `yaml:"vendor_id"`
	ProductID string  `yaml:"product_id"`
	Price     float64 `yaml:"price"`
	Stock     float64 `yaml:"stock"`
	Available bool    `yaml:"available"`
}

// seedCatalog loads products, vendors and offers from a YAML fixture.
// Idempotent: rows are upserted by id, so re-running against a seeded
// database converges instead of duplicating.
func seedCatalog(ctx context.Context, pool *pgxpool.Pool, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("op=seed: %w", err)
	}
	var doc seedDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("op=seed: yaml parse: %w", err)
	}

	for _, p := range doc.Products {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CanonicalName == "" {
			return fmt.Errorf("op=seed: product %s has no canonical_name", p.ID)
		}
		sv := strings.ToLower(strings.Join(append([]string{p.CanonicalName}, p.Aliases...), " "))
		_, err := pool.Exec(ctx, `
			INSERT INTO products (id, canonical_name, aliases, unit, category, search_vector)
			VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), $6)
			ON CONFLICT (id) DO UPDATE SET
				canonical_name = EXCLUDED.canonical_name,
				aliases = EXCLUDED.aliases,
				unit = EXCLUDED.unit,
				category = EXCLUDED.category,
				search_vector = EXCLUDED.search_vector`,
			p.ID, p.CanonicalName, p.Aliases, p.Unit, p.Category, sv)
		if err != nil {
			return fmt.Errorf("op=seed: product %s: %w", p.ID, err)
		}
	}

	for _, v := range doc.Vendors {
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO vendors (id, name, active, working_hours_beg, working_hours_end, service_radius_km, lat, lon)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				active = EXCLUDED.active,
				working_hours_beg = EXCLUDED.working_hours_beg,
				working_hours_end = EXCLUDED.working_hours_end,
				service_radius_km = EXCLUDED.service_radius_km,
				lat = EXCLUDED.lat,
				lon = EXCLUDED.lon`,
			v.ID, v.Name, v.Active, v.WorkingHoursBeg, v.WorkingHoursEnd, v.ServiceRadiusKM, v.Lat, v.Lon)
		if err != nil {
			return fmt.Errorf("op=seed: vendor %s: %w", v.ID, err)
		}
	}

	for _, o := range doc.Offers {
		_, err := pool.Exec(ctx, `
			INSERT INTO vendor_products (vendor_id, product_id, price, stock, available)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (vendor_id, product_id) DO UPDATE SET
				price = EXCLUDED.price,
				stock = EXCLUDED.stock,
				available = EXCLUDED.available`,
			o.VendorID, o.ProductID, o.Price, o.Stock, o.Available)
		if err != nil {
			return fmt.Errorf("op=seed: offer %s/%s: %w", o.VendorID, o.ProductID, err)
		}
	}

	slog.Info("catalog seeded",
		slog.Int("products", len(doc.Products)),
		slog.Int("vendors", len(doc.Vendors)),
		slog.Int("offers", len(doc.Offers)))
	return nil
}
