package postgres

import (
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// CatalogRepo is the read-only product lookup behind normalization. Fuzzy
// matching runs in Postgres via pg_trgm over the precomputed search_vector.
type CatalogRepo struct{ Pool PgxPool }

// NewCatalogRepo constructs a CatalogRepo with the given pool.
func NewCatalogRepo(p PgxPool) *CatalogRepo { return &CatalogRepo{Pool: p} }

const productColumns = `id, canonical_name, aliases, COALESCE(unit,''), COALESCE(category,'')`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.CanonicalName, &p.Aliases, &p.Unit, &p.Category)
	return p, err
}

// FindExact matches the lowercased name key against the canonical name or
// any alias, case-insensitively.
func (r *CatalogRepo) FindExact(ctx domain.Context, nameKey string) (domain.Product, bool, error) {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.FindExact")
	defer span.End()

	q := `SELECT ` + productColumns + ` FROM products
		WHERE lower(canonical_name) = $1
		   OR EXISTS (SELECT 1 FROM unnest(aliases) alias WHERE lower(alias) = $1)
		LIMIT 1`
	p, err := scanProduct(r.Pool.QueryRow(ctx, q, nameKey))
	if err != nil {
		if notFound(err) {
			return domain.Product{}, false, nil
		}
		return domain.Product{}, false, fmt.Errorf("op=catalog.exact: %w", err)
	}
	return p, true, nil
}

// FindPattern returns the best substring/prefix candidate: either the name
// key contains a catalog name or alias, or the other way around. Per product
// the shortest matching token counts, and shorter tokens win ties across
// products so "rice" beats "rice flour premium" for the key "rice".
func (r *CatalogRepo) FindPattern(ctx domain.Context, nameKey string) (domain.PatternCandidate, bool, error) {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.FindPattern")
	defer span.End()

	q := `SELECT ` + productColumns + `, t.token FROM products p
		CROSS JOIN LATERAL (
			SELECT lower(token) AS token
			FROM unnest(array_append(p.aliases, p.canonical_name)) AS token
			WHERE position($1 in lower(token)) > 0
			   OR position(lower(token) in $1) > 0
			ORDER BY char_length(token)
			LIMIT 1
		) t
		ORDER BY char_length(t.token)
		LIMIT 1`
	var c domain.PatternCandidate
	var token string
	row := r.Pool.QueryRow(ctx, q, nameKey)
	err := row.Scan(&c.Product.ID, &c.Product.CanonicalName, &c.Product.Aliases, &c.Product.Unit, &c.Product.Category, &token)
	if err != nil {
		if notFound(err) {
			return domain.PatternCandidate{}, false, nil
		}
		return domain.PatternCandidate{}, false, fmt.Errorf("op=catalog.pattern: %w", err)
	}
	c.NameLen = len(token)
	c.MatchLen = len(nameKey)
	if c.NameLen < c.MatchLen {
		c.MatchLen = c.NameLen
	}
	return c, true, nil
}

// FindFuzzy returns the top trigram-similarity candidates for the key.
func (r *CatalogRepo) FindFuzzy(ctx domain.Context, nameKey string, limit int) ([]domain.FuzzyCandidate, error) {
	tracer := otel.Tracer("repo.catalog")
	ctx, span := tracer.Start(ctx, "catalog.FindFuzzy")
	defer span.End()

	q := `SELECT ` + productColumns + `, similarity(search_vector, $1) AS sim FROM products
		WHERE search_vector % $1
		ORDER BY sim DESC, id
		LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, nameKey, limit)
	if err != nil {
		return nil, fmt.Errorf("op=catalog.fuzzy: %w", err)
	}
	defer rows.Close()
	var out []domain.FuzzyCandidate
	for rows.Next() {
		var c domain.FuzzyCandidate
		if err := rows.Scan(&c.Product.ID, &c.Product.CanonicalName, &c.Product.Aliases, &c.Product.Unit, &c.Product.Category, &c.Similarity); err != nil {
			return nil, fmt.Errorf("op=catalog.fuzzy: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=catalog.fuzzy: %w", err)
	}
	return out, nil
}

// VendorCatalogRepo serves vendor/offer lookups for the selector.
type VendorCatalogRepo struct{ Pool PgxPool }

// NewVendorCatalogRepo constructs a VendorCatalogRepo with the given pool.
func NewVendorCatalogRepo(p PgxPool) *VendorCatalogRepo { return &VendorCatalogRepo{Pool: p} }

// OffersFor lists every vendor carrying the product, joined with its
// price/stock row. Eligibility filtering happens in the selector.
func (r *VendorCatalogRepo) OffersFor(ctx domain.Context, productID string) ([]domain.VendorOffer, error) {
	tracer := otel.Tracer("repo.vendors")
	ctx, span := tracer.Start(ctx, "vendors.OffersFor")
	defer span.End()

	q := `SELECT v.id, v.active, COALESCE(v.working_hours_beg,-1), COALESCE(v.working_hours_end,-1),
		COALESCE(v.service_radius_km,0), COALESCE(v.lat,0), COALESCE(v.lon,0),
		vp.price, vp.stock, vp.available, COALESCE(vp.last_restocked_at,'epoch'::timestamptz)
		FROM vendor_products vp
		JOIN vendors v ON v.id = vp.vendor_id
		WHERE vp.product_id = $1
		ORDER BY v.id`
	rows, err := r.Pool.Query(ctx, q, productID)
	if err != nil {
		return nil, fmt.Errorf("op=vendors.offers: %w", err)
	}
	defer rows.Close()
	var out []domain.VendorOffer
	for rows.Next() {
		var o domain.VendorOffer
		o.Product.ProductID = productID
		err := rows.Scan(&o.Vendor.ID, &o.Vendor.Active, &o.Vendor.WorkingHoursBeg, &o.Vendor.WorkingHoursEnd,
			&o.Vendor.ServiceRadiusKM, &o.Vendor.Lat, &o.Vendor.Lon,
			&o.Product.Price, &o.Product.Stock, &o.Product.Available, &o.Product.LastRestockedAt)
		if err != nil {
			return nil, fmt.Errorf("op=vendors.offers: %w", err)
		}
		o.Product.VendorID = o.Vendor.ID
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=vendors.offers: %w", err)
	}
	return out, nil
}

// CachedCatalog is a read-through TTL cache over a Catalog. Readers tolerate
// stale catalog data within the TTL window.
type CachedCatalog struct {
	inner domain.Catalog
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	exact   map[string]cachedExact
	pattern map[string]cachedPattern
}

type cachedExact struct {
	p  domain.Product
	ok bool
	at time.Time
}

type cachedPattern struct {
	c  domain.PatternCandidate
	ok bool
	at time.Time
}

// NewCachedCatalog wraps inner with a TTL cache on the exact and pattern
// lookups. Fuzzy queries always hit the database; pg_trgm already bounds
// their cost and caching per-key misses would just hoard garbage.
func NewCachedCatalog(inner domain.Catalog, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		inner:   inner,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		exact:   map[string]cachedExact{},
		pattern: map[string]cachedPattern{},
	}
}

// WithClock overrides the cache clock; tests only.
func (c *CachedCatalog) WithClock(now func() time.Time) *CachedCatalog {
	c.now = now
	return c
}

// FindExact serves from cache within the TTL.
func (c *CachedCatalog) FindExact(ctx domain.Context, nameKey string) (domain.Product, bool, error) {
	c.mu.Lock()
	if e, ok := c.exact[nameKey]; ok && c.now().Sub(e.at) < c.ttl {
		c.mu.Unlock()
		return e.p, e.ok, nil
	}
	c.mu.Unlock()

	p, ok, err := c.inner.FindExact(ctx, nameKey)
	if err != nil {
		return domain.Product{}, false, err
	}
	c.mu.Lock()
	c.exact[nameKey] = cachedExact{p: p, ok: ok, at: c.now()}
	c.mu.Unlock()
	return p, ok, nil
}

// FindPattern serves from cache within the TTL.
func (c *CachedCatalog) FindPattern(ctx domain.Context, nameKey string) (domain.PatternCandidate, bool, error) {
	c.mu.Lock()
	if e, ok := c.pattern[nameKey]; ok && c.now().Sub(e.at) < c.ttl {
		c.mu.Unlock()
		return e.c, e.ok, nil
	}
	c.mu.Unlock()

	cand, ok, err := c.inner.FindPattern(ctx, nameKey)
	if err != nil {
		return domain.PatternCandidate{}, false, err
	}
	c.mu.Lock()
	c.pattern[nameKey] = cachedPattern{c: cand, ok: ok, at: c.now()}
	c.mu.Unlock()
	return cand, ok, nil
}

// FindFuzzy delegates straight to the inner catalog.
func (c *CachedCatalog) FindFuzzy(ctx domain.Context, nameKey string, limit int) ([]domain.FuzzyCandidate, error) {
	return c.inner.FindFuzzy(ctx, nameKey, limit)
}
