package selector

import (
	"sort"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// OrderItem is one line of a logical order handed to the splitter.
type OrderItem struct {
	ProductID string
	Quantity  float64
	Unit      string
}

// VendorGroup is one per-vendor sub-order.
type VendorGroup struct {
	VendorID string
	Items    []OrderItem
}

// Split groups items by their top-ranked vendor, producing per-vendor
// sub-orders. Items whose selection came back empty are returned separately.
// The result is deterministic for a given input: groups sort by vendor id,
// items within a group by product id.
func Split(items []OrderItem, selections map[string]Selection) (groups []VendorGroup, unassigned []OrderItem) {
	byVendor := map[string][]OrderItem{}
	for _, it := range items {
		sel, ok := selections[it.ProductID]
		if !ok || len(sel.Ranked) == 0 {
			unassigned = append(unassigned, it)
			continue
		}
		top := sel.Ranked[0].VendorID
		byVendor[top] = append(byVendor[top], it)
	}

	vendorIDs := make([]string, 0, len(byVendor))
	for v := range byVendor {
		vendorIDs = append(vendorIDs, v)
	}
	sort.Strings(vendorIDs)
	for _, v := range vendorIDs {
		its := byVendor[v]
		sort.Slice(its, func(a, b int) bool { return its[a].ProductID < its[b].ProductID })
		groups = append(groups, VendorGroup{VendorID: v, Items: its})
	}
	sort.Slice(unassigned, func(a, b int) bool { return unassigned[a].ProductID < unassigned[b].ProductID })
	return groups, unassigned
}

// SelectAll runs Select per item and returns the product -> selection map.
func (s *Selector) SelectAll(ctx domain.Context, items []OrderItem) (map[string]Selection, error) {
	out := make(map[string]Selection, len(items))
	for _, it := range items {
		sel, err := s.Select(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return nil, err
		}
		out[it.ProductID] = sel
	}
	return out, nil
}
