package cart

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/imrishuroy/go-orderledger/internal/apperr"
	"github.com/imrishuroy/go-orderledger/internal/catalog"
	"github.com/imrishuroy/go-orderledger/internal/pricing"
	"golang.org/x/sync/errgroup"
)

// ProductReader resolves catalog products. It returns (nil, nil) for unknown ids.
type ProductReader interface {
	GetProduct(ctx context.Context, productID string) (*catalog.Product, error)
}

type Service struct {
	store    *Store
	products ProductReader
}

func NewService(store *Store, products ProductReader) *Service {
	return &Service{store: store, products: products}
}

func (s *Service) Add(ctx context.Context, userID, productID, size string, qty int) (*Line, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", apperr.ErrValidation)
	}
	if !catalog.IsValidSize(size) {
		return nil, fmt.Errorf("%w: invalid size %q", apperr.ErrValidation, size)
	}
	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: product not found", apperr.ErrNotFound)
	}
	line, err := s.store.Add(ctx, userID, productID, size, qty)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "cart line added", "user_id", userID, "product_id", productID, "size", size, "quantity", qty)
	return line, nil
}

func (s *Service) UpdateQuantity(ctx context.Context, userID, lineID string, qty int) (*Line, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", apperr.ErrValidation)
	}
	return s.store.SetQuantity(ctx, userID, lineID, qty)
}

func (s *Service) ChangeSize(ctx context.Context, userID, lineID, size string) (*Line, error) {
	if !catalog.IsValidSize(size) {
		return nil, fmt.Errorf("%w: invalid size %q", apperr.ErrValidation, size)
	}
	return s.store.ChangeSize(ctx, userID, lineID, size)
}

func (s *Service) Remove(ctx context.Context, userID, lineID string) error {
	return s.store.Remove(ctx, userID, lineID)
}

// Lines returns the cart joined with current prices. A product that has left the catalog
// prices at zero rather than failing the whole cart.
func (s *Service) Lines(ctx context.Context, userID string) ([]PricedLine, error) {
	lines, err := s.store.Lines(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(lines))
	seen := map[string]bool{}
	for _, l := range lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}

	found := make([]*catalog.Product, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		g.Go(func() error {
			p, err := s.products.GetProduct(gctx, id)
			if err != nil {
				return fmt.Errorf("product %s: %w", id, err)
			}
			found[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	byID := make(map[string]*catalog.Product, len(ids))
	for i, id := range ids {
		byID[id] = found[i]
	}

	out := make([]PricedLine, 0, len(lines))
	for _, l := range lines {
		pl := PricedLine{Line: l}
		if p := byID[l.ProductID]; p != nil {
			pl.Name = p.Name
			pl.Price = p.Price
			pl.DiscountPrice = p.DiscountPrice
		} else {
			slog.WarnContext(ctx, "cart product missing from catalog", "user_id", userID, "product_id", l.ProductID)
		}
		out = append(out, pl)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Breakup prices the current cart.
func (s *Service) Breakup(ctx context.Context, userID string) (pricing.Breakup, []PricedLine, error) {
	lines, err := s.Lines(ctx, userID)
	if err != nil {
		return pricing.Breakup{}, nil, err
	}
	return pricing.Calculate(PricingLines(lines)), lines, nil
}

// PricingLines adapts priced cart lines to the calculator input.
func PricingLines(lines []PricedLine) []pricing.Line {
	out := make([]pricing.Line, len(lines))
	for i, l := range lines {
		out[i] = pricing.Line{Price: l.Price, DiscountPrice: l.DiscountPrice, Quantity: l.Quantity}
	}
	return out
}
