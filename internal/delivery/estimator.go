package delivery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/imrishuroy/go-orderledger/internal/apperr"
	"github.com/imrishuroy/go-orderledger/internal/catalog"
	"golang.org/x/sync/errgroup"
)

// DefaultEtaDays applies when an availability record carries no usable eta.
const DefaultEtaDays = 3

var ErrUndeliverable = fmt.Errorf("%w: product not deliverable to this pincode", apperr.ErrValidation)

// AvailabilityReader looks up one (product, pincode) record; (nil, nil) means absent.
type AvailabilityReader interface {
	GetAvailability(ctx context.Context, productID, pincode string) (*catalog.Availability, error)
}

// Estimator resolves delivery ETAs. A cart is deliverable only if every product is.
type Estimator struct {
	reader        AvailabilityReader
	maxConcurrent int
}

func NewEstimator(reader AvailabilityReader, maxConcurrent int) *Estimator {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Estimator{reader: reader, maxConcurrent: maxConcurrent}
}

// Estimate returns the slowest eta across productIDs for pincode. Duplicated ids are looked
// up once. Any product without an available record fails the whole estimate.
func (e *Estimator) Estimate(ctx context.Context, productIDs []string, pincode string) (int, error) {
	ids := distinct(productIDs)
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no products to deliver", apperr.ErrValidation)
	}

	etas := make([]int, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)

	for i := range ids {
		g.Go(func() error {
			a, err := e.reader.GetAvailability(gctx, ids[i], pincode)
			if err != nil {
				return fmt.Errorf("availability %s@%s: %w", ids[i], pincode, err)
			}
			if a == nil || !a.IsAvailable {
				return fmt.Errorf("%w (product %s)", ErrUndeliverable, ids[i])
			}
			etas[i] = EtaDays(a)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	slowest := 0
	for _, d := range etas {
		if d > slowest {
			slowest = d
		}
	}
	return slowest, nil
}

// EtaDays returns the record's eta, or DefaultEtaDays when it has none.
func EtaDays(a *catalog.Availability) int {
	if a == nil || a.EtaDays <= 0 {
		return DefaultEtaDays
	}
	return a.EtaDays
}

// EstimatedDate is the calendar date etaDays after created, in loc.
func EstimatedDate(created time.Time, etaDays int, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return created.In(loc).AddDate(0, 0, etaDays).Format(time.DateOnly)
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
