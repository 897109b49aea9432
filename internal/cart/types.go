package cart

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/imrishuroy/go-orderledger/internal/apperr"
	"github.com/imrishuroy/go-orderledger/internal/inventory"
	"github.com/shopspring/decimal"
)

var (
	ErrLineNotFound = fmt.Errorf("%w: cart item not found", apperr.ErrNotFound)
	ErrLineChanged  = fmt.Errorf("%w: cart item changed concurrently, retry", apperr.ErrConflict)
	ErrCartTooLarge = fmt.Errorf("%w: cart has too many items", apperr.ErrValidation)
	ErrCartMismatch = fmt.Errorf("%w: cart no longer holds the ordered items", apperr.ErrConflict)
)

// Line is one (product, size) entry of a user's cart. Its quantity is already reserved in
// the inventory ledger.
type Line struct {
	UserID    string    `dynamodbav:"user_id" json:"-"`
	LineID    string    `dynamodbav:"line_id" json:"line_id"` // SK
	ProductID string    `dynamodbav:"product_id" json:"product_id"`
	Size      string    `dynamodbav:"size" json:"size"`
	Quantity  int       `dynamodbav:"quantity" json:"quantity"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Key returns the inventory key the line holds stock against.
func (l Line) Key() inventory.Key {
	return inventory.Key{ProductID: l.ProductID, Size: l.Size}
}

// PricedLine is a cart line joined with its current catalog prices.
type PricedLine struct {
	Line
	Name          string          `json:"name,omitempty"`
	Price         decimal.Decimal `json:"price"`
	DiscountPrice decimal.Decimal `json:"discount_price"`
}

var lineNamespace = uuid.MustParse("6f1b2c1e-3f57-4d7e-9a55-0c2f7f0b9d21")

// LineID is deterministic per (product, size) so a cart never holds the same pair twice.
func LineID(productID, size string) string {
	return uuid.NewSHA1(lineNamespace, []byte(productID+"\x00"+size)).String()
}
