package inventory

import (
	"fmt"

	"github.com/imrishuroy/go-orderledger/internal/apperr"
)

var (
	ErrInsufficientStock = fmt.Errorf("%w: not enough stock for selected size", apperr.ErrConflict)
	ErrUnitNotFound      = fmt.Errorf("%w: size not stocked for product", apperr.ErrNotFound)
	ErrInvalidQuantity   = fmt.Errorf("%w: quantity must be at least 1", apperr.ErrValidation)
)

// Key identifies one stock counter.
type Key struct {
	ProductID string
	Size      string
}

func (k Key) String() string { return k.ProductID + "#" + k.Size }

// Unit is the item stored in the inventory table.
type Unit struct {
	UnitKey   string `dynamodbav:"unit_key"` // PK product_id#size
	ProductID string `dynamodbav:"product_id"`
	Size      string `dynamodbav:"size"`
	Stock     int    `dynamodbav:"stock"`
}

// Movement is a quantity of one unit to reserve or release.
type Movement struct {
	Key      Key
	Quantity int
}
