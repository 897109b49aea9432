package catalog

import "github.com/shopspring/decimal"

// Product is the priced view of a catalog product.
type Product struct {
	ProductID     string
	Name          string
	Price         decimal.Decimal
	DiscountPrice decimal.Decimal
}

// productItem is the stored shape. Prices may be numbers or strings depending on the writer.
type productItem struct {
	ProductID     string `dynamodbav:"product_id"`
	Name          string `dynamodbav:"name,omitempty"`
	Price         any    `dynamodbav:"price"`
	DiscountPrice any    `dynamodbav:"discount_price,omitempty"`
}

// Availability says whether a product ships to a pincode and how fast.
type Availability struct {
	ProductID    string `dynamodbav:"product_id" json:"product_id"`
	Pincode      string `dynamodbav:"pincode" json:"pincode"`
	IsAvailable  bool   `dynamodbav:"is_available" json:"is_available"`
	EtaDays      int    `dynamodbav:"eta_days" json:"eta_days"`
	Stock        int    `dynamodbav:"stock" json:"stock"`
	CODAvailable bool   `dynamodbav:"cod_available" json:"cod_available"`
}
