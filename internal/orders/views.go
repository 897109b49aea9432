package orders

import (
	"time"

	"github.com/imrishuroy/go-orderledger/internal/catalog"
	"github.com/imrishuroy/go-orderledger/internal/pricing"
)

// View is an order as returned to its owner.
type View struct {
	OrderID           string     `json:"order_id"`
	Status            Status     `json:"status"`
	StatusLabel       string     `json:"status_label"`
	CanCancel         bool       `json:"can_cancel"`
	AddressID         string     `json:"address_id"`
	TotalAmount       string     `json:"total_amount"`
	BagTotal          string     `json:"bag_total"`
	BagDiscount       string     `json:"bag_discount"`
	DeliveryFee       string     `json:"delivery_fee"`
	PlatformFee       string     `json:"platform_fee"`
	ConvenienceFee    string     `json:"convenience_fee"`
	EstimatedDelivery string     `json:"estimated_delivery,omitempty"`
	GatewayOrderID    string     `json:"gateway_order_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	Lines             []LineView `json:"lines,omitempty"`
	Timeline          []Event    `json:"timeline,omitempty"`
}

type LineView struct {
	LineID    string `json:"line_id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Size      string `json:"size"`
	SizeLabel string `json:"size_label,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// NewView annotates o for display.
func NewView(o Order) View {
	return View{
		OrderID:           o.OrderID,
		Status:            o.Status,
		StatusLabel:       o.Status.Label(),
		CanCancel:         o.Status.CanCancel(),
		AddressID:         o.AddressID,
		TotalAmount:       pricing.Format(o.TotalAmount),
		BagTotal:          pricing.Format(o.Breakup.BagTotal),
		BagDiscount:       pricing.Format(o.Breakup.BagDiscount),
		DeliveryFee:       pricing.Format(o.Breakup.DeliveryFee),
		PlatformFee:       pricing.Format(o.Breakup.PlatformFee),
		ConvenienceFee:    pricing.Format(o.Breakup.ConvenienceFee),
		EstimatedDelivery: o.EstimatedDelivery,
		GatewayOrderID:    o.GatewayOrderID,
		CreatedAt:         o.CreatedAt,
		DeliveredAt:       o.DeliveredAt,
	}
}

// NewDetailView is NewView plus lines and the status timeline.
func NewDetailView(o Order, lines []Line, timeline []Event) View {
	v := NewView(o)
	v.Lines = make([]LineView, len(lines))
	for i, l := range lines {
		v.Lines[i] = LineView{
			LineID:    l.LineID,
			ProductID: l.ProductID,
			Name:      l.Name,
			Size:      l.Size,
			SizeLabel: catalog.SizeLabel(l.Size),
			Quantity:  l.Quantity,
			UnitPrice: pricing.Format(l.UnitPrice),
		}
	}
	v.Timeline = timeline
	return v
}
