package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-orderledger/internal/catalog"
	"github.com/imrishuroy/go-orderledger/internal/orders"
)

// New returns a validator with the domain tags registered:
//
//	size_code    the value is a known size code
//	order_status the value names an order status, case insensitive
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("size_code", func(fl validatorv10.FieldLevel) bool {
		return catalog.IsValidSize(fl.Field().String())
	})
	_ = v.RegisterValidation("order_status", func(fl validatorv10.FieldLevel) bool {
		_, ok := orders.ParseStatus(fl.Field().String())
		return ok
	})

	v.RegisterStructValidation(verifyStructValidation, VerifyRequest{})

	return v
}

// verifyStructValidation rejects callbacks whose payment id repeats the order id, which is
// what a client sends when it forwards the wrong field.
func verifyStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(VerifyRequest)
	if req.RemotePaymentID != "" && strings.EqualFold(req.RemotePaymentID, req.RemoteOrderID) {
		sl.ReportError(req.RemotePaymentID, "remote_payment_id", "RemotePaymentID", "distinct_ids", "")
	}
}
