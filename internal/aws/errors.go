package aws

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/imrishuroy/go-orderledger/internal/apperr"
)

// ErrContention is returned once retries against a contended item are exhausted.
var ErrContention = fmt.Errorf("%w: item is being updated concurrently, retry", apperr.ErrConflict)

// IsConditionFailed reports whether a single-item write lost its condition expression.
func IsConditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

// CancelledAt reports whether a cancelled transaction failed the condition of item i.
func CancelledAt(err error, i int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || i < 0 || i >= len(tce.CancellationReasons) {
		return false
	}
	code := tce.CancellationReasons[i].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

// IsCancelled reports whether err is a cancelled transaction.
func IsCancelled(err error) bool {
	var tce *types.TransactionCanceledException
	return errors.As(err, &tce)
}

// IsTransactionConflict reports whether DynamoDB rejected the write because another
// transaction was holding one of its items. The write changed nothing and may be retried.
func IsTransactionConflict(err error) bool {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if r.Code != nil && *r.Code == "TransactionConflict" {
				return true
			}
		}
		return false
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "TransactionConflictException"
}
