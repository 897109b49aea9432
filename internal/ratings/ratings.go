// Package ratings gates buyer ratings on delivery: one immutable rating per (order line, user).
package ratings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/imrishuroy/go-orderledger/internal/apperr"
	"github.com/imrishuroy/go-orderledger/internal/aws"
	"github.com/imrishuroy/go-orderledger/internal/orders"
)

const maxCommentLen = 1000

var (
	ErrAlreadyRated = fmt.Errorf("%w: you have already rated this item", apperr.ErrConflict)
	ErrNotDelivered = fmt.Errorf("%w: rating allowed only after delivery", apperr.ErrForbidden)
	ErrScoreRange   = fmt.Errorf("%w: rating must be between 1 and 5", apperr.ErrValidation)
)

type Rating struct {
	RatingKey string    `dynamodbav:"rating_key" json:"-"` // PK line_id#user_id
	LineID    string    `dynamodbav:"line_id" json:"order_line_id"`
	OrderID   string    `dynamodbav:"order_id" json:"order_id"`
	UserID    string    `dynamodbav:"user_id" json:"-"`
	ProductID string    `dynamodbav:"product_id" json:"product_id"`
	Score     int       `dynamodbav:"score" json:"rating"`
	Comment   string    `dynamodbav:"comment,omitempty" json:"comment,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
}

func Key(lineID, userID string) string { return lineID + "#" + userID }

type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Create writes r unless the (line, user) pair already has a rating.
func (s *Store) Create(ctx context.Context, r Rating) error {
	r.RatingKey = Key(r.LineID, r.UserID)
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("marshal rating: %w", err)
	}
	cond := "attribute_not_exists(rating_key)"
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: &cond,
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return ErrAlreadyRated
		}
		return fmt.Errorf("put rating: %w", err)
	}
	return nil
}

// LineReader resolves an owned order line and its order, advanced to its current status.
type LineReader interface {
	Line(ctx context.Context, userID, lineID string) (*orders.Line, *orders.Order, error)
}

type Service struct {
	store   *Store
	lines   LineReader
	nowFunc func() time.Time
}

func NewService(store *Store, lines LineReader) *Service {
	return &Service{store: store, lines: lines, nowFunc: time.Now}
}

// Submit records the caller's rating of one delivered order line.
func (s *Service) Submit(ctx context.Context, userID, lineID string, score int, comment string) (*Rating, error) {
	if score < 1 || score > 5 {
		return nil, ErrScoreRange
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxCommentLen {
		return nil, fmt.Errorf("%w: comment too long", apperr.ErrValidation)
	}

	line, order, err := s.lines.Line(ctx, userID, lineID)
	if err != nil {
		return nil, err
	}
	if order.Status != orders.StatusDelivered {
		return nil, ErrNotDelivered
	}

	r := Rating{
		LineID:    line.LineID,
		OrderID:   order.OrderID,
		UserID:    userID,
		ProductID: line.ProductID,
		Score:     score,
		Comment:   comment,
		CreatedAt: s.nowFunc().UTC(),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "rating submitted", "order_id", order.OrderID, "line_id", line.LineID, "user_id", userID, "score", score)
	return &r, nil
}
