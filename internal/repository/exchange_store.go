// Package repository persists committed translation exchanges in DynamoDB
// so conversation history survives eviction and cold starts.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-translator/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL

	// msgSKLayout is fixed width so sort keys order byte-wise by time.
	msgSKLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Stats summarizes the persisted state of one conversation.
type Stats struct {
	ConversationID string    `json:"conversationId"`
	Exchanges      int       `json:"exchanges"`
	Translations   int       `json:"translations"`
	LastActivity   time.Time `json:"lastActivity"`
}

// Client wraps a DynamoDB table holding one partition per conversation:
// a META# item with counters and one MSG# item per committed exchange.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK returns the sort key for an exchange committed at ts.
func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(msgSKLayout)
}

func ttlValue(from time.Time) int64 {
	return from.Add(ttlDuration).Unix()
}

// LoadTurns returns the most recent whole exchanges of a conversation that
// fit in limit turns, in chronological order. An exchange is never split,
// so the history never opens with an assistant turn.
func (c *Client) LoadTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Newest first so Limit keeps the most recent exchanges. Each
		// exchange holds at most two turns, so limit items always suffice.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: LoadTurns query: %w", err)
	}

	var (
		newestFirst [][]domain.Turn
		total       int
	)
	for _, item := range out.Items {
		exchange, err := itemToExchange(item)
		if err != nil {
			return nil, fmt.Errorf("repository: LoadTurns unmarshal: %w", err)
		}
		turns := exchange.Turns()
		if total+len(turns) > limit {
			break
		}
		newestFirst = append(newestFirst, turns)
		total += len(turns)
	}

	turns := make([]domain.Turn, 0, total)
	for i := len(newestFirst) - 1; i >= 0; i-- {
		turns = append(turns, newestFirst[i]...)
	}
	return turns, nil
}

// SaveExchange writes the exchange and bumps the conversation counters in
// one transaction.
func (c *Client) SaveExchange(ctx context.Context, exchange domain.Exchange) error {
	if strings.TrimSpace(exchange.ConversationID) == "" {
		return errors.New("repository: SaveExchange: conversation id is required")
	}
	if exchange.CreatedAt.IsZero() {
		exchange.CreatedAt = time.Now()
	}

	translated := 0
	if exchange.Outcome == domain.OutcomeTranslated {
		translated = 1
	}
	ttl := strconv.FormatInt(ttlValue(exchange.CreatedAt), 10)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                exchangeItem(exchange),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: convPK(exchange.ConversationID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("SET conversationId = :id, lastActivity = :ts, #ttl = :ttl ADD exchanges :one, translations :tr"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":id":  &types.AttributeValueMemberS{Value: exchange.ConversationID},
						":ts":  &types.AttributeValueMemberS{Value: exchange.CreatedAt.UTC().Format(time.RFC3339)},
						":ttl": &types.AttributeValueMemberN{Value: ttl},
						":one": &types.AttributeValueMemberN{Value: "1"},
						":tr":  &types.AttributeValueMemberN{Value: strconv.Itoa(translated)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveExchange: %w", err)
	}
	return nil
}

// GetStats returns the persisted counters of a conversation. A conversation
// that was never persisted yields zero Stats and no error.
func (c *Client) GetStats(ctx context.Context, conversationID string) (Stats, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Stats{}, fmt.Errorf("repository: GetStats get item: %w", err)
	}
	stats := Stats{ConversationID: conversationID}
	if out == nil || len(out.Item) == 0 {
		return stats, nil
	}

	if stats.Exchanges, err = intAttr(out.Item, "exchanges"); err != nil {
		return Stats{}, fmt.Errorf("repository: GetStats decode exchanges: %w", err)
	}
	if _, ok := out.Item["translations"]; ok {
		if stats.Translations, err = intAttr(out.Item, "translations"); err != nil {
			return Stats{}, fmt.Errorf("repository: GetStats decode translations: %w", err)
		}
	}
	if ts, err := strAttr(out.Item, "lastActivity"); err == nil {
		stats.LastActivity, _ = time.Parse(time.RFC3339, ts)
	}
	return stats, nil
}

// itemToExchange converts a MSG# item back into an exchange.
func itemToExchange(item map[string]types.AttributeValue) (domain.Exchange, error) {
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Exchange{}, err
	}
	answer, _ := strAttr(item, "answer")   // allow empty
	outcome, _ := strAttr(item, "outcome") // allow empty

	exchange := domain.Exchange{
		User:    domain.Turn{Role: domain.RoleUser, Content: text},
		Outcome: domain.OutcomeKind(outcome),
	}
	if answer != "" {
		exchange.Assistant = &domain.Turn{Role: domain.RoleAssistant, Content: answer}
	}
	return exchange, nil
}

func exchangeItem(exchange domain.Exchange) map[string]types.AttributeValue {
	answer := ""
	if exchange.Assistant != nil {
		answer = exchange.Assistant.Content
	}
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(exchange.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(exchange.CreatedAt)},
		"conversationId": &types.AttributeValueMemberS{Value: exchange.ConversationID},
		"text":           &types.AttributeValueMemberS{Value: exchange.User.Content},
		"answer":         &types.AttributeValueMemberS{Value: answer},
		"outcome":        &types.AttributeValueMemberS{Value: string(exchange.Outcome)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(exchange.CreatedAt), 10)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
