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

	"rag-agent/internal/domain"
)

const (
	skMeta          = "META#"
	skPrefixTurn    = "TURN#"
	defaultTTL      = 24 * time.Hour
	maxTransactPuts = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps each session as one META# item plus one TURN# item per
// conversation turn. Turns are written once and never rewritten.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
}

// NewDynamoStore creates a session store over tableName. Items expire ttl
// after the session's last activity.
func NewDynamoStore(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &DynamoStore{api: api, tableName: tableName, ttl: ttl}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// turnSK is zero padded so sort order matches conversation order.
func turnSK(index int) string {
	return fmt.Sprintf("%s%06d", skPrefixTurn, index)
}

func (s *DynamoStore) ttlValue(lastActivity time.Time) int64 {
	return lastActivity.Add(s.ttl).Unix()
}

// Load reads the META# item and every TURN# item of a session.
func (s *DynamoStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	pk := sessionPK(id)
	var (
		meta  map[string]types.AttributeValue
		turns []domain.Turn
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
			},
			ConsistentRead:    aws.Bool(true),
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: Load query: %w", err)
		}
		for _, item := range out.Items {
			sk, err := strAttr(item, "SK")
			if err != nil {
				return nil, fmt.Errorf("repository: Load: %w", err)
			}
			switch {
			case sk == skMeta:
				meta = item
			case strings.HasPrefix(sk, skPrefixTurn):
				turn, err := itemToTurn(item)
				if err != nil {
					return nil, fmt.Errorf("repository: Load unmarshal turn: %w", err)
				}
				turns = append(turns, turn)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	if meta == nil {
		return nil, fmt.Errorf("repository: Load %s: %w", id, domain.ErrSessionNotFound)
	}
	session, count, err := itemToSession(id, meta)
	if err != nil {
		return nil, fmt.Errorf("repository: Load unmarshal meta: %w", err)
	}
	// Turns beyond the committed count belong to no transaction and are ignored.
	if len(turns) < count {
		return nil, fmt.Errorf("repository: Load %s: expected %d turns, found %d", id, count, len(turns))
	}
	session.Conversation = domain.Conversation{}.Append(turns[:count]...)
	return session, nil
}

// Save writes turns not yet persisted and the updated META# item in one
// transaction. The META# write is conditioned on the previously stored turn
// count so concurrent writers cannot interleave turns.
func (s *DynamoStore) Save(ctx context.Context, session *domain.Session) error {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return errors.New("repository: Save: session id is required")
	}

	stored, err := s.storedTurnCount(ctx, session.ID)
	if err != nil {
		return err
	}
	turns := session.Conversation.Turns
	if stored > len(turns) {
		return fmt.Errorf("repository: Save %s: store holds %d turns, session has %d", session.ID, stored, len(turns))
	}
	fresh := turns[stored:]
	if len(fresh)+1 > maxTransactPuts {
		return fmt.Errorf("repository: Save %s: %d unsaved turns exceed one transaction", session.ID, len(fresh))
	}

	ttl := s.ttlValue(session.LastActivity)
	items := make([]types.TransactWriteItem, 0, len(fresh)+1)
	for i, t := range fresh {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                turnItem(session.ID, stored+i, t, ttl),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	metaPut := &types.Put{
		TableName: aws.String(s.tableName),
		Item:      metaItem(session, len(turns), ttl),
	}
	if stored == 0 {
		metaPut.ConditionExpression = aws.String("attribute_not_exists(turns) OR turns = :prev")
	} else {
		metaPut.ConditionExpression = aws.String("turns = :prev")
	}
	metaPut.ExpressionAttributeValues = map[string]types.AttributeValue{
		":prev": &types.AttributeValueMemberN{Value: strconv.Itoa(stored)},
	}
	items = append(items, types.TransactWriteItem{Put: metaPut})

	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: Save transact: %w", err)
	}
	return nil
}

// Delete removes the META# item. Orphaned TURN# items are unreachable and
// expire through TTL.
func (s *DynamoStore) Delete(ctx context.Context, id string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func (s *DynamoStore) storedTurnCount(ctx context.Context, id string) (int, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("turns"),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: Save get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}
	turns, err := intAttr(out.Item, "turns")
	if err != nil {
		return 0, fmt.Errorf("repository: Save decode turns: %w", err)
	}
	return turns, nil
}

func turnItem(sessionID string, index int, t domain.Turn, ttl int64) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(index)},
		"role":      &types.AttributeValueMemberS{Value: t.Role},
		"text":      &types.AttributeValueMemberS{Value: t.Text},
		"createdAt": &types.AttributeValueMemberS{Value: t.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
	if t.Document != "" {
		item["document"] = &types.AttributeValueMemberS{Value: t.Document}
	}
	return item
}

func metaItem(session *domain.Session, turns int, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(session.ID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":    &types.AttributeValueMemberS{Value: session.ID},
		"createdAt":    &types.AttributeValueMemberS{Value: session.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"lastActivity": &types.AttributeValueMemberS{Value: session.LastActivity.UTC().Format(time.RFC3339Nano)},
		"turns":        &types.AttributeValueMemberN{Value: strconv.Itoa(turns)},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}
	document, _ := strAttr(item, "document") // optional
	return domain.Turn{Role: role, Text: text, Document: document, CreatedAt: createdAt}, nil
}

func itemToSession(id string, item map[string]types.AttributeValue) (*domain.Session, int, error) {
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return nil, 0, err
	}
	lastActivity, err := timeAttr(item, "lastActivity")
	if err != nil {
		return nil, 0, err
	}
	turns, err := intAttr(item, "turns")
	if err != nil {
		return nil, 0, err
	}
	return &domain.Session{ID: id, CreatedAt: createdAt, LastActivity: lastActivity}, turns, nil
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

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t.UTC(), nil
}
