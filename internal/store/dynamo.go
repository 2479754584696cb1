package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design. Each user's
// session is a single item: PK = ORDER#{userId}, SK = META.
const (
	pkPrefix = "ORDER#"
	skMeta   = "META"
)

// DynamoStore implements SessionStore on a DynamoDB table. The
// expiresAt TTL attribute handles abandoned-session expiry server
// side, so no sweeper runs for this backend.
//
// Mutation exclusivity is an in-process keyed lock: the bot runs as a
// single process, and all events for one chat arrive on that process.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
	ttl       time.Duration
	locks     sync.Map // userID -> *sync.Mutex
}

// Compile-time interface check.
var _ SessionStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
// ttl bounds abandoned sessions; zero means SessionTTL.
func NewDynamoStore(client *dynamodb.Client, tableName string, ttl time.Duration) *DynamoStore {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
	}
}

// sessionPK returns the partition key for a user's session.
func sessionPK(userID string) string {
	return pkPrefix + userID
}

func (s *DynamoStore) userLock(userID string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *DynamoStore) Mutate(ctx context.Context, userID string, fn func(cur *Session) (*Session, error)) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	cur, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return s.Delete(ctx, userID)
	}

	next.UserID = userID
	now := time.Now().Unix()
	if next.CreatedAt == 0 {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	return s.put(ctx, next)
}

// put marshals the session and writes it with PK, SK, and TTL.
func (s *DynamoStore) put(ctx context.Context, session *Session) error {
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.UserID, err)
	}

	pk := sessionPK(session.UserID)
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}
	item["expiresAt"] = &types.AttributeValueMemberN{
		Value: strconv.FormatInt(time.Now().Add(s.ttl).Unix(), 10),
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s: %w", pk, err)
	}

	log.Debug().Str("userId", session.UserID).Str("state", string(session.State)).Msg("Session persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, userID string) (*Session, error) {
	pk := sessionPK(userID)
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s: %w", pk, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var session Session
	if err := attributevalue.UnmarshalMap(result.Item, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session PK=%s: %w", pk, err)
	}
	session.UserID = userID
	return &session, nil
}

func (s *DynamoStore) Delete(ctx context.Context, userID string) error {
	pk := sessionPK(userID)
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return fmt.Errorf("DeleteItem PK=%s: %w", pk, err)
	}

	log.Debug().Str("userId", userID).Msg("Session deleted from DynamoDB")
	return nil
}
