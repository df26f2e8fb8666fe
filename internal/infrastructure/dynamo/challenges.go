package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otc-api/internal/domain"
)

// ChallengeRepo is the durable store for issued one-time codes.
// PK: challenge_id. GSI email-issued_at-index orders a mailbox's challenges by
// issuance time so the newest live one can be selected without ever deleting
// history. Expired rows are eventually reaped by the table TTL.
type ChallengeRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewChallengeRepo(client *dynamodb.Client, tableName string) *ChallengeRepo {
	return &ChallengeRepo{client: client, tableName: tableName}
}

func (r *ChallengeRepo) Put(ctx context.Context, c *domain.Challenge) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// FindActive returns the most recently issued unconsumed, unexpired challenge
// for (email, purpose), or nil when none exists. Duplicates from retried
// issuance are tolerated: the query is ordered newest-first and takes the
// first match.
func (r *ChallengeRepo) FindActive(ctx context.Context, email string, purpose domain.Purpose, now time.Time) (*domain.Challenge, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("email-issued_at-index"),
		KeyConditionExpression: aws.String("email = :e"),
		FilterExpression:       aws.String("purpose = :p AND consumed = :f AND expires_at > :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e":   &types.AttributeValueMemberS{Value: email},
			":p":   &types.AttributeValueMemberS{Value: string(purpose)},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
		ScanIndexForward: aws.Bool(false), // newest first
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var c domain.Challenge
	if err := attributevalue.UnmarshalMap(out.Items[0], &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Consume flips consumed false->true for the given challenge id as a single
// conditional write. Exactly one of any number of concurrent callers wins;
// the rest get ok=false. The transition is never reversed.
func (r *ChallengeRepo) Consume(ctx context.Context, challengeID string) (bool, error) {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("challenge_id", challengeID),
		UpdateExpression:    aws.String("SET consumed = :t"),
		ConditionExpression: aws.String("consumed = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		var ccfe *types.ConditionalCheckFailedException
		if errors.As(err, &ccfe) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
