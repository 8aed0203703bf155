package settings

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

const (
	tablePartitionKey = "namespace"
	tableSortKey      = "key"
	valueAttribute    = "value"

	// BatchWriteItem accepts at most this many requests.
	dynamoDBMaxBatchSize = 25
)

// DynamoDBStore keeps each entry as an item whose partition key is the namespace and whose
// sort key is the setting key.
type DynamoDBStore struct {
	client    *dynamodb.DynamoDB
	table     string
	namespace string
}

// NewDynamoDBStore creates a store using the default AWS credential chain. If endpoint is not
// empty it overrides the service endpoint, as for a local DynamoDB.
func NewDynamoDBStore(table, namespace, endpoint string) (*DynamoDBStore, error) {
	config := aws.NewConfig()
	if endpoint != "" {
		config = config.WithEndpoint(endpoint)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *config,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &DynamoDBStore{client: dynamodb.New(sess), table: table, namespace: namespace}, nil
}

func (d *DynamoDBStore) Load(ctx context.Context) (Settings, error) {
	var s Settings
	err := d.client.QueryPagesWithContext(ctx, d.query(),
		func(out *dynamodb.QueryOutput, _ bool) bool {
			for _, item := range out.Items {
				key, value := item[tableSortKey], item[valueAttribute]
				if key == nil || key.S == nil {
					continue
				}
				v := ""
				if value != nil && value.S != nil {
					v = *value.S
				}
				s.Set(*key.S, v)
			}
			return true
		})
	if err != nil {
		return Settings{}, fmt.Errorf("query failed for %s: %w", d.namespace, err)
	}
	return s, nil
}

func (d *DynamoDBStore) Save(ctx context.Context, s Settings) error {
	var existing []string
	err := d.client.QueryPagesWithContext(ctx, d.query(),
		func(out *dynamodb.QueryOutput, _ bool) bool {
			for _, item := range out.Items {
				if key := item[tableSortKey]; key != nil && key.S != nil {
					existing = append(existing, *key.S)
				}
			}
			return true
		})
	if err != nil {
		return fmt.Errorf("failed to get existing settings: %w", err)
	}
	requests := dynamoDBRequests(d.namespace, s, existing)
	for _, batch := range splitBatches(requests, dynamoDBMaxBatchSize) {
		_, err := d.client.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]*dynamodb.WriteRequest{d.table: batch},
		})
		if err != nil {
			return fmt.Errorf("failed to write %d item(s) in batches: %w", len(requests), err)
		}
	}
	return nil
}

func (d *DynamoDBStore) query() *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:      aws.String(d.table),
		ConsistentRead: aws.Bool(true),
		KeyConditions: map[string]*dynamodb.Condition{
			tablePartitionKey: {
				ComparisonOperator: aws.String(dynamodb.ComparisonOperatorEq),
				AttributeValueList: []*dynamodb.AttributeValue{{S: aws.String(d.namespace)}},
			},
		},
	}
}

// dynamoDBRequests puts every entry and deletes the existing keys that are not in the bag.
func dynamoDBRequests(namespace string, s Settings, existingKeys []string) []*dynamodb.WriteRequest {
	requests := make([]*dynamodb.WriteRequest, 0, s.Len()+len(existingKeys))
	for _, k := range s.Keys() {
		v, _ := s.Get(k)
		requests = append(requests, &dynamodb.WriteRequest{
			PutRequest: &dynamodb.PutRequest{
				Item: map[string]*dynamodb.AttributeValue{
					tablePartitionKey: {S: aws.String(namespace)},
					tableSortKey:      {S: aws.String(k)},
					valueAttribute:    {S: aws.String(v)},
				},
			},
		})
	}
	for _, k := range existingKeys {
		if _, ok := s.Get(k); ok {
			continue
		}
		requests = append(requests, &dynamodb.WriteRequest{
			DeleteRequest: &dynamodb.DeleteRequest{
				Key: map[string]*dynamodb.AttributeValue{
					tablePartitionKey: {S: aws.String(namespace)},
					tableSortKey:      {S: aws.String(k)},
				},
			},
		})
	}
	return requests
}

// CreateTable creates the table with the schema that the store expects.
func (d *DynamoDBStore) CreateTable(ctx context.Context) error {
	_, err := d.client.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String(tablePartitionKey), AttributeType: aws.String("S")},
			{AttributeName: aws.String(tableSortKey), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String(tablePartitionKey), KeyType: aws.String("HASH")},
			{AttributeName: aws.String(tableSortKey), KeyType: aws.String("RANGE")},
		},
		ProvisionedThroughput: &dynamodb.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(1),
			WriteCapacityUnits: aws.Int64(1),
		},
		TableName: aws.String(d.table),
	})
	return err
}
