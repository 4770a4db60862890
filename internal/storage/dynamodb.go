package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/cyderes/bitable-sync/internal/config"
	"github.com/cyderes/bitable-sync/internal/models"
)

// DynamoDBStorage implements Storage interface using AWS DynamoDB
type DynamoDBStorage struct {
	client      dynamodbiface.DynamoDBAPI
	tableName   string
	statusTable string
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(cfg config.StorageConfig) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	storage := &DynamoDBStorage{
		client:      dynamodb.New(sess),
		tableName:   cfg.TableName,
		statusTable: cfg.TableName + "_status",
	}

	if err := storage.ensureTable(storage.tableName, "record_id"); err != nil {
		return nil, fmt.Errorf("failed to ensure table exists: %w", err)
	}
	if err := storage.ensureTable(storage.statusTable, "id"); err != nil {
		return nil, fmt.Errorf("failed to ensure status table exists: %w", err)
	}

	return storage, nil
}

// ensureTable creates a table with a string hash key if it doesn't exist
func (d *DynamoDBStorage) ensureTable(name, key string) error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err == nil {
		return nil
	}

	_, err = d.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(key),
				KeyType:       aws.String(dynamodb.KeyTypeHash),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(key),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
}

// StorePosts stores ledger entries in DynamoDB
func (d *DynamoDBStorage) StorePosts(ctx context.Context, posts []models.PostEntry) error {
	for _, post := range posts {
		item, err := dynamodbattribute.MarshalMap(post)
		if err != nil {
			return fmt.Errorf("failed to marshal entry %s: %w", post.RecordID, err)
		}

		_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(d.tableName),
			Item:      item,
		})
		if err != nil {
			return fmt.Errorf("failed to store entry %s: %w", post.RecordID, err)
		}
	}

	return nil
}

// GetPosts scans every ledger entry, following LastEvaluatedKey, so pages
// are cut from the same record_id ordering as the other backends.
func (d *DynamoDBStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.PostEntry, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(d.tableName),
	}

	var posts []models.PostEntry
	var unmarshalErr error
	err := d.client.ScanPagesWithContext(ctx, input, func(out *dynamodb.ScanOutput, lastPage bool) bool {
		var batch []models.PostEntry
		if unmarshalErr = dynamodbattribute.UnmarshalListOfMaps(out.Items, &batch); unmarshalErr != nil {
			return false
		}
		posts = append(posts, batch...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan entries: %w", err)
	}
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal entries: %w", unmarshalErr)
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].RecordID < posts[j].RecordID })

	return page(posts, limit, offset), nil
}

// GetPostByRecordID retrieves the entry of a specific record
func (d *DynamoDBStorage) GetPostByRecordID(ctx context.Context, recordID string) (*models.PostEntry, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"record_id": {S: aws.String(recordID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", recordID, err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	var post models.PostEntry
	if err := dynamodbattribute.UnmarshalMap(result.Item, &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &post, nil
}

// UpdateSyncStatus updates the sync status
func (d *DynamoDBStorage) UpdateSyncStatus(ctx context.Context, status models.SyncStatus) error {
	item, err := dynamodbattribute.MarshalMap(status)
	if err != nil {
		return fmt.Errorf("failed to marshal sync status: %w", err)
	}

	// Add a fixed key for the status record
	item["id"] = &dynamodb.AttributeValue{S: aws.String(statusKey)}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.statusTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store sync status: %w", err)
	}
	return nil
}

// GetSyncStatus retrieves the current sync status
func (d *DynamoDBStorage) GetSyncStatus(ctx context.Context) (*models.SyncStatus, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.statusTable),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(statusKey)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}

	if result.Item == nil {
		return neverRun(), nil
	}

	var status models.SyncStatus
	if err := dynamodbattribute.UnmarshalMap(result.Item, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync status: %w", err)
	}

	return &status, nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
