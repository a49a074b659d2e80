package sources

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lensfeed/lensfeed/internal/models"
)

const (
	dynamoDefaultLimit  = 100
	dynamoMaxQueryPages = 10
	dynamoBatchSize     = 25
	defaultFeedPK       = "feed"
	defaultProfilePK    = "profiles"
)

// DynamoConfig configures a DynamoSource.
type DynamoConfig struct {
	Name         string
	Table        string
	Region       string
	Endpoint     string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// DynamoSource reads records from one DynamoDB table. Items live under two
// partitions, "feed" for media records and "profiles" for kind-0 records,
// with sort key "<zero-padded created_at>#<id>" so a key condition walks
// time backward natively. Live delivery is a since-polling Query loop.
type DynamoSource struct {
	name      string
	table     string
	region    string
	endpoint  string
	poll      time.Duration
	feedPK    string
	profilePK string
	logger    *slog.Logger

	client *dynamodb.Client
}

func NewDynamoSource(cfg DynamoConfig) (*DynamoSource, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("[DynamoSource] Table is required")
	}
	if cfg.Name == "" {
		cfg.Name = "dynamodb"
	}
	if cfg.Region == "" {
		cfg.Region = "us-west-2"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DynamoSource{
		name:      cfg.Name,
		table:     cfg.Table,
		region:    cfg.Region,
		endpoint:  cfg.Endpoint,
		poll:      cfg.PollInterval,
		feedPK:    defaultFeedPK,
		profilePK: defaultProfilePK,
		logger:    cfg.Logger,
	}, nil
}

func (s *DynamoSource) Name() string { return s.name }

// Connect loads the AWS config, builds the client and probes the table.
func (s *DynamoSource) Connect(ctx context.Context) error {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(s.region))
	if err != nil {
		return fmt.Errorf("[DynamoSource] Failed to load AWS config: %w", err)
	}
	s.client = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if s.endpoint != "" {
			o.BaseEndpoint = aws.String(s.endpoint)
		}
	})

	if _, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	}); err != nil {
		return fmt.Errorf("[DynamoSource] Table %s unavailable: %w", s.table, err)
	}
	return nil
}

// QueryHistorical walks the partition newest-first below the inclusive
// bound, unmarshalling item pages until the limit is met.
func (s *DynamoSource) QueryHistorical(ctx context.Context, f models.Filter) ([]models.RawRecord, error) {
	if s.client == nil {
		return nil, fmt.Errorf("[DynamoSource] Not connected")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = dynamoDefaultLimit
	}

	key := "pk = :pk"
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: s.partitionFor(f)},
	}
	if f.Until != nil {
		// The sort key starts with the padded timestamp; "~" sorts after
		// every hex id, making the bound inclusive.
		key += " AND sk <= :until"
		values[":until"] = &types.AttributeValueMemberS{Value: fmt.Sprintf("%012d#~", *f.Until)}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String(key),
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(limit)),
	}

	var out []models.RawRecord
	pages := 0
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() && len(out) < limit && pages < dynamoMaxQueryPages {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("[DynamoSource] Query failed: %w", err)
		}
		pages++

		var records []models.RawRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &records); err != nil {
			return nil, fmt.Errorf("[DynamoSource] Unable to unmarshal record page: %w", err)
		}
		for _, r := range records {
			if f.Matches(r) {
				out = append(out, r)
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SubscribeLive polls the feed partition for items past the newest sort key
// seen so far.
func (s *DynamoSource) SubscribeLive(ctx context.Context, f models.Filter, onRecord func(models.RawRecord), onClosed func(error)) (func(), error) {
	if s.client == nil {
		return nil, fmt.Errorf("[DynamoSource] Not connected")
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopCh) }) }

	go func() {
		defer func() {
			if onClosed != nil {
				onClosed(nil)
			}
		}()

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		since := fmt.Sprintf("%012d", models.Now())

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				records, last, err := s.queryAfter(ctx, since)
				if err != nil {
					s.logger.Warn("[DynamoSource] Live poll failed",
						slog.String("source", s.name),
						slog.String("error", err.Error()))
					continue
				}
				if last != "" {
					since = last
				}
				for _, r := range records {
					if f.Matches(r) {
						onRecord(r)
					}
				}
			}
		}
	}()
	return stop, nil
}

func (s *DynamoSource) Close() error { return nil }

// PutRecords writes records into their partitions in batches, retrying
// unprocessed items with doubling backoff. Used by seeding tooling and
// deployments that land records in the table out of band.
func (s *DynamoSource) PutRecords(ctx context.Context, records []models.RawRecord) error {
	if s.client == nil {
		return fmt.Errorf("[DynamoSource] Not connected")
	}

	for i := 0; i < len(records); i += dynamoBatchSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := i + dynamoBatchSize
		if end > len(records) {
			end = len(records)
		}

		writeRequests := make([]types.WriteRequest, 0, dynamoBatchSize)
		for _, r := range records[i:end] {
			item, err := s.marshalItem(r)
			if err != nil {
				return err
			}
			writeRequests = append(writeRequests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: item},
			})
		}

		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.table: writeRequests,
			},
		})
		if err != nil {
			return fmt.Errorf("[DynamoSource] Failed to batch write records: %w", err)
		}

		retryCount := 0
		backoff := 500 * time.Millisecond
		for len(out.UnprocessedItems) > 0 && retryCount < 3 {
			time.Sleep(backoff)
			backoff *= 2
			s.logger.Warn("[DynamoSource] Retrying unprocessed items...",
				slog.Int("attempt", retryCount+1),
				slog.Int("remaining", len(out.UnprocessedItems[s.table])))

			out, err = s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: out.UnprocessedItems,
			})
			if err != nil {
				return fmt.Errorf("[DynamoSource] Failed to retry batch write: %w", err)
			}
			retryCount++
		}
		if len(out.UnprocessedItems) > 0 {
			s.logger.Error("[DynamoSource] Some records were not written even after retries",
				slog.Int("remaining", len(out.UnprocessedItems[s.table])))
		}
	}
	s.logger.Info("[DynamoSource] Stored records", slog.Int("count", len(records)))
	return nil
}

func (s *DynamoSource) queryAfter(ctx context.Context, since string) ([]models.RawRecord, string, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pk = :pk AND sk > :since"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: s.feedPK},
			":since": &types.AttributeValueMemberS{Value: since},
		},
	})
	if err != nil {
		return nil, "", fmt.Errorf("[DynamoSource] Query failed: %w", err)
	}

	var records []models.RawRecord
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, "", fmt.Errorf("[DynamoSource] Unable to unmarshal record page: %w", err)
	}

	// Items come back sorted ascending, so the last one carries the
	// newest sort key.
	last := ""
	if len(records) > 0 {
		last = recordSK(records[len(records)-1])
	}
	return records, last, nil
}

func (s *DynamoSource) marshalItem(r models.RawRecord) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return nil, fmt.Errorf("[DynamoSource] Unable to marshal record %s: %w", r.ID, err)
	}
	pk := s.feedPK
	if r.Kind == models.KindProfile {
		pk = s.profilePK
	}
	item["pk"] = &types.AttributeValueMemberS{Value: pk}
	item["sk"] = &types.AttributeValueMemberS{Value: recordSK(r)}
	return item, nil
}

// partitionFor picks the profiles partition only for pure profile queries.
func (s *DynamoSource) partitionFor(f models.Filter) string {
	if len(f.Kinds) == 1 && f.Kinds[0] == models.KindProfile {
		return s.profilePK
	}
	return s.feedPK
}

func recordSK(r models.RawRecord) string {
	return fmt.Sprintf("%012d#%s", r.CreatedAt, r.ID)
}
