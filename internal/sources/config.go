package sources

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("[Sources] Ignoring unparsable duration",
			slog.String("key", key),
			slog.String("value", value))
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FromEnv assembles the enabled sources. A backend participates when its
// primary setting is present; any subset may run, but at least one backend
// must be configured.
//
//	LENSFEED_HTTP_SOURCES        comma-separated record API base URLs
//	LENSFEED_HTTP_CLIENT_ID     } OAuth2 client credentials for the
//	LENSFEED_HTTP_CLIENT_SECRET } HTTP sources, optional
//	LENSFEED_HTTP_TOKEN_URL     }
//	KAFKA_TOPIC_RECORDS          Kafka topic carrying JSON records
//	KAFKA_BROKER                 bootstrap servers
//	KAFKA_CONSUMER_GROUP_ID      consumer group prefix
//	DYNAMODB_RECORDS_TABLE       DynamoDB table name
//	AWS_REGION, AWS_ENDPOINT     region and optional endpoint override
//	LENSFEED_RSS_FEEDS           comma-separated RSS/Atom document URLs
func FromEnv(logger *slog.Logger) ([]Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Source

	for i, base := range splitList(os.Getenv("LENSFEED_HTTP_SOURCES")) {
		name := "http"
		if i > 0 {
			name = fmt.Sprintf("http-%d", i+1)
		}
		src, err := NewHTTPSource(HTTPConfig{
			Name:         name,
			BaseURL:      base,
			UserAgent:    getEnv("LENSFEED_USER_AGENT", defaultUserAgent),
			PollInterval: getEnvDuration("LENSFEED_HTTP_POLL_INTERVAL", defaultPollInterval),
			ClientID:     os.Getenv("LENSFEED_HTTP_CLIENT_ID"),
			ClientSecret: os.Getenv("LENSFEED_HTTP_CLIENT_SECRET"),
			TokenURL:     os.Getenv("LENSFEED_HTTP_TOKEN_URL"),
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}

	if topic := os.Getenv("KAFKA_TOPIC_RECORDS"); topic != "" {
		src, err := NewKafkaSource(KafkaConfig{
			Broker:  getEnv("KAFKA_BROKER", "localhost:29092"),
			Topic:   topic,
			GroupID: getEnv("KAFKA_CONSUMER_GROUP_ID", "lensfeed"),
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}

	if table := os.Getenv("DYNAMODB_RECORDS_TABLE"); table != "" {
		src, err := NewDynamoSource(DynamoConfig{
			Table:        table,
			Region:       getEnv("AWS_REGION", "us-west-2"),
			Endpoint:     os.Getenv("AWS_ENDPOINT"),
			PollInterval: getEnvDuration("LENSFEED_DYNAMO_POLL_INTERVAL", defaultPollInterval),
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}

	for i, feedURL := range splitList(os.Getenv("LENSFEED_RSS_FEEDS")) {
		name := "rss"
		if i > 0 {
			name = fmt.Sprintf("rss-%d", i+1)
		}
		src, err := NewRSSSource(RSSConfig{
			Name:         name,
			FeedURL:      feedURL,
			PollInterval: getEnvDuration("LENSFEED_RSS_POLL_INTERVAL", time.Minute),
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("[Sources] No sources configured")
	}
	logger.Info("[Sources] Assembled sources", slog.Int("count", len(out)))
	return out, nil
}
