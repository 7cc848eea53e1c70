// messaging/redis_client.go
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"delay-predictor/internal/domain"
)

const (
	DefaultResponseStream = "delay-data-responses"
	DefaultRequestStream  = "delay-data-requests"
	DefaultConsumerGroup  = "delay-predictor"

	payloadField = "payload"
)

// MessageClient is the transport contract the trainer needs: publish batch
// REQUESTs, receive batch responses, stay alive.
type MessageClient interface {
	PublishBatchRequest(ctx context.Context) (string, error)
	SubscribeToResponses(ctx context.Context, handler func(domain.DataTransferEvent)) error
	HealthCheck() error
	Close() error
}

type redisClient struct {
	client         *redis.Client
	responseStream string
	requestStream  string
	consumerGroup  string
	consumerName   string
	log            *zap.Logger
}

// NewRedisClient connects, verifies the connection and ensures the consumer
// group exists on the response stream.
func NewRedisClient(url, password string, db int, responseStream, requestStream, consumerGroup string, log *zap.Logger) (MessageClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:         url,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if err := createConsumerGroup(ctx, client, responseStream, consumerGroup); err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	log.Info("redis client initialized",
		zap.String("response_stream", responseStream),
		zap.String("request_stream", requestStream),
		zap.String("group", consumerGroup))

	return &redisClient{
		client:         client,
		responseStream: responseStream,
		requestStream:  requestStream,
		consumerGroup:  consumerGroup,
		consumerName:   fmt.Sprintf("consumer-%d", time.Now().UnixNano()),
		log:            log,
	}, nil
}

func createConsumerGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// PublishBatchRequest emits a REQUEST event with a fresh correlation key and
// returns the key. The collectors answer with DATA_TRANSFER batches and a
// COMPLETE carrying the same key.
func (c *redisClient) PublishBatchRequest(ctx context.Context) (string, error) {
	ev := domain.NewBatchRequest(uuid.NewString())

	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request event: %w", err)
	}

	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.requestStream,
		Values: map[string]interface{}{
			payloadField: string(data),
			"created":    time.Now().UnixNano(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to Redis Stream: %w", err)
	}

	c.log.Info("batch request published",
		zap.String("key", ev.Key), zap.String("stream_id", id))
	return ev.Key, nil
}

// SubscribeToResponses starts the consumer-group read loop in its own
// goroutine and returns. The handler receives decoded events; undecodable
// payloads are dropped with a diagnostic and the loop continues.
func (c *redisClient) SubscribeToResponses(ctx context.Context, handler func(domain.DataTransferEvent)) error {
	c.log.Info("consumer listening", zap.String("consumer", c.consumerName))
	go c.processMessages(ctx, handler)
	return nil
}

func (c *redisClient) processMessages(ctx context.Context, handler func(domain.DataTransferEvent)) {
	blockTime := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer stopped", zap.String("consumer", c.consumerName))
			return
		default:
			messages, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.consumerGroup,
				Consumer: c.consumerName,
				Streams:  []string{c.responseStream, ">"},
				Count:    8,
				Block:    blockTime,
				NoAck:    false,
			}).Result()

			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				c.log.Error("error reading from stream", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}

			for _, stream := range messages {
				for _, message := range stream.Messages {
					c.processMessage(ctx, message, handler)
				}
			}
		}
	}
}

func (c *redisClient) processMessage(ctx context.Context, message redis.XMessage, handler func(domain.DataTransferEvent)) {
	// Ack regardless of payload validity: a malformed message will never
	// become decodable on redelivery.
	defer func() {
		if err := c.client.XAck(ctx, c.responseStream, c.consumerGroup, message.ID).Err(); err != nil {
			c.log.Warn("failed to ack message", zap.String("id", message.ID), zap.Error(err))
		}
	}()

	raw, ok := message.Values[payloadField].(string)
	if !ok {
		c.log.Warn("message without payload dropped", zap.String("id", message.ID))
		return
	}

	var ev domain.DataTransferEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		c.log.Warn("undecodable payload dropped",
			zap.String("id", message.ID), zap.Error(err))
		return
	}

	handler(ev)
}

func (c *redisClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	_, err := c.client.XInfoStream(ctx, c.responseStream).Result()
	if err != nil && !strings.Contains(err.Error(), "no such key") {
		return fmt.Errorf("redis stream check failed: %w", err)
	}

	return nil
}

func (c *redisClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
