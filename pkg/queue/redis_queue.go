package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue Redis队列实现
//
// 承载三类跨进程消息：
//   - 调度器控制队列（列表，任意进程可提交任务控制命令）
//   - 通知通道（发布/订阅，WebSocket端消费）
//   - 遥测事件队列（列表，即发即弃）
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// Config Redis配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// NewRedisQueue 创建Redis队列实例
func NewRedisQueue(config *Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	prefix := config.Prefix
	if prefix == "" {
		prefix = "ivc"
	}

	return &RedisQueue{
		client: client,
		prefix: prefix,
	}
}

// Close 关闭Redis连接
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping 测试Redis连接
func (q *RedisQueue) Ping() error {
	ctx := context.Background()
	return q.client.Ping(ctx).Err()
}

// GetClient 获取底层Redis客户端
func (q *RedisQueue) GetClient() *redis.Client {
	return q.client
}

func (q *RedisQueue) controlKey() string {
	return q.prefix + ":jobs:control"
}

func (q *RedisQueue) notificationChannel() string {
	return q.prefix + ":notifications"
}

func (q *RedisQueue) telemetryKey() string {
	return q.prefix + ":telemetry:events"
}

// PushControl 提交一条任务控制命令
func (q *RedisQueue) PushControl(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.controlKey(), payload).Err(); err != nil {
		return fmt.Errorf("提交任务控制命令失败: %v", err)
	}
	return nil
}

// PopControl 阻塞式取出一条任务控制命令
//
// 没有命令时最多阻塞timeout；超时返回redis.Nil。
func (q *RedisQueue) PopControl(ctx context.Context, timeout time.Duration) ([]byte, error) {
	result, err := q.client.BRPop(ctx, timeout, q.controlKey()).Result()
	if err != nil {
		return nil, err
	}
	// BRPop返回 [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("意外的BRPop返回: %v", result)
	}
	return []byte(result[1]), nil
}

// PublishNotification 发布一条出站通知
func (q *RedisQueue) PublishNotification(ctx context.Context, payload []byte) error {
	return q.client.Publish(ctx, q.notificationChannel(), payload).Err()
}

// SubscribeNotifications 订阅出站通知通道
func (q *RedisQueue) SubscribeNotifications(ctx context.Context) *redis.PubSub {
	return q.client.Subscribe(ctx, q.notificationChannel())
}

// PushTelemetry 推送一条遥测事件（即发即弃）
func (q *RedisQueue) PushTelemetry(ctx context.Context, payload []byte) error {
	return q.client.LPush(ctx, q.telemetryKey(), payload).Err()
}
