package services

import (
	"context"
	"encoding/json"
	"time"

	"ivc/pkg/logger"
	"ivc/pkg/queue"
)

// DataInjector 把工作副本里的训练数据导入数据库
//
// 由训练数据子系统实现，版本控制只在同步边界上调用。
type DataInjector interface {
	InjectAll(ctx context.Context, projectID, root string) error
}

// DataExporter 把数据库里的训练数据导出到工作副本
type DataExporter interface {
	DumpAll(ctx context.Context, projectID, root string) error
	DumpCategory(ctx context.Context, projectID, root, category string, files []string) error
}

// NotificationSink 面向前端的事件通知
type NotificationSink interface {
	Publish(ctx context.Context, topic, event string, data map[string]interface{}) error
}

// TelemetryRecorder 遥测事件上报
type TelemetryRecorder interface {
	Record(ctx context.Context, event string, properties map[string]interface{})
}

// RedisNotificationSink 通过Redis发布订阅广播事件，由WebSocket网关转发给前端
type RedisNotificationSink struct {
	q *queue.RedisQueue
}

func NewRedisNotificationSink(q *queue.RedisQueue) *RedisNotificationSink {
	return &RedisNotificationSink{q: q}
}

// NotificationEvent 通知消息的线上格式
type NotificationEvent struct {
	Topic     string                 `json:"topic"`
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (s *RedisNotificationSink) Publish(ctx context.Context, topic, event string, data map[string]interface{}) error {
	payload, err := json.Marshal(&NotificationEvent{
		Topic:     topic,
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	return s.q.PublishNotification(ctx, payload)
}

// RedisTelemetryRecorder 把遥测事件写入Redis队列，由上报进程异步消费
type RedisTelemetryRecorder struct {
	q *queue.RedisQueue
}

func NewRedisTelemetryRecorder(q *queue.RedisQueue) *RedisTelemetryRecorder {
	return &RedisTelemetryRecorder{q: q}
}

type telemetryEvent struct {
	Event      string                 `json:"event"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

func (r *RedisTelemetryRecorder) Record(ctx context.Context, event string, properties map[string]interface{}) {
	payload, err := json.Marshal(&telemetryEvent{
		Event:      event,
		Properties: properties,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return
	}
	if err := r.q.PushTelemetry(ctx, payload); err != nil {
		// 遥测失败不影响业务流程
		logger.GetLogger().Debugf("遥测事件入队失败: %v", err)
	}
}

// NoopInjector 占位实现，同步时不导入数据
type NoopInjector struct{}

func (NoopInjector) InjectAll(ctx context.Context, projectID, root string) error { return nil }

// NoopExporter 占位实现，写盘时不导出数据
type NoopExporter struct{}

func (NoopExporter) DumpAll(ctx context.Context, projectID, root string) error { return nil }
func (NoopExporter) DumpCategory(ctx context.Context, projectID, root, category string, files []string) error {
	return nil
}

// NoopNotificationSink 丢弃所有通知
type NoopNotificationSink struct{}

func (NoopNotificationSink) Publish(ctx context.Context, topic, event string, data map[string]interface{}) error {
	return nil
}

// NoopTelemetryRecorder 丢弃所有遥测事件
type NoopTelemetryRecorder struct{}

func (NoopTelemetryRecorder) Record(ctx context.Context, event string, properties map[string]interface{}) {
}
