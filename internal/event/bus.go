package event

import (
	"context"
	"sync"
	"time"

	"github.com/zhushou-next/internal/constants"
	"github.com/zhushou-next/internal/logger"

	"github.com/google/uuid"
)

// Event 计费域事件
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Provider  string                 `json:"provider,omitempty"`
	OrderNo   string                 `json:"order_no,omitempty"`
	UserID    string                 `json:"user_id"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler 事件处理函数。返回错误只记日志，不影响其他订阅者。
type Handler func(ctx context.Context, evt Event) error

// Bus 进程内事件总线。
// 订阅者按事件类型注册，"*" 匹配所有类型；Emit 并发调用
// 所有命中的订阅者并等待全部完成，单个订阅者 panic 或出错
// 不影响其余订阅者。
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[string]Handler // type -> name -> handler
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string]map[string]Handler),
	}
}

// Register 注册订阅者。同名订阅者重复注册时覆盖。
func (b *Bus) Register(eventType, name string, handler Handler) {
	if eventType == "" || name == "" || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	b.handlers[eventType][name] = handler
}

// Unregister 注销订阅者
func (b *Bus) Unregister(eventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handlers, ok := b.handlers[eventType]; ok {
		delete(handlers, name)
		if len(handlers) == 0 {
			delete(b.handlers, eventType)
		}
	}
}

// Emit 发布事件并等待所有订阅者处理完成。
// 事件 ID 与时间戳缺省时自动补齐。
func (b *Bus) Emit(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	type namedHandler struct {
		name    string
		handler Handler
	}
	b.mu.RLock()
	var targets []namedHandler
	for name, handler := range b.handlers[evt.Type] {
		targets = append(targets, namedHandler{name: name, handler: handler})
	}
	for name, handler := range b.handlers[constants.EventWildcard] {
		targets = append(targets, namedHandler{name: name, handler: handler})
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(name string, handler Handler) {
			defer wg.Done()
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Errorw("event_handler_panic",
						"event_id", evt.ID,
						"event_type", evt.Type,
						"handler", name,
						"panic", recovered,
					)
				}
			}()
			if err := handler(ctx, evt); err != nil {
				logger.Warnw("event_handler_failed",
					"event_id", evt.ID,
					"event_type", evt.Type,
					"handler", name,
					"error", err,
				)
			}
		}(target.name, target.handler)
	}
	wg.Wait()
}
