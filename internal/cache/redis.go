package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options Redis 连接配置
type Options struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

var redisClient *redis.Client
var redisPrefix string
var redisEnabled bool

// InitRedis 初始化 Redis 客户端
func InitRedis(opts Options) error {
	if !opts.Enabled {
		redisEnabled = false
		return nil
	}
	addr := strings.TrimSpace(opts.Host)
	if addr == "" {
		addr = "127.0.0.1"
	}
	port := opts.Port
	if port <= 0 {
		port = 6379
	}
	redisPrefix = strings.TrimSpace(opts.Prefix)
	if redisPrefix == "" {
		redisPrefix = "zs"
	}

	redisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", addr, port),
		Password: opts.Password,
		DB:       opts.DB,
	})
	redisEnabled = true
	return nil
}

// Enabled 判断缓存是否启用
func Enabled() bool {
	return redisEnabled && redisClient != nil
}

// Client 获取 Redis 客户端
func Client() *redis.Client {
	if !Enabled() {
		return nil
	}
	return redisClient
}

// GetJSON 获取 JSON 缓存
func GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !Enabled() {
		return false, nil
	}
	val, err := redisClient.Get(ctx, buildKey(key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON 写入 JSON 缓存
func SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !Enabled() {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return redisClient.Set(ctx, buildKey(key), payload, ttl).Err()
}

// Exists 判断键是否存在。缓存未启用时总是返回 false。
func Exists(ctx context.Context, key string) (bool, error) {
	if !Enabled() {
		return false, nil
	}
	count, err := redisClient.Exists(ctx, buildKey(key)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Del 删除缓存
func Del(ctx context.Context, key string) error {
	if !Enabled() {
		return nil
	}
	return redisClient.Del(ctx, buildKey(key)).Err()
}

// AcquireLock 获取分布式锁
func AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if !Enabled() {
		return true, nil
	}
	return redisClient.SetNX(ctx, buildKey(key), token, ttl).Result()
}

// ReleaseLock 释放分布式锁，仅当持有者 token 匹配时删除
func ReleaseLock(ctx context.Context, key, token string) error {
	if !Enabled() {
		return nil
	}
	script := redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)
	return script.Run(ctx, redisClient, []string{buildKey(key)}, token).Err()
}

func buildKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return redisPrefix
	}
	return fmt.Sprintf("%s:%s", redisPrefix, trimmed)
}
