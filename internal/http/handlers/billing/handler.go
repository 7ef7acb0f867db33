package billing

import (
	"github.com/zhushou-next/internal/provider"
)

// Handler 计费域 HTTP 处理器
type Handler struct {
	*provider.Container
}

// New 创建处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
