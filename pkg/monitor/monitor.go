package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus 健康状态
type HealthStatus struct {
	Component   string    `json:"component"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Message     string    `json:"message,omitempty"`
}

// CheckFunc 组件探测，返回nil表示健康
type CheckFunc func(ctx context.Context) error

// Monitor 组件健康登记
type Monitor struct {
	components map[string]*HealthStatus
	checks     map[string]CheckFunc
	mutex      sync.RWMutex
	alertFunc  func(component, status, message string)
	logger     *zap.Logger
}

// NewMonitor 创建监控，alertFunc为nil时状态变坏只写日志
func NewMonitor(logger *zap.Logger, alertFunc func(component, status, message string)) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		components: make(map[string]*HealthStatus),
		checks:     make(map[string]CheckFunc),
		alertFunc:  alertFunc,
		logger:     logger,
	}
}

// Register 注册组件及其探测函数
func (m *Monitor) Register(component string, check CheckFunc) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.components[component] = &HealthStatus{
		Component:   component,
		Status:      StatusUnknown,
		LastChecked: time.Now(),
	}
	if check != nil {
		m.checks[component] = check
	}
}

// UpdateStatus 更新组件状态
func (m *Monitor) UpdateStatus(component, status, message string) {
	m.mutex.Lock()
	hs, exists := m.components[component]
	if !exists {
		hs = &HealthStatus{Component: component}
		m.components[component] = hs
	}
	oldStatus := hs.Status
	hs.Status = status
	hs.LastChecked = time.Now()
	hs.Message = message
	m.mutex.Unlock()

	if oldStatus == status {
		return
	}
	if status != StatusHealthy {
		m.logger.Warn("组件状态异常", zap.String("component", component), zap.String("status", status), zap.String("message", message))
		if m.alertFunc != nil {
			m.alertFunc(component, status, message)
		}
		return
	}
	m.logger.Info("组件恢复", zap.String("component", component))
}

// GetStatus 获取组件状态的副本
func (m *Monitor) GetStatus(component string) *HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if status, exists := m.components[component]; exists {
		cp := *status
		return &cp
	}
	return nil
}

// GetAllStatus 按组件名排序的全部状态
func (m *Monitor) GetAllStatus() []HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	statuses := make([]HealthStatus, 0, len(m.components))
	for _, status := range m.components {
		statuses = append(statuses, *status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Component < statuses[j].Component })
	return statuses
}

// Ready 所有已注册组件都健康时为true
func (m *Monitor) Ready() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, status := range m.components {
		if status.Status != StatusHealthy {
			return false
		}
	}
	return len(m.components) > 0
}

// CheckAll 执行全部探测
func (m *Monitor) CheckAll(ctx context.Context, timeout time.Duration) {
	m.mutex.RLock()
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mutex.RUnlock()

	var wg sync.WaitGroup
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := fn(cctx); err != nil {
				m.UpdateStatus(name, StatusUnhealthy, err.Error())
				return
			}
			m.UpdateStatus(name, StatusHealthy, "")
		}(name, fn)
	}
	wg.Wait()
}

// StartChecking 立即检查一次，之后定期检查，直到ctx取消
func (m *Monitor) StartChecking(ctx context.Context, interval time.Duration) {
	m.CheckAll(ctx, interval/2)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckAll(ctx, interval/2)
			}
		}
	}()
}

// HTTPCheck 对url发送HEAD请求，2xx/3xx视为健康
func HTTPCheck(client *http.Client, url, userAgent string) CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		if userAgent != "" {
			req.Header.Set("User-Agent", userAgent)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("HTTP请求失败: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("HTTP状态码异常: %d", resp.StatusCode)
		}
		return nil
	}
}
