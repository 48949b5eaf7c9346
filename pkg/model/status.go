package model

import "fmt"

// ProcessingStatus Filing处理状态
type ProcessingStatus string

const (
	StatusPending      ProcessingStatus = "pending"
	StatusDownloading  ProcessingStatus = "downloading"
	StatusParsing      ProcessingStatus = "parsing"
	StatusAIProcessing ProcessingStatus = "ai_processing"
	StatusCompleted    ProcessingStatus = "completed"
	StatusFailed       ProcessingStatus = "failed"
	StatusSkipped      ProcessingStatus = "skipped"
)

// transitions 状态迁移表：当前状态 -> 允许的下一个状态
var transitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:      {StatusDownloading, StatusSkipped, StatusFailed},
	StatusDownloading:  {StatusParsing, StatusFailed},
	StatusParsing:      {StatusAIProcessing, StatusDownloading, StatusFailed},
	StatusAIProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:       {StatusPending, StatusDownloading},
	StatusCompleted:    {StatusPending},
	StatusSkipped:      {},
}

// CanTransition 判断状态迁移是否合法
func CanTransition(from, to ProcessingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition 非法迁移返回错误
func ValidateTransition(from, to ProcessingStatus) error {
	if _, ok := transitions[from]; !ok {
		return fmt.Errorf("未知状态: %q", from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("非法状态迁移: %s -> %s", from, to)
	}
	return nil
}

// IsInFlight 处理中的状态
func (s ProcessingStatus) IsInFlight() bool {
	return s == StatusDownloading || s == StatusParsing || s == StatusAIProcessing
}

// IsTerminal 终止状态
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// pipelineOrder 正常流水线中的顺序，用于单调性检查
var pipelineOrder = map[ProcessingStatus]int{
	StatusPending:      0,
	StatusDownloading:  1,
	StatusParsing:      2,
	StatusAIProcessing: 3,
	StatusCompleted:    4,
}

// Stage 返回状态在流水线中的序号，failed/skipped返回-1
func (s ProcessingStatus) Stage() int {
	if n, ok := pipelineOrder[s]; ok {
		return n
	}
	return -1
}
