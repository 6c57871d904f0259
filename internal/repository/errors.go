// Package repository declares the storage-agnostic interfaces the alarm
// dispatcher depends on, and the sentinel errors its implementations return.
package repository

import (
	"context"
	"errors"
)

// ErrNotFound indicates an audit row was not located.
var ErrNotFound = errors.New("repository: not found")

// AlarmEvent is a durable record of one dispatched alarm, independent of
// whether its outbound POST succeeded.
type AlarmEvent struct {
	ID              string
	Feature         string
	DurationSeconds int
	Threshold       float64
	Probability     float64
	Command         string
	ActualValue     float64
	ClientIP        string
	TriggerTime     int64 // Unix seconds
	Delivered       bool
	DeliveryError   string
}

// AlarmRepository persists alarm audit rows.
type AlarmRepository interface {
	InsertAlarmEvent(ctx context.Context, event AlarmEvent) error
}
