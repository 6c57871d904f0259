package ratelimit

import (
	"context"
	"strings"

	"github.com/sssxyd/apistatus-guard/internal/evaluator"
)

// keySeparator joins a device number and a command key into the single
// opaque key string the shared evaluator.Fetcher interface passes through
// unexamined. fetcher below is the only place that knows how to take it
// apart again.
const keySeparator = "|"

// BuildKey composes the opaque evaluator key for a given device and command.
func BuildKey(deviceNo, commandKey string) string {
	return deviceNo + keySeparator + commandKey
}

func splitKey(key string) (deviceNo, commandKey string) {
	idx := strings.Index(key, keySeparator)
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

// Fetcher adapts Store to evaluator.Fetcher: FetchPrimary answers
// single_command_hits for the (device, command) pair the key encodes;
// FetchSecondary answers total_command_hits for the device alone.
type Fetcher struct {
	store *Store
}

// NewFetcher wraps store as an evaluator.Fetcher.
func NewFetcher(store *Store) Fetcher {
	return Fetcher{store: store}
}

func (f Fetcher) FetchPrimary(ctx context.Context, key string, durationSeconds int64) (evaluator.Window, error) {
	deviceNo, commandKey := splitKey(key)
	return f.store.ReadWindow(ctx, deviceNo, commandKey, durationSeconds)
}

func (f Fetcher) FetchSecondary(ctx context.Context, key string, durationSeconds int64) (evaluator.Window, error) {
	deviceNo, _ := splitKey(key)
	return f.store.ReadDeviceWindow(ctx, deviceNo, durationSeconds)
}
