package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jhomra21/canvaschat/internal/domain"
)

// Storage namespaces. Ordinary chat messages and synthetic join/leave
// notices are partitioned so pruning and history reads never have to
// interleave the two kinds at the storage layer.
const (
	NamespaceChat   = "msg:"
	NamespaceSystem = "sys:"
)

var Namespaces = []string{NamespaceChat, NamespaceSystem}

var (
	ErrNoMessages = errors.New("no messages stored")
	ErrBadKey     = errors.New("malformed message key")
)

// MessageLog is the durable, append-mostly message store. Keys encode the
// message timestamp so that lexicographic order equals chronological order
// and "newest N" is a suffix scan.
type MessageLog interface {
	// Put persists a message under the key derived from its timestamp.
	Put(ctx context.Context, namespace string, msg *domain.ChatMessage) error
	// Newest returns up to limit most recent messages in chronological order.
	Newest(ctx context.Context, namespace string, limit int) ([]*domain.ChatMessage, error)
	// Prune deletes every key older than the newest keep entries and
	// reports how many were removed.
	Prune(ctx context.Context, namespace string, keep int) (int, error)
	// NewestTimestamp returns the timestamp of the most recent message
	// across all namespaces, or ErrNoMessages.
	NewestTimestamp(ctx context.Context) (int64, error)
}

// EncodeKey renders a storage key: namespace prefix plus the 20-digit
// zero-padded decimal millisecond timestamp.
func EncodeKey(namespace string, timestamp int64) string {
	return fmt.Sprintf("%s%020d", namespace, timestamp)
}

// DecodeKey recovers the timestamp from a key produced by EncodeKey.
func DecodeKey(namespace, key string) (int64, error) {
	if len(key) != len(namespace)+20 || key[:len(namespace)] != namespace {
		return 0, ErrBadKey
	}
	ts, err := strconv.ParseInt(key[len(namespace):], 10, 64)
	if err != nil {
		return 0, ErrBadKey
	}
	return ts, nil
}
