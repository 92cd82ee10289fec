package credstore

import (
	"context"
	"errors"
)

// Kind tags the storage variant selected at startup.
type Kind uint8

const (
	KindInMemory Kind = iota
	KindScoped
	KindDurable
)

func (k Kind) String() string {
	switch k {
	case KindDurable:
		return "durable"
	case KindScoped:
		return "scoped"
	case KindInMemory:
		return "in-memory"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("credstore: backend closed")

// Backend is one storage variant. Get reports ok=false for absent keys.
type Backend interface {
	Kind() Kind
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}
