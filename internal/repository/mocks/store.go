// Package mocks 提供基于 testify/mock 的存储库 Mock 实现。
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"collab-codespace/internal/repository"
)

// Store 是 repository.Store 的 Mock。
type Store struct {
	mock.Mock
}

var _ repository.Store = (*Store)(nil)

func (m *Store) Save(ctx context.Context, key, value string, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *Store) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *Store) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *Store) AddToSet(ctx context.Context, key, member string) error {
	args := m.Called(ctx, key, member)
	return args.Error(0)
}

func (m *Store) RemoveFromSet(ctx context.Context, key, member string) error {
	args := m.Called(ctx, key, member)
	return args.Error(0)
}

func (m *Store) MembersOfSet(ctx context.Context, key string) ([]string, error) {
	args := m.Called(ctx, key)
	var members []string
	if v := args.Get(0); v != nil {
		members = v.([]string)
	}
	return members, args.Error(1)
}

func (m *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

func (m *Store) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
