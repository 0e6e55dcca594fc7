package ports

import (
	"context"

	"github.com/betbot/ordercore/internal/domain"
)

// IntentStore 下单意图持久化（可选）。
// 实现需保证 SaveIntent 对同一 ID 是覆盖写（upsert）。
type IntentStore interface {
	SaveIntent(ctx context.Context, intent domain.OrderIntent) error
	DeleteIntent(ctx context.Context, id string) error
	LoadIntents(ctx context.Context) ([]domain.OrderIntent, error)
	Close() error
}
