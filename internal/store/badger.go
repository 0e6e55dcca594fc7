package store

import (
	"context"
	"encoding/json"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/betbot/ordercore/internal/domain"
)

const intentPrefix = "intent/"

// BadgerStore 基于 Badger 的意图存储：key = intent/<id>，value = JSON
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger 打开（或创建）Badger 目录
func OpenBadger(path string) (*BadgerStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("badger store: path is required")
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrapf(err, "badger store: open %s", path)
	}
	log.Infof("意图存储: badger path=%s", path)
	return &BadgerStore{db: db}, nil
}

func intentKey(id string) []byte {
	return []byte(intentPrefix + id)
}

// SaveIntent 按 ID upsert
func (s *BadgerStore) SaveIntent(ctx context.Context, in domain.OrderIntent) error {
	if s == nil || s.db == nil {
		return errors.New("badger store: not opened")
	}
	if in.ID == "" {
		return errors.New("badger store: intent id is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "badger store: encode intent")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(intentKey(in.ID), val)
	})
	return errors.Wrapf(err, "badger store: save %s", in.ID)
}

// DeleteIntent 删除；不存在不报错
func (s *BadgerStore) DeleteIntent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("badger store: not opened")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(intentKey(id))
	})
	return errors.Wrapf(err, "badger store: delete %s", id)
}

// LoadIntents 读出全部意图（按 key 顺序）
func (s *BadgerStore) LoadIntents(ctx context.Context) ([]domain.OrderIntent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("badger store: not opened")
	}
	var out []domain.OrderIntent
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(intentPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var in domain.OrderIntent
				if err := json.Unmarshal(val, &in); err != nil {
					return errors.Wrapf(err, "decode %s", item.Key())
				}
				out = append(out, in)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "badger store: load intents")
	}
	return out, nil
}

// Close 关闭数据库
func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
