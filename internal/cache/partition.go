package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// Partition 是对 Store 中某个命名分区的句柄，worker 生命周期各阶段通过它读写条目。
type Partition struct {
	store Store
	name  string
}

// OpenPartition 确保分区存在并返回句柄。
func OpenPartition(ctx context.Context, store Store, name string) (Partition, error) {
	if store == nil {
		return Partition{}, ErrStoreUnavailable
	}
	if err := store.Open(ctx, name); err != nil {
		return Partition{}, fmt.Errorf("open partition %s: %w", name, err)
	}
	return Partition{store: store, name: name}, nil
}

// Name 返回分区名。
func (p Partition) Name() string {
	return p.name
}

// Match 读取 key 对应的完整响应，不存在时返回 ErrNotFound。
func (p Partition) Match(ctx context.Context, key string) (*Response, error) {
	result, err := p.store.Get(ctx, Locator{Partition: p.name, Key: key})
	if err != nil {
		return nil, err
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		return nil, fmt.Errorf("read cached %s: %w", key, err)
	}
	return &Response{
		Status: result.Entry.Status,
		Header: result.Entry.Header.Clone(),
		Body:   body,
	}, nil
}

// Put 写入（或覆盖）key 对应的响应。
func (p Partition) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return fmt.Errorf("put %s: nil response", key)
	}
	_, err := p.store.Put(ctx, Locator{Partition: p.name, Key: key}, bytes.NewReader(resp.Body), PutOptions{
		Status: resp.Status,
		Header: resp.Header,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete 删除 key 对应的条目。
func (p Partition) Delete(ctx context.Context, key string) error {
	return p.store.Remove(ctx, Locator{Partition: p.name, Key: key})
}

// Keys 列出分区内所有键。
func (p Partition) Keys(ctx context.Context) ([]string, error) {
	return p.store.Keys(ctx, p.name)
}

// KeySet 以集合形式返回分区内所有键。
func (p Partition) KeySet(ctx context.Context) (map[string]struct{}, error) {
	keys, err := p.Keys(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set, nil
}
