package sourcecache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/sourcecache/codec"
)

// ConversationCache holds per-user conversation state on the durable
// backend (by default), keyed by conversation id.
type ConversationCache[V any] struct {
	*Cache[V]
}

func NewConversationCache[V any](m *Manager, c codec.Codec[V]) *ConversationCache[V] {
	return &ConversationCache[V]{Cache: NewCache[V](m, SourceConversationHistory, c)}
}

// Get returns the cached conversation, if still live.
func (c *ConversationCache[V]) Get(ctx context.Context, conversationID, userID string) (V, bool) {
	return c.Cache.Get(ctx, conversationID, userID, nil)
}

// Set stores the conversation under (conversationID, userID).
func (c *ConversationCache[V]) Set(ctx context.Context, conversationID, userID string, v V) {
	c.Cache.Set(ctx, conversationID, userID, nil, v)
}

// Delete removes a single conversation. Administrative: errors propagate.
func (c *ConversationCache[V]) Delete(ctx context.Context, conversationID, userID string) error {
	if !c.m.Enabled() {
		return nil
	}
	b, err := c.m.Backend(ctx, c.source)
	if err != nil {
		return err
	}
	return b.Delete(ctx, c.key(conversationID, userID, nil, "", time.Time{}))
}

// UserConversations lists every live conversation cached for userID: a
// pattern scan followed by a batched multi-get. Entries that expired
// between the scan and the read simply drop out of the result.
func (c *ConversationCache[V]) UserConversations(ctx context.Context, userID string) ([]V, error) {
	if !c.m.Enabled() {
		return nil, nil
	}
	b, err := c.m.Backend(ctx, c.source)
	if err != nil {
		return nil, err
	}
	keys, err := b.Keys(ctx, c.m.KeyGen().Pattern(string(c.source), userID))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	raws, err := b.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]V, 0, len(raws))
	for k, raw := range raws {
		v, err := c.codec.Decode(raw)
		if err != nil {
			_ = b.Delete(ctx, k)
			c.log.Warn("conversation entry undecodable, dropped", Fields{"key": k, "err": err})
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
