// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"

	"github.com/chatwarden/chatwarden/lib/jid"
)

// cacheCapacity bounds the message cache. Old enough entries only
// matter for delivery retries and quoted replies, both of which arrive
// soon after the original message.
const cacheCapacity = 4096

// messageCache remembers recent message bodies by conversation and
// message ID so the transport can rebuild payloads without a network
// fetch. Evicts in insertion order once full.
type messageCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]string
	order    []string
	next     int
}

func newMessageCache(capacity int) *messageCache {
	return &messageCache{
		capacity: capacity,
		entries:  make(map[string]string, capacity),
		order:    make([]string, capacity),
	}
}

// cacheKey joins conversation and message ID with a separator neither
// can contain.
func cacheKey(conversation jid.JID, messageID string) string {
	return conversation.String() + "\x00" + messageID
}

func (c *messageCache) store(conversation jid.JID, messageID, body string) {
	key := cacheKey(conversation, messageID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = body
		return
	}
	if evicted := c.order[c.next]; evicted != "" {
		delete(c.entries, evicted)
	}
	c.order[c.next] = key
	c.next = (c.next + 1) % c.capacity
	c.entries[key] = body
}

// lookup matches the chat.DialConfig.LookupMessage signature.
func (c *messageCache) lookup(conversation jid.JID, messageID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.entries[cacheKey(conversation, messageID)]
	return body, ok
}
