// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Content is the ordered parameter set carried by a Message. Keys keep their
// insertion order through JSON round trips, which keeps logged and exported
// payloads stable.
type Content struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewContent returns an empty Content.
func NewContent() *Content {
	return &Content{m: orderedmap.New[string, any]()}
}

// ContentFrom builds Content from a plain map. Map iteration order is random,
// so callers that care about order should use Set instead.
func ContentFrom(values map[string]any) *Content {
	c := NewContent()
	for k, v := range values {
		c.m.Set(k, v)
	}
	return c
}

// Set stores a value and returns the receiver for chaining.
func (c *Content) Set(key string, value any) *Content {
	c.m.Set(key, value)
	return c
}

// Value returns the raw value stored under key.
func (c *Content) Value(key string) (any, bool) {
	if c == nil || c.m == nil {
		return nil, false
	}
	return c.m.Get(key)
}

// Has reports whether key is present.
func (c *Content) Has(key string) bool {
	_, ok := c.Value(key)
	return ok
}

// String returns the value under key coerced to a string, or def when absent
// or empty.
func (c *Content) String(key, def string) string {
	v, ok := c.Value(key)
	if !ok || v == nil {
		return def
	}
	s := cast.ToString(v)
	if s == "" {
		return def
	}
	return s
}

// Ints returns the value under key as a slice of ints. Values decoded from
// JSON arrive as []any of float64 and are coerced the same way.
func (c *Content) Ints(key string) []int {
	v, ok := c.Value(key)
	if !ok || v == nil {
		return nil
	}
	return cast.ToIntSlice(v)
}

// Strings returns the value under key as a slice of strings.
func (c *Content) Strings(key string) []string {
	v, ok := c.Value(key)
	if !ok || v == nil {
		return nil
	}
	return cast.ToStringSlice(v)
}

// Map returns the value under key as a string-keyed map.
func (c *Content) Map(key string) map[string]any {
	v, ok := c.Value(key)
	if !ok || v == nil {
		return nil
	}
	if nested, ok := v.(*Content); ok {
		return nested.ToMap()
	}
	return cast.ToStringMap(v)
}

// Keys returns the keys in insertion order.
func (c *Content) Keys() []string {
	if c == nil || c.m == nil {
		return nil
	}
	keys := make([]string, 0, c.m.Len())
	for pair := c.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Len returns the number of keys.
func (c *Content) Len() int {
	if c == nil || c.m == nil {
		return 0
	}
	return c.m.Len()
}

// ToMap returns an unordered copy.
func (c *Content) ToMap() map[string]any {
	out := make(map[string]any, c.Len())
	if c == nil || c.m == nil {
		return out
	}
	for pair := c.m.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

// Clone returns a shallow copy preserving order.
func (c *Content) Clone() *Content {
	out := NewContent()
	if c == nil || c.m == nil {
		return out
	}
	for pair := c.m.Oldest(); pair != nil; pair = pair.Next() {
		out.m.Set(pair.Key, pair.Value)
	}
	return out
}

func (c *Content) MarshalJSON() ([]byte, error) {
	if c == nil || c.m == nil {
		return []byte("{}"), nil
	}
	return c.m.MarshalJSON()
}

func (c *Content) UnmarshalJSON(data []byte) error {
	c.m = orderedmap.New[string, any]()
	return c.m.UnmarshalJSON(data)
}

// Message is the unit of work delivered to an agent's inbox.
type Message struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"agent_id"`
	MessageType   string    `json:"message_type"`
	Content       *Content  `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewMessage builds a message addressed to agentID. The content is copied so
// later changes by the caller are not visible to the handler.
func NewMessage(agentID, messageType string, content *Content, correlationID string) Message {
	return Message{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		MessageType:   messageType,
		Content:       content.Clone(),
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// UnmarshalJSON fills in an id and timestamp when the payload omits them.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	if p.Content == nil {
		p.Content = NewContent()
	}
	*m = Message(p)
	return nil
}
