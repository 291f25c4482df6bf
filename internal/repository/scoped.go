package repository

import "context"

// Scoped prefixes every key with a namespace so one backing store can hold
// records for many users under the same well-known key.
type Scoped struct {
	store  KeyValueStore
	prefix string
}

// NewScoped returns a view of store whose keys live under namespace.
func NewScoped(store KeyValueStore, namespace string) *Scoped {
	return &Scoped{store: store, prefix: namespace + "/"}
}

// UserScope returns the namespace used for a user's records.
func UserScope(store KeyValueStore, userID string) *Scoped {
	return NewScoped(store, "user:"+userID)
}

func (s *Scoped) Get(ctx context.Context, key string) (string, error) {
	return s.store.Get(ctx, s.prefix+key)
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.prefix+key, value)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.prefix+key)
}

func (s *Scoped) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

var _ KeyValueStore = (*Scoped)(nil)
