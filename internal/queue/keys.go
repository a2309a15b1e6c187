package queue

import "fmt"

// keyspace derives the Redis keys used for one task kind.
type keyspace struct {
	prefix string
	kind   string
}

func (k keyspace) base() string {
	if k.prefix == "" {
		return "queue"
	}
	return k.prefix
}

func (k keyspace) ready() string { return fmt.Sprintf("%s:queue:%s", k.base(), k.kind) }

func (k keyspace) processing() string { return fmt.Sprintf("%s:%s:processing", k.base(), k.kind) }

func (k keyspace) dedup(key string) string {
	return fmt.Sprintf("%s:dedup:%s:%s", k.base(), k.kind, key)
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == ':':
		default:
			return ""
		}
	}
	return kind
}
