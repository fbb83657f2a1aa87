package cache

import (
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

func TestDocumentKey(t *testing.T) {
	if got := DocumentKey("d1"); got != "doc:d1" {
		t.Errorf("DocumentKey = %q, want doc:d1", got)
	}
}

func TestNewWithClientDefaultsTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { client.Close() })

	s := NewWithClient(client, 0)
	if s.ttl != defaultTTL {
		t.Errorf("ttl = %s, want default %s", s.ttl, defaultTTL)
	}

	s = NewWithClient(client, 5*time.Minute)
	if s.ttl != 5*time.Minute {
		t.Errorf("ttl = %s, want 5m", s.ttl)
	}
}
