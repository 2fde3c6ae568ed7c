package cache

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/srhkb/kbchat/internal/pipeline"
)

func TestResponseCachePutGet(t *testing.T) {
	c := NewResponseCache(time.Minute, 10)

	resp := pipeline.Response{Kind: pipeline.KindGrounded, Content: "answer"}
	c.Put("what are the fees", resp)

	got, ok := c.Get("what are the fees")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !reflect.DeepEqual(got, resp) {
		t.Errorf("got %+v, want %+v", got, resp)
	}

	if _, ok := c.Get("different query"); ok {
		t.Error("unexpected hit for different query")
	}
}

func TestResponseCacheExpiry(t *testing.T) {
	c := NewResponseCache(time.Minute, 10)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("q", pipeline.Response{Kind: pipeline.KindGrounded, Content: "a"})

	now = now.Add(59 * time.Second)
	if _, ok := c.Get("q"); !ok {
		t.Error("entry expired before TTL")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("q"); ok {
		t.Error("entry survived past TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, len = %d", c.Len())
	}
}

func TestResponseCacheSkipsErrors(t *testing.T) {
	c := NewResponseCache(time.Minute, 10)
	c.Put("q", pipeline.Response{Kind: pipeline.KindError, Content: "oops"})
	if _, ok := c.Get("q"); ok {
		t.Error("error-kind response must not be cached")
	}
}

func TestResponseCacheEviction(t *testing.T) {
	c := NewResponseCache(time.Minute, 2)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("oldest", pipeline.Response{Kind: pipeline.KindGrounded})
	now = now.Add(time.Second)
	c.Put("newer", pipeline.Response{Kind: pipeline.KindGrounded})
	now = now.Add(time.Second)
	c.Put("newest", pipeline.Response{Kind: pipeline.KindGrounded})

	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if _, ok := c.Get("oldest"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("newest"); !ok {
		t.Error("newest entry missing")
	}
}

func TestResponseCacheReset(t *testing.T) {
	c := NewResponseCache(time.Minute, 10)
	c.Put("q", pipeline.Response{Kind: pipeline.KindGrounded})
	c.Reset()
	if c.Len() != 0 {
		t.Errorf("len after reset = %d", c.Len())
	}
}

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text))}, nil
}

func TestEmbeddingCacheHit(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewEmbeddingCache(inner, 10)

	first, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cache returned different vector: %v vs %v", first, second)
	}
}

func TestEmbeddingCacheLRUEviction(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewEmbeddingCache(inner, 2)

	c.Embed(context.Background(), "a")
	c.Embed(context.Background(), "bb")
	c.Embed(context.Background(), "a") // refresh "a"; "bb" is now LRU
	c.Embed(context.Background(), "ccc")

	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}

	calls := inner.calls
	c.Embed(context.Background(), "a")
	if inner.calls != calls {
		t.Error("refreshed entry was evicted")
	}
	c.Embed(context.Background(), "bb")
	if inner.calls != calls+1 {
		t.Error("LRU entry should have been evicted and recomputed")
	}
}

func TestEmbeddingCacheSkipsFailures(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("down")}
	c := NewEmbeddingCache(inner, 10)

	if _, err := c.Embed(context.Background(), "a"); err == nil {
		t.Fatal("expected error")
	}
	if c.Len() != 0 {
		t.Errorf("failure was cached, len = %d", c.Len())
	}

	inner.err = nil
	if _, err := c.Embed(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("inner called %d times, want 2", inner.calls)
	}
}
