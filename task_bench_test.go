package tenantq

import (
	"context"
	"strconv"
	"strings"
	"testing"
)

func benchTaskHash(payloadSize int) map[string]string {
	return map[string]string{
		"id": "id-123", "tenant_id": "acme", "type": "embedding", "priority": "3",
		"payload": `{"d":"` + strings.Repeat("x", payloadSize) + `"}`,
		"status": "running", "max_attempts": "5", "attempts": "1",
		"scheduled_at": "1730000000000", "created_at": "1730000000000", "started_at": "1730000005000",
		"worker_id": "host-1-0", "correlation_id": "req-1", "progress": "40",
	}
}

func BenchmarkTaskFromHash(b *testing.B) {
	for _, sz := range []int{64, 2048} {
		b.Run(strconv.Itoa(sz)+"B", func(b *testing.B) {
			h := benchTaskHash(sz)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if t := taskFromHash(h); t.ID == "" {
					b.Fatal("empty task")
				}
			}
		})
	}
}

func BenchmarkManager_EnqueueDequeue(b *testing.B) {
	rdb, _ := newMiniClient(b)
	m := NewManager(NewConnFactory(rdb))
	ctx := context.Background()
	payload := map[string]string{"doc": "d-1"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Enqueue(ctx, TaskEmbedding, "acme", payload); err != nil {
			b.Fatal(err)
		}
		if _, err := m.Dequeue(ctx, TaskEmbedding, "bench"); err != nil {
			b.Fatal(err)
		}
	}
}
