package search

import (
	"context"
	"testing"
	"time"

	"github.com/kioku-ai/kioku/internal/model"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{
			name:   "https cloud URL with REST port",
			rawURL: "https://xyz.cloud.qdrant.io:6333",
			host:   "xyz.cloud.qdrant.io",
			port:   6334, // REST 6333 → gRPC 6334
			tls:    true,
		},
		{
			name:   "https cloud URL with gRPC port",
			rawURL: "https://xyz.cloud.qdrant.io:6334",
			host:   "xyz.cloud.qdrant.io",
			port:   6334,
			tls:    true,
		},
		{
			name:   "http local URL",
			rawURL: "http://localhost:6333",
			host:   "localhost",
			port:   6334,
			tls:    false,
		},
		{
			name:   "http no port defaults to 6334",
			rawURL: "http://qdrant.internal",
			host:   "qdrant.internal",
			port:   6334,
			tls:    false,
		},
		{
			name:   "custom port preserved",
			rawURL: "https://qdrant.example.com:9334",
			host:   "qdrant.example.com",
			port:   9334,
			tls:    true,
		},
		{
			name:    "empty URL",
			rawURL:  "",
			wantErr: true,
		},
		{
			name:    "no scheme no host",
			rawURL:  "not-a-url",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.rawURL)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if host != tt.host {
				t.Errorf("expected host %q, got %q", tt.host, host)
			}
			if port != tt.port {
				t.Errorf("expected port %d, got %d", tt.port, port)
			}
			if tls != tt.tls {
				t.Errorf("expected tls %v, got %v", tt.tls, tls)
			}
		})
	}
}

func TestMemoryIndexer_UpsertSkipsWithoutEmbedding(t *testing.T) {
	// A QdrantIndex with a nil client would panic if Upsert tried to reach
	// the network; MemoryIndexer must no-op before that point when the
	// memory carries no embedding (the common case when no provider is
	// configured).
	idx := &QdrantIndex{collection: "memories"}
	mi := idx.AsIndexer()

	err := mi.Upsert(context.Background(), model.Memory{
		ID:          "mem-1",
		ExtractedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("expected no-op (nil error) without embedding, got: %v", err)
	}
}
