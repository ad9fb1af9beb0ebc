// Package search provides an optional Qdrant-backed accelerated candidate
// finder for the deduplication engine (§4.10), narrowing the
// participant/temporal window scan before it reaches the Postgres fallback
// in large corpora. Mirrors the teacher's Searcher/QdrantIndex boundary,
// adapted from decision/org-scoped search to memory/participant-scoped
// candidate lookup.
package search

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kioku-ai/kioku/internal/model"
)

// Config holds configuration for connecting to Qdrant.
type Config struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// Point is the data needed to upsert a single memory into the candidate
// index: its participant set, extraction time, and summary embedding.
type Point struct {
	MemoryID       string
	ParticipantIDs []string
	ExtractedAt    time.Time
	Embedding      []float32
}

// QdrantIndex narrows the §4.10 participant/temporal candidate scan by id
// only; it does not store full Memory payloads. Wrap it with WithResolver
// to get a dedup.CandidateFinder that resolves matched ids back to
// model.Memory records through the Postgres store.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dims       uint64

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantIndex creates a new QdrantIndex and connects to the Qdrant server via gRPC.
func NewQdrantIndex(cfg Config) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
	}, nil
}

// EnsureCollection creates the collection if it doesn't already exist, with
// HNSW parameters tuned for cosine similarity over summary embeddings, plus
// payload indexes on participant_ids and extracted_at_unix for the §4.10
// candidate window filter.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("search: check collection exists: %w", err)
	}
	if exists {
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dims,
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("search: create collection %q: %w", q.collection, err)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "participant_ids",
		FieldType:      &keywordType,
	}); err != nil {
		return fmt.Errorf("search: create index on participant_ids: %w", err)
	}

	floatType := qdrant.FieldType_FieldTypeFloat
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "extracted_at_unix",
		FieldType:      &floatType,
	}); err != nil {
		return fmt.Errorf("search: create index on extracted_at_unix: %w", err)
	}

	return nil
}

// scrollIDs returns the memory ids whose participant_ids overlap
// participantIDs and whose extracted_at_unix falls in
// [windowStart, windowEnd]. Qdrant only ever holds id + window metadata
// here; Postgres (via storage.DB) remains the source of truth for the full
// record.
func (q *QdrantIndex) scrollIDs(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]string, error) {
	if len(participantIDs) == 0 {
		return nil, nil
	}

	should := make([]*qdrant.Condition, len(participantIDs))
	for i, id := range participantIDs {
		should[i] = qdrant.NewMatch("participant_ids", id)
	}

	limit := uint64(256)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter: &qdrant.Filter{
			Should: should,
			Must: []*qdrant.Condition{
				qdrant.NewRange("extracted_at_unix", &qdrant.Range{
					Gte: qdrant.PtrOf(float64(windowStart.Unix())),
					Lte: qdrant.PtrOf(float64(windowEnd.Unix())),
				}),
			},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(false),
		WithVectors: qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant scroll: %w", err)
	}

	ids := make([]string, 0, len(points))
	for _, p := range points {
		if s := p.Id.GetUuid(); s != "" {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// Upsert inserts or updates memory points in Qdrant.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]any{
			"participant_ids":   p.ParticipantIDs,
			"extracted_at_unix": float64(p.ExtractedAt.Unix()),
		}
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.MemoryID),
			Vectors: qdrant.NewVectorsDense(p.Embedding),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("search: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// MemoryIndexer adapts a QdrantIndex into pipeline.Indexer: a single-point
// Upsert carrying the id, participant set, extraction time, and embedding
// needed to satisfy future §4.10 candidate lookups.
type MemoryIndexer struct {
	index *QdrantIndex
}

// AsIndexer builds a MemoryIndexer over this index.
func (q *QdrantIndex) AsIndexer() *MemoryIndexer { return &MemoryIndexer{index: q} }

// Upsert implements pipeline.Indexer.
func (mi *MemoryIndexer) Upsert(ctx context.Context, m model.Memory) error {
	if len(m.Embedding) == 0 {
		return nil
	}
	return mi.index.Upsert(ctx, []Point{{
		MemoryID:       m.ID,
		ParticipantIDs: m.ParticipantIDs(),
		ExtractedAt:    m.ExtractedAt,
		Embedding:      m.Embedding,
	}})
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds to avoid hammering the health endpoint on every candidate lookup.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	q.healthMu.Lock()
	defer q.healthMu.Unlock()

	if time.Since(q.lastCheck) < 5*time.Second {
		return q.lastErr
	}

	_, err := q.client.HealthCheck(ctx)
	q.lastCheck = time.Now()
	if err != nil {
		q.lastErr = fmt.Errorf("search: qdrant unhealthy: %w", err)
	} else {
		q.lastErr = nil
	}
	return q.lastErr
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// ResolvingFinder adapts a QdrantIndex into a dedup.CandidateFinder by
// resolving the ids Qdrant returns back to full model.Memory records
// through a caller-supplied lookup (normally storage.DB.FindMemoriesByID).
type ResolvingFinder struct {
	index   *QdrantIndex
	resolve func(ctx context.Context, ids []string) ([]model.Memory, error)
}

// WithResolver builds a ResolvingFinder over this index.
func (q *QdrantIndex) WithResolver(resolve func(ctx context.Context, ids []string) ([]model.Memory, error)) *ResolvingFinder {
	return &ResolvingFinder{index: q, resolve: resolve}
}

// FindCandidates implements dedup.CandidateFinder.
func (r *ResolvingFinder) FindCandidates(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]model.Memory, error) {
	ids, err := r.index.scrollIDs(ctx, participantIDs, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.resolve(ctx, ids)
}
