package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aigate/cache")

const (
	fieldID        = "id"
	fieldScope     = "scope"
	fieldExpiresAt = "expires_at"
	fieldVector    = "vector"
)

// MilvusConfig configures the Milvus-backed index.
type MilvusConfig struct {
	Address            string
	Username           string
	Password           string
	Collection         string
	Dimension          int
	HNSWM              int
	HNSWEfConstruction int
	SearchEf           int
}

func (c *MilvusConfig) applyDefaults() {
	if c.Collection == "" {
		c.Collection = "aigate_response_cache"
	}
	if c.HNSWM == 0 {
		c.HNSWM = 16
	}
	if c.HNSWEfConstruction == 0 {
		c.HNSWEfConstruction = 200
	}
	if c.SearchEf == 0 {
		c.SearchEf = 64
	}
}

// milvusBackend is the subset of the Milvus client the index uses.
type milvusBackend interface {
	EnsureCollection(ctx context.Context, schema *entity.Schema, idx entity.Index) error
	Upsert(ctx context.Context, collection string, cols ...entity.Column) error
	Search(ctx context.Context, collection, expr string, vec []float32, topK int, sp entity.SearchParam) ([]Match, error)
	Delete(ctx context.Context, collection, expr string) error
	Close() error
}

// MilvusIndex is an HNSW cosine index in Milvus. Expiry is stored as a
// scalar field and filtered at search time.
type MilvusIndex struct {
	cfg     MilvusConfig
	backend milvusBackend
	now     func() time.Time
}

// NewMilvusIndex connects to Milvus and makes sure the collection, its HNSW
// index and the loaded state exist.
func NewMilvusIndex(ctx context.Context, cfg MilvusConfig) (*MilvusIndex, error) {
	cfg.applyDefaults()
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("milvus index: dimension must be positive")
	}
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to milvus: %w", err)
	}
	idx, err := newMilvusIndex(ctx, cfg, &sdkBackend{c: c})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return idx, nil
}

func newMilvusIndex(ctx context.Context, cfg MilvusConfig, backend milvusBackend) (*MilvusIndex, error) {
	cfg.applyDefaults()
	idx, err := entity.NewIndexHNSW(entity.COSINE, cfg.HNSWM, cfg.HNSWEfConstruction)
	if err != nil {
		return nil, fmt.Errorf("build hnsw index: %w", err)
	}
	if err := backend.EnsureCollection(ctx, cacheSchema(cfg.Collection, cfg.Dimension), idx); err != nil {
		return nil, err
	}
	return &MilvusIndex{cfg: cfg, backend: backend, now: time.Now}, nil
}

func cacheSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "aigate similarity cache vectors",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       fieldScope,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     fieldExpiresAt,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       fieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
			},
		},
	}
}

func (m *MilvusIndex) Upsert(ctx context.Context, id, scope string, vec []float64, expiresAt time.Time) error {
	ctx, span := tracer.Start(ctx, "milvus.Upsert", trace.WithAttributes(attribute.String("collection", m.cfg.Collection)))
	defer span.End()

	if len(vec) != m.cfg.Dimension {
		return fmt.Errorf("milvus upsert: vector has %d dimensions, want %d", len(vec), m.cfg.Dimension)
	}
	err := m.backend.Upsert(ctx, m.cfg.Collection,
		entity.NewColumnVarChar(fieldID, []string{id}),
		entity.NewColumnVarChar(fieldScope, []string{scope}),
		entity.NewColumnInt64(fieldExpiresAt, []int64{expiresAt.Unix()}),
		entity.NewColumnFloatVector(fieldVector, m.cfg.Dimension, [][]float32{toFloat32(vec)}),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("milvus upsert: %w", err)
	}
	return nil
}

func (m *MilvusIndex) Search(ctx context.Context, scope string, vec []float64, threshold float64, limit int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "milvus.Search", trace.WithAttributes(
		attribute.String("collection", m.cfg.Collection),
		attribute.Int("top_k", limit),
	))
	defer span.End()

	if len(vec) != m.cfg.Dimension {
		return nil, fmt.Errorf("milvus search: vector has %d dimensions, want %d", len(vec), m.cfg.Dimension)
	}
	if limit <= 0 {
		limit = 5
	}
	sp, err := entity.NewIndexHNSWSearchParam(m.cfg.SearchEf)
	if err != nil {
		return nil, fmt.Errorf("milvus search param: %w", err)
	}

	expr := m.filter(scope)
	found, err := m.backend.Search(ctx, m.cfg.Collection, expr, toFloat32(vec), limit, sp)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	matches := found[:0]
	for _, f := range found {
		if f.Score >= threshold {
			matches = append(matches, f)
		}
	}
	span.SetAttributes(attribute.Int("result_count", len(matches)))
	return matches, nil
}

func (m *MilvusIndex) filter(scope string) string {
	return fmt.Sprintf(`%s == "%s" && %s > %d`, fieldScope, scope, fieldExpiresAt, m.now().Unix())
}

func (m *MilvusIndex) Delete(ctx context.Context, id string) error {
	return m.backend.Delete(ctx, m.cfg.Collection, fmt.Sprintf(`%s in ["%s"]`, fieldID, id))
}

// Close releases the client connection.
func (m *MilvusIndex) Close() error {
	return m.backend.Close()
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// sdkBackend adapts the Milvus SDK client.
type sdkBackend struct {
	c client.Client
}

func (b *sdkBackend) EnsureCollection(ctx context.Context, schema *entity.Schema, idx entity.Index) error {
	has, err := b.c.HasCollection(ctx, schema.CollectionName)
	if err != nil {
		return fmt.Errorf("milvus has collection: %w", err)
	}
	if !has {
		if err := b.c.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("milvus create collection: %w", err)
		}
		if err := b.c.CreateIndex(ctx, schema.CollectionName, fieldVector, idx, false); err != nil {
			return fmt.Errorf("milvus create index: %w", err)
		}
	}
	if err := b.c.LoadCollection(ctx, schema.CollectionName, false); err != nil {
		return fmt.Errorf("milvus load collection: %w", err)
	}
	return nil
}

func (b *sdkBackend) Upsert(ctx context.Context, collection string, cols ...entity.Column) error {
	_, err := b.c.Upsert(ctx, collection, "", cols...)
	return err
}

func (b *sdkBackend) Search(ctx context.Context, collection, expr string, vec []float32, topK int, sp entity.SearchParam) ([]Match, error) {
	results, err := b.c.Search(ctx, collection, nil, expr, []string{fieldID},
		[]entity.Vector{entity.FloatVector(vec)}, fieldVector, entity.COSINE, topK, sp)
	if err != nil {
		return nil, err
	}
	var out []Match
	for _, r := range results {
		ids, ok := r.Fields.GetColumn(fieldID).(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		for i := 0; i < r.ResultCount; i++ {
			out = append(out, Match{ID: ids.Data()[i], Score: float64(r.Scores[i])})
		}
	}
	return out, nil
}

func (b *sdkBackend) Delete(ctx context.Context, collection, expr string) error {
	return b.c.Delete(ctx, collection, "", expr)
}

func (b *sdkBackend) Close() error {
	return b.c.Close()
}
