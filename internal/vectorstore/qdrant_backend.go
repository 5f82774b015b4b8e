package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// QdrantConfig configures the external Qdrant backend, grounded on the
// same gRPC dial shape used elsewhere in the core.
type QdrantConfig struct {
	Host           string
	Port           int
	UseTLS         bool
	APIKey         string
	Collection     string
	Dimension      int
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultQdrantConfig mirrors common local-development defaults.
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host: "localhost", Port: 6334,
		DialTimeout: 5 * time.Second, RequestTimeout: 30 * time.Second,
	}
}

// QdrantStore implements Store against an external Qdrant collection over
// gRPC. It is the alternative to EmbeddedStore for workspaces that want a
// shared, durable, horizontally scalable vector table.
type QdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
}

// NewQdrantStore dials collection, creating it if absent.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	opts := []grpc.DialOption{}
	if !cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		UseTLS:      cfg.UseTLS,
		APIKey:      cfg.APIKey,
		GrpcOptions: opts,
	})
	if err != nil {
		return nil, semerr.New(semerr.Storage, fmt.Errorf("dialing qdrant: %w", err))
	}

	s := &QdrantStore{client: client, cfg: cfg}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if _, err := client.HealthCheck(dialCtx); err != nil {
		return nil, semerr.New(semerr.Storage, fmt.Errorf("qdrant health check: %w", err))
	}

	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	_, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != codes.NotFound {
		return semerr.New(semerr.Storage, fmt.Errorf("checking collection: %w", err))
	}

	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.cfg.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (s *QdrantStore) Dimension() int { return s.cfg.Dimension }

func (s *QdrantStore) Close() error { return s.client.Close() }

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err != nil {
		return 0, semerr.New(semerr.Storage, err)
	}
	if info.PointsCount == nil {
		return 0, nil
	}
	return int(*info.PointsCount), nil
}

func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	for i := range points {
		if len(points[i].Vector) != s.cfg.Dimension {
			return semerr.Newf(semerr.DimensionMismatch, "point %s has dimension %d, store expects %d", points[i].ID, len(points[i].Vector), s.cfg.Dimension)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qpoints[i] = toQdrantPoint(p)
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         qpoints,
	})
	if err != nil {
		return semerr.New(semerr.Storage, fmt.Errorf("qdrant upsert: %w", err))
	}
	return nil
}

func (s *QdrantStore) DeleteByPaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	matches := make([]*qdrant.Condition, len(paths))
	for i, p := range paths {
		matches[i] = fieldMatchCondition("path", p)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Should: matches},
			},
		},
	})
	if err != nil {
		return semerr.New(semerr.Storage, fmt.Errorf("qdrant delete: %w", err))
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]SearchResult, error) {
	if len(vector) != s.cfg.Dimension {
		return nil, semerr.Newf(semerr.DimensionMismatch, "query vector has dimension %d, store expects %d", len(vector), s.cfg.Dimension)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var qfilter *qdrant.Filter
	if filter.Language != "" || filter.PathPrefix != "" {
		var must []*qdrant.Condition
		if filter.Language != "" {
			must = append(must, fieldMatchCondition("language", filter.Language))
		}
		qfilter = &qdrant.Filter{Must: must}
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qfilter,
	})
	if err != nil {
		return nil, semerr.New(semerr.Storage, fmt.Errorf("qdrant search: %w", err))
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		res := fromQdrantScoredPoint(r)
		if !filter.matches(&Point{Path: res.Path, Language: res.Language}, res.Score) {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *QdrantStore) Optimize(ctx context.Context) error {
	// Qdrant manages its own HNSW index lifecycle; there is no direct
	// equivalent of a manual rebuild trigger exposed over this client, so
	// Optimize is a no-op for the external backend.
	return nil
}

func fieldMatchCondition(field, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   field,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func stringValue(v string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
}

func integerValue(v int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: v}}
}

func toQdrantPoint(p Point) *qdrant.PointStruct {
	payload := map[string]*qdrant.Value{
		"path":         stringValue(p.Path),
		"content":      stringValue(p.Content),
		"language":     stringValue(p.Language),
		"start_line":   integerValue(int64(p.StartLine)),
		"end_line":     integerValue(int64(p.EndLine)),
		"segment_hash": stringValue(p.SegmentHash),
		"timestamp_ms": integerValue(p.TimestampMs),
	}
	if p.Metadata != nil {
		if raw, err := json.Marshal(p.Metadata); err == nil {
			payload["metadata"] = stringValue(string(raw))
		}
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: payload,
	}
}

func fromQdrantScoredPoint(r *qdrant.ScoredPoint) SearchResult {
	payload := r.GetPayload()
	get := func(k string) string {
		if v, ok := payload[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	getInt := func(k string) int32 {
		if v, ok := payload[k]; ok {
			return int32(v.GetIntegerValue())
		}
		return 0
	}

	return SearchResult{
		ID:        r.GetId().GetUuid(),
		Path:      get("path"),
		Content:   get("content"),
		Language:  get("language"),
		StartLine: getInt("start_line"),
		EndLine:   getInt("end_line"),
		Score:     r.GetScore(),
	}
}
