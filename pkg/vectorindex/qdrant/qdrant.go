// Package qdrant mirrors semantic knowledge into a Qdrant collection over
// gRPC.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/goclaw/hmem/pkg/vectorindex/embed"
)

// pointNamespace derives stable point UUIDs from knowledge ids, which need
// not be UUIDs themselves.
var pointNamespace = uuid.MustParse("8f0c5d4e-3b7a-4f21-9c6e-2d1a7b9e4c30")

const (
	payloadKnowledgeID = "knowledge_id"
	payloadConcept     = "concept"
	payloadDescription = "description"
	payloadTags        = "tags"
)

// Config holds connection settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// Store upserts one point per knowledge id.
type Store struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
	apiKey      string
	embedder    embed.Embedder

	ensureMu sync.Mutex
	ensured  bool
}

// New dials Qdrant. The collection is created on first use.
func New(cfg Config, embedder embed.Embedder) (*Store, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	s := NewFromClients(pb.NewCollectionsClient(conn), pb.NewPointsClient(conn), cfg.Collection, embedder)
	s.conn = conn
	s.apiKey = cfg.APIKey
	return s, nil
}

// NewFromClients builds a store over existing gRPC clients.
func NewFromClients(collections pb.CollectionsClient, points pb.PointsClient, collection string, embedder embed.Embedder) *Store {
	if collection == "" {
		collection = "hmem_knowledge"
	}
	return &Store{
		collections: collections,
		points:      points,
		collection:  collection,
		embedder:    embedder,
	}
}

// PointID returns the point UUID used for a knowledge id.
func PointID(knowledgeID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(knowledgeID)).String()
}

func (s *Store) withAuth(ctx context.Context) context.Context {
	if s.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
}

// EnsureCollection creates the collection if it does not already exist.
func (s *Store) EnsureCollection(ctx context.Context) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured {
		return nil
	}

	ctx = s.withAuth(ctx)
	if _, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection}); err == nil {
		s.ensured = true
		return nil
	}
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.embedder.Dimension()),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	s.ensured = true
	return nil
}

// Mirror upserts the knowledge point.
func (s *Store) Mirror(ctx context.Context, id, concept, description string, tags []string) error {
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	vec, err := s.embedder.Embed(ctx, embed.Document(concept, description, tags))
	if err != nil {
		return fmt.Errorf("embed %s: %w", id, err)
	}

	payload := map[string]*pb.Value{
		payloadKnowledgeID: stringValue(id),
		payloadConcept:     stringValue(concept),
		payloadDescription: stringValue(description),
		payloadTags:        stringValue(strings.Join(tags, ",")),
	}
	_, err = s.points.Upsert(s.withAuth(ctx), &pb.UpsertPoints{
		CollectionName: s.collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}}},
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

// Search returns up to limit knowledge ids ranked by similarity to text.
func (s *Store) Search(ctx context.Context, text string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	resp, err := s.points.Search(s.withAuth(ctx), &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.collection, err)
	}

	ids := make([]string, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		if r.GetScore() <= 0 {
			continue
		}
		if v, ok := r.GetPayload()[payloadKnowledgeID]; ok {
			if id := v.GetStringValue(); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// Close tears down the gRPC connection when the store owns one.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func stringValue(v string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
}
