package qdrant

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/goclaw/hmem/pkg/vectorindex/embed"
)

type fakeCollections struct {
	pb.CollectionsClient
	exists  bool
	created []*pb.CreateCollection
	gets    int
}

func (f *fakeCollections) Get(ctx context.Context, in *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	f.gets++
	if !f.exists {
		return nil, errors.New("not found")
	}
	return &pb.GetCollectionInfoResponse{}, nil
}

func (f *fakeCollections) Create(ctx context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.created = append(f.created, in)
	f.exists = true
	return &pb.CollectionOperationResponse{Result: true}, nil
}

type fakePoints struct {
	pb.PointsClient
	upserts   []*pb.UpsertPoints
	searches  []*pb.SearchPoints
	results   []*pb.ScoredPoint
	upsertErr error
}

func (f *fakePoints) Upsert(ctx context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserts = append(f.upserts, in)
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Search(ctx context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.searches = append(f.searches, in)
	return &pb.SearchResponse{Result: f.results}, nil
}

func scored(knowledgeID string, score float32) *pb.ScoredPoint {
	return &pb.ScoredPoint{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(knowledgeID)}},
		Score:   score,
		Payload: map[string]*pb.Value{payloadKnowledgeID: stringValue(knowledgeID)},
	}
}

func TestStore_MirrorCreatesCollectionOnce(t *testing.T) {
	cols := &fakeCollections{}
	points := &fakePoints{}
	s := NewFromClients(cols, points, "knowledge", embed.NewHashEmbedder(32))
	ctx := context.Background()

	require.NoError(t, s.Mirror(ctx, "k1", "Deploy Pattern", "rollback", []string{"deploy", "tool_execution"}))
	require.NoError(t, s.Mirror(ctx, "k2", "Cache Pattern", "eviction", nil))

	require.Len(t, cols.created, 1)
	assert.Equal(t, "knowledge", cols.created[0].CollectionName)
	assert.Equal(t, uint64(32), cols.created[0].GetVectorsConfig().GetParams().GetSize())
	assert.Equal(t, pb.Distance_Cosine, cols.created[0].GetVectorsConfig().GetParams().GetDistance())
	assert.Equal(t, 1, cols.gets)

	require.Len(t, points.upserts, 2)
	point := points.upserts[0].Points[0]
	assert.Equal(t, PointID("k1"), point.GetId().GetUuid())
	assert.Equal(t, "k1", point.Payload[payloadKnowledgeID].GetStringValue())
	assert.Equal(t, "Deploy Pattern", point.Payload[payloadConcept].GetStringValue())
	assert.Equal(t, "deploy,tool_execution", point.Payload[payloadTags].GetStringValue())
	assert.Len(t, point.GetVectors().GetVector().GetData(), 32)
}

func TestStore_ExistingCollectionIsNotCreated(t *testing.T) {
	cols := &fakeCollections{exists: true}
	s := NewFromClients(cols, &fakePoints{}, "", embed.NewHashEmbedder(16))

	require.NoError(t, s.EnsureCollection(context.Background()))
	assert.Empty(t, cols.created)
	assert.Equal(t, "hmem_knowledge", s.collection)
}

func TestStore_MirrorUpsertError(t *testing.T) {
	points := &fakePoints{upsertErr: errors.New("unavailable")}
	s := NewFromClients(&fakeCollections{exists: true}, points, "knowledge", embed.NewHashEmbedder(16))

	err := s.Mirror(context.Background(), "k1", "Deploy Pattern", "rollback", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestStore_Search(t *testing.T) {
	points := &fakePoints{results: []*pb.ScoredPoint{
		scored("k2", 0.9),
		scored("k1", 0.4),
		scored("k3", 0),
	}}
	s := NewFromClients(&fakeCollections{exists: true}, points, "knowledge", embed.NewHashEmbedder(16))

	ids, err := s.Search(context.Background(), "deploy rollback", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"k2", "k1"}, ids)

	require.Len(t, points.searches, 1)
	assert.Equal(t, uint64(3), points.searches[0].Limit)
	assert.True(t, points.searches[0].GetWithPayload().GetEnable())
}

func TestPointID_Stable(t *testing.T) {
	assert.Equal(t, PointID("k1"), PointID("k1"))
	assert.NotEqual(t, PointID("k1"), PointID("k2"))
}
