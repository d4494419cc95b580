// Package qdrant is a vectorstore.Searcher backed by a Qdrant collection over gRPC.
// Point ids are chunk positions so hits map straight back onto the chunk list.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"ragchat/internal/domain"
	"ragchat/internal/vectorstore"
)

// PointsAPI is the subset of pb.PointsClient used here.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// CollectionsAPI is the subset of pb.CollectionsClient used here.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store owns every Qdrant call made by the indexer and the retrieval engine.
type Store struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	collection  string

	mu        sync.RWMutex
	dimension int
	count     int
}

// New dials Qdrant at the given gRPC address.
func New(addr, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a Store around existing clients.
func NewWithClients(points PointsAPI, collections CollectionsAPI, collection string) *Store {
	return &Store{points: points, collections: collections, collection: collection}
}

// Close releases the gRPC connection, if any.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Reset drops the collection and recreates it empty for vectors of size dim.
func (s *Store) Reset(ctx context.Context, dim int) error {
	if dim <= 0 {
		return errors.New("qdrant: invalid dimension")
	}
	exists, err := s.exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection}); err != nil {
			return fmt.Errorf("qdrant: delete collection %s: %w", s.collection, err)
		}
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", s.collection, err)
	}
	s.mu.Lock()
	s.dimension, s.count = dim, 0
	s.mu.Unlock()
	return nil
}

// Attach binds to an existing collection holding vectors of size dim and reads its point count.
func (s *Store) Attach(ctx context.Context, dim int) error {
	exists, err := s.exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("qdrant: collection %s: %w", s.collection, domain.ErrArtifactMissing)
	}
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
	if err != nil {
		return fmt.Errorf("qdrant: count %s: %w", s.collection, err)
	}
	s.mu.Lock()
	s.dimension, s.count = dim, int(resp.GetResult().GetCount())
	s.mu.Unlock()
	return nil
}

// Upsert stores vectors at positions [Len(), Len()+len(vectors)) with their chunk payloads.
func (s *Store) Upsert(ctx context.Context, vectors [][]float32, chunks []domain.Chunk) error {
	if len(vectors) != len(chunks) {
		return errors.New("qdrant: vectors and chunks length mismatch")
	}
	if len(vectors) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	points := make([]*pb.PointStruct, len(vectors))
	for i, v := range vectors {
		if len(v) != s.dimension {
			return fmt.Errorf("qdrant: vector dimension mismatch: expected %d, got %d", s.dimension, len(v))
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(s.count + i)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: v}},
			},
			Payload: map[string]*pb.Value{
				"source": {Kind: &pb.Value_StringValue{StringValue: chunks[i].Source}},
				"text":   {Kind: &pb.Value_StringValue{StringValue: chunks[i].Text}},
			},
		}
	}
	wait := true
	if _, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
	}
	s.count += len(points)
	return nil
}

// Len returns the number of points written or observed at Attach.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Dimension returns the collection's vector size.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Search returns k hits nearest first, padded with vectorstore.NoMatch.
// Distances are Euclidean as reported by Qdrant.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]vectorstore.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Limit:          uint64(k),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	hits := make([]vectorstore.Hit, 0, k)
	for _, r := range resp.GetResult() {
		if len(hits) == k {
			break
		}
		hits = append(hits, vectorstore.Hit{
			Position: int64(r.GetId().GetNum()),
			Distance: r.GetScore(),
		})
	}
	for len(hits) < k {
		hits = append(hits, vectorstore.Hit{Position: vectorstore.NoMatch, Distance: float32(math.Inf(1))})
	}
	return hits, nil
}

func (s *Store) exists(ctx context.Context) (bool, error) {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return true, nil
		}
	}
	return false, nil
}
