// Package store defines the vector collection that backs the incident corpus.
//
// A Collection holds documents with flat string metadata and a dense vector
// per document, and answers k-nearest-neighbour queries by cosine distance.
// Backends live in subpackages: memory, falkordb and pgvector.
package store

import (
	"context"
	"errors"
)

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "incident_embeddings"

// ErrNotConnected is returned by backends used before Open or after Close.
var ErrNotConnected = errors.New("store not connected")

// Record is one stored document.
type Record struct {
	ID       string
	Document string
	Metadata map[string]string
	Vector   []float32
}

// Hit is a query result. Distance is the cosine distance (1 - cosine
// similarity); smaller is closer.
type Hit struct {
	Record
	Distance float64
}

// Collection is a vector-searchable set of records.
type Collection interface {
	// Add inserts records in order. A record whose ID already exists replaces it.
	Add(ctx context.Context, records []Record) error
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// Query returns up to k records nearest to vector, closest first. An empty
	// collection yields an empty slice and no error.
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	// Reset drops all records and index state and leaves an empty, queryable
	// collection behind.
	Reset(ctx context.Context) error
	// Purge removes every trace of the collection from the backend, including
	// persisted files, then reinitialises an empty collection.
	Purge(ctx context.Context) error
	// Close releases backend resources.
	Close() error
	// Name identifies the backend for logs.
	Name() string
}
