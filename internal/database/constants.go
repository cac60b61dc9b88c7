package database

// Matching constants
const (
	// SamplesPerStudent is the number of enrollment embeddings stored per student
	SamplesPerStudent = 5

	// DefaultSearchLimit is the default number of nearest embeddings fetched
	// per probe face. Covers several full candidate students worth of samples.
	DefaultSearchLimit = 15
)

// HNSW index parameters for face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWEfConstruction is used during index building.
	// Higher values improve index quality but slow down construction.
	HNSWEfConstruction = 200

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after distance filtering.
	HNSWSearchMultiplier = 3
)
