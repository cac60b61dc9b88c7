package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	SampleCount int64     `json:"sample_count"`
	MaxSampleID int64     `json:"max_sample_id"`
	BuildTime   time.Time `json:"build_time"`
	Version     int       `json:"version"` // For future compatibility
}

const hnswMetadataVersion = 1

// HNSWIndex wraps the HNSW graph for enrollment embedding search.
type HNSWIndex struct {
	graph      *hnsw.Graph[int64]
	savedGraph *hnsw.SavedGraph[int64] // For persistence
	idToSample map[int64]*StudentEmbedding
	mu         sync.RWMutex
	path       string // Path to save/load index
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToSample: make(map[int64]*StudentEmbedding),
	}
}

// BuildFromSamples builds the index from a slice of enrollment embeddings.
func (h *HNSWIndex) BuildFromSamples(samples []StudentEmbedding) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(samples) == 0 {
		h.graph = nil
		h.savedGraph = nil
		h.idToSample = make(map[int64]*StudentEmbedding)
		return nil
	}

	// Create new graph with cosine distance.
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	h.idToSample = make(map[int64]*StudentEmbedding, len(samples))

	for i := range samples {
		sample := &samples[i]
		if len(sample.Embedding) == 0 {
			continue
		}

		g.Add(hnsw.MakeNode(sample.ID, sample.Embedding))
		h.idToSample[sample.ID] = sample
	}

	h.graph = g
	return nil
}

// Search finds the k nearest neighbors to the query embedding.
// Returns sample IDs and their distances.
func (h *HNSWIndex) Search(query []float32, k int) ([]int64, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		return nil, nil, errors.New("index not initialized")
	}

	var neighbors []hnsw.Node[int64]
	if h.savedGraph != nil {
		neighbors = h.savedGraph.Search(query, k)
	} else {
		neighbors = h.graph.Search(query, k)
	}

	ids := make([]int64, len(neighbors))
	distances := make([]float64, len(neighbors))

	for i, n := range neighbors {
		ids[i] = n.Key
		// Compute actual cosine distance from the node's own embedding so we
		// never need the idToSample map for distances.
		if len(n.Value) > 0 {
			distances[i] = CosineDistance(query, n.Value)
		}
	}

	return ids, distances, nil
}

// GetSample returns the enrollment embedding for a given ID.
func (h *HNSWIndex) GetSample(id int64) *StudentEmbedding {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToSample[id]
}

// Add adds a single enrollment embedding to the index.
func (h *HNSWIndex) Add(sample *StudentEmbedding) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(sample.Embedding) == 0 {
		return nil
	}

	// A disk-loaded index keeps its nodes in savedGraph, which Search
	// consults first. New enrollments must land in the same graph or they
	// are invisible until a full rebuild.
	if h.savedGraph != nil {
		h.savedGraph.Add(hnsw.MakeNode(sample.ID, sample.Embedding))
		h.idToSample[sample.ID] = sample
		return nil
	}

	if h.graph == nil {
		h.graph = hnsw.NewGraph[int64]()
		h.graph.M = HNSWMaxNeighbors
		h.graph.Ml = 1.0 / float64(HNSWMaxNeighbors)
		h.graph.Distance = hnsw.CosineDistance
	}

	h.graph.Add(hnsw.MakeNode(sample.ID, sample.Embedding))
	h.idToSample[sample.ID] = sample

	return nil
}

// Delete removes an enrollment embedding from the index (marks as deleted).
func (h *HNSWIndex) Delete(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.idToSample, id)
	// HNSW doesn't support true deletion, but removing from idToSample
	// effectively removes it from search results since we filter by lookup.
}

// Count returns the number of indexed enrollment embeddings.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToSample)
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil && h.savedGraph == nil
}

// SaveSampleMetadata saves sample metadata to a .samples file for fast
// loading at startup.
func SaveSampleMetadata(path string, samples []StudentEmbedding) error {
	samplesPath := path + ".samples"

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(samples); err != nil {
		return fmt.Errorf("failed to encode samples: %w", err)
	}

	if err := os.WriteFile(samplesPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write samples file: %w", err)
	}

	return nil
}

// LoadSampleMetadata loads sample metadata from a .samples file.
func LoadSampleMetadata(path string) ([]StudentEmbedding, error) {
	samplesPath := path + ".samples"

	data, err := os.ReadFile(samplesPath) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read samples file: %w", err)
	}

	var samples []StudentEmbedding
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&samples); err != nil {
		return nil, fmt.Errorf("failed to decode samples: %w", err)
	}

	return samples, nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	metaPath := path + ".meta"
	data, err := os.ReadFile(metaPath) //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return metadata, nil
}

// LoadWithSampleMetadata loads both the HNSW graph and sample metadata from disk.
func (h *HNSWIndex) LoadWithSampleMetadata(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.path = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("HNSW index file not found: %s", path)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	samples, err := LoadSampleMetadata(path)
	if err != nil {
		return fmt.Errorf("failed to load sample metadata: %w", err)
	}

	h.savedGraph = saved
	h.idToSample = make(map[int64]*StudentEmbedding, len(samples))
	for i := range samples {
		h.idToSample[samples[i].ID] = &samples[i]
	}

	return nil
}

// exportGraph exports the HNSW graph to the given file path.
func (h *HNSWIndex) exportGraph(path string) error {
	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if h.savedGraph != nil {
		if err := h.savedGraph.Export(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to export HNSW graph from savedGraph: %w", err)
		}
	} else {
		if err := h.graph.Export(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to export HNSW graph: %w", err)
		}
	}
	return f.Close()
}

// SaveWithSampleMetadata persists the index, staleness metadata and sample
// metadata to disk.
func (h *HNSWIndex) SaveWithSampleMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".samples")
		return nil
	}

	if err := h.exportGraph(path); err != nil {
		return err
	}

	metadata.Version = hnswMetadataVersion
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	samples := make([]StudentEmbedding, 0, len(h.idToSample))
	for _, sample := range h.idToSample {
		samples = append(samples, *sample)
	}
	if err := SaveSampleMetadata(path, samples); err != nil {
		return fmt.Errorf("failed to save sample metadata: %w", err)
	}

	return nil
}
