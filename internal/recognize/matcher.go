// Package recognize matches face embeddings from camera frames against
// the enrollment embeddings of registered students.
package recognize

import (
	"context"
	"fmt"

	"github.com/facemark/facemark/internal/config"
	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/facesvc"
)

// Match is an accepted identification of a face.
type Match struct {
	StudentID    string
	EnrollmentNo string
	StudentName  string
	Distance     float64 // cosine distance of the best enrollment sample
	Confidence   float64 // (1 - distance) * 100, clamped to [0, 100]
	Samples      int     // enrollment samples that landed under the threshold
}

// Matcher identifies students by nearest-neighbor search over their
// enrollment embeddings.
type Matcher struct {
	students    database.StudentReader
	threshold   float64
	minDetScore float64
	minFacePx   int
}

// NewMatcher creates a matcher using the recognition parameters from config.
func NewMatcher(students database.StudentReader, cfg config.RecognitionConfig) *Matcher {
	return &Matcher{
		students:    students,
		threshold:   cfg.Threshold,
		minDetScore: cfg.MinDetScore,
		minFacePx:   cfg.MinFacePx,
	}
}

// Threshold returns the maximum cosine distance for an accepted match.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// AcceptFace reports whether a detected face is good enough to identify.
// Low-confidence detections and tiny faces produce junk embeddings, so
// they are filtered before matching.
func (m *Matcher) AcceptFace(face *facesvc.Face) error {
	if m.minDetScore > 0 && face.DetScore < m.minDetScore {
		return fmt.Errorf("detection score %.2f below minimum %.2f", face.DetScore, m.minDetScore)
	}
	if m.minFacePx > 0 && face.Width() < float64(m.minFacePx) {
		return fmt.Errorf("face width %.0fpx below minimum %dpx", face.Width(), m.minFacePx)
	}
	return nil
}

// Match finds the student whose enrollment samples are closest to the query
// embedding. Returns nil when no student is within the threshold.
//
// Candidates are aggregated per student: with several enrollment samples per
// student the nearest neighbors usually include multiple samples of the same
// person, and the best (smallest) distance decides.
func (m *Matcher) Match(ctx context.Context, embedding []float32) (*Match, error) {
	candidates, distances, err := m.students.FindSimilarWithDistance(
		ctx, embedding, database.DefaultSearchLimit, m.threshold)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	best := make(map[string]*Match)
	for i := range candidates {
		c := &candidates[i]
		d := distances[i]
		if d > m.threshold {
			continue
		}
		existing, ok := best[c.EnrollmentNo]
		if !ok {
			best[c.EnrollmentNo] = &Match{
				StudentID:    c.StudentID,
				EnrollmentNo: c.EnrollmentNo,
				StudentName:  c.StudentName,
				Distance:     d,
				Samples:      1,
			}
			continue
		}
		existing.Samples++
		if d < existing.Distance {
			existing.Distance = d
		}
	}

	var winner *Match
	for _, candidate := range best {
		if winner == nil || candidate.Distance < winner.Distance {
			winner = candidate
		}
	}
	if winner == nil {
		return nil, nil
	}

	winner.Confidence = Confidence(winner.Distance)
	return winner, nil
}

// Confidence converts a cosine distance into a percentage for display.
func Confidence(distance float64) float64 {
	c := (1 - distance) * 100
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
