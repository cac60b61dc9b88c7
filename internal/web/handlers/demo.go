package handlers

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/facemark/facemark/internal/facesvc"
	"github.com/facemark/facemark/internal/recognize"
)

// DemoHandler handles recognition trials that never touch attendance records.
type DemoHandler struct {
	faces   *facesvc.Client
	matcher *recognize.Matcher
	now     func() time.Time
}

// NewDemoHandler creates a new demo handler.
func NewDemoHandler(faces *facesvc.Client, matcher *recognize.Matcher) *DemoHandler {
	return &DemoHandler{
		faces:   faces,
		matcher: matcher,
		now:     time.Now,
	}
}

type recognizeRequest struct {
	Image string `json:"image"`
}

// Recognize detects and identifies faces in a frame without marking
// anyone present. Timing is reported so the frontend can surface
// pipeline latency during camera setup.
func (h *DemoHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	start := h.now()

	var req recognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Image == "" {
		respondError(w, http.StatusBadRequest, "Missing image")
		return
	}

	frame, err := facesvc.DecodeDataURL(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid base64 image")
		return
	}
	frame, err = facesvc.ResizeImage(frame, facesvc.MaxFrameSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid base64 image")
		return
	}

	ctx := r.Context()
	detectionStart := h.now()
	detected, err := h.faces.DetectFaces(ctx, frame)
	if err != nil {
		log.Printf("demo face detection failed: %v", err)
		respondError(w, http.StatusServiceUnavailable, "Face recognition service unavailable")
		return
	}
	detectionTime := h.now().Sub(detectionStart)

	results := make([]faceResult, 0, len(detected.Faces))
	for i := range detected.Faces {
		face := &detected.Faces[i]
		box := boxFromFace(face)

		if err := h.matcher.AcceptFace(face); err != nil {
			results = append(results, faceResult{
				Box:     box,
				Status:  faceError,
				Message: err.Error(),
			})
			continue
		}

		match, err := h.matcher.Match(ctx, face.Embedding)
		if err != nil {
			log.Printf("demo match failed: %v", err)
			results = append(results, faceResult{
				Box:     box,
				Status:  faceError,
				Message: "Failed to match face",
			})
			continue
		}
		if match == nil {
			results = append(results, faceResult{
				Box:    box,
				Status: faceNoMatch,
			})
			continue
		}
		results = append(results, faceResult{
			Match:      &matchJSON{UserID: match.EnrollmentNo, Name: match.StudentName},
			Distance:   round4(match.Distance),
			Confidence: round1(match.Confidence),
			Box:        box,
			Status:     faceMatched,
		})
	}

	total := h.now().Sub(start)
	respondJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"faces":           results,
		"processing_time": math.Round(total.Seconds()*1000) / 1000,
		"detailed_timing": map[string]float64{
			"detection": math.Round(detectionTime.Seconds()*1000) / 1000,
			"total":     math.Round(total.Seconds()*1000) / 1000,
		},
	})
}

// ModelsStatus reports whether the face service is ready to serve
// detections. Both the demo and attendance screens poll this.
func (h *DemoHandler) ModelsStatus(w http.ResponseWriter, r *http.Request) {
	err := h.faces.Health(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"ready":        err == nil,
		"models_ready": err == nil,
		"model":        h.faces.Model(),
		"timestamp":    h.now().Unix(),
	})
}
