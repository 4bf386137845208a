package evidence

import (
	"github.com/normativhq/normativ/internal/model"
)

// BuildPointers turns the grounding quotes of a fact group into source
// pointers for a rule. Duplicate quotes (same document, same text) collapse
// into one pointer keeping the highest confidence. An empty result means
// the group carries no evidence and must not compose.
func BuildPointers(facts []model.Fact) []model.SourcePointer {
	type key struct {
		documentID string
		text       string
	}
	index := make(map[key]int)

	var pointers []model.SourcePointer
	for _, fact := range facts {
		for _, q := range fact.Quotes {
			if q.Text == "" || q.DocumentID == "" {
				continue
			}
			k := key{documentID: q.DocumentID, text: q.Text}
			if i, ok := index[k]; ok {
				if q.Confidence > pointers[i].Confidence {
					pointers[i].Confidence = q.Confidence
				}
				continue
			}
			index[k] = len(pointers)
			pointers = append(pointers, model.SourcePointer{
				DocumentID: q.DocumentID,
				Quote:      q.Text,
				Confidence: q.Confidence,
			})
		}
	}
	return pointers
}

// Confidences extracts the pointer confidence values for the confidence model
func Confidences(pointers []model.SourcePointer) []float64 {
	out := make([]float64, len(pointers))
	for i, p := range pointers {
		out[i] = p.Confidence
	}
	return out
}

// DistinctDocuments counts the distinct source documents behind a pointer set
func DistinctDocuments(pointers []model.SourcePointer) int {
	seen := make(map[string]bool)
	for _, p := range pointers {
		seen[p.DocumentID] = true
	}
	return len(seen)
}
