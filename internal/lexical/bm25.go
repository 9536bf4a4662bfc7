// Package lexical provides term-frequency search over chunk texts using
// BM25 ranking. Indexes are immutable after Build and safe for concurrent
// queries.
package lexical

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

// Standard BM25 parameters: k1 controls term-frequency saturation, b the
// strength of length normalization.
const (
	k1 = 1.5
	b  = 0.75
)

// Hit is one lexical search result. Seq references a chunk by its sequence
// index.
type Hit struct {
	Seq   int
	Score float64
}

// Index is a built BM25 index over one document's chunks.
type Index struct {
	termFreqs []map[string]int // per chunk
	docFreq   map[string]int
	lengths   []int
	avgLen    float64
}

// Tokenize lowercases text and splits it on every non-alphanumeric rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Build indexes the given chunk texts, in sequence order.
func Build(texts []string) *Index {
	idx := &Index{
		termFreqs: make([]map[string]int, len(texts)),
		docFreq:   make(map[string]int),
		lengths:   make([]int, len(texts)),
	}

	total := 0
	for i, text := range texts {
		tokens := Tokenize(text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			idx.docFreq[term]++
		}
		idx.termFreqs[i] = tf
		idx.lengths[i] = len(tokens)
		total += len(tokens)
	}
	if len(texts) > 0 {
		idx.avgLen = float64(total) / float64(len(texts))
	}

	log.Debug().Int("chunks", len(texts)).Int("terms", len(idx.docFreq)).Msg("Lexical index built")
	return idx
}

// Query scores every chunk sharing at least one term with the query and
// returns the top k, best first. Ties rank the lower sequence index first,
// so results are deterministic for a fixed corpus and query.
func (idx *Index) Query(text string, k int) []Hit {
	if k <= 0 || len(idx.termFreqs) == 0 {
		return nil
	}

	// Tokenize once per query; repeated terms contribute once per occurrence.
	queryTerms := make(map[string]int)
	for _, term := range Tokenize(text) {
		queryTerms[term]++
	}

	n := float64(len(idx.termFreqs))
	var hits []Hit
	for seq, tf := range idx.termFreqs {
		score := 0.0
		for term, count := range queryTerms {
			freq := tf[term]
			if freq == 0 {
				continue
			}
			df := float64(idx.docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - b + b*float64(idx.lengths[seq])/idx.avgLen
			score += float64(count) * idf * float64(freq) * (k1 + 1) / (float64(freq) + k1*norm)
		}
		if score > 0 {
			hits = append(hits, Hit{Seq: seq, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Seq < hits[j].Seq
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Size returns the number of indexed chunks.
func (idx *Index) Size() int { return len(idx.termFreqs) }
