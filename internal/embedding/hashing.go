package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const (
	HashingModelName         = "hashing"
	DefaultHashingDimensions = 384
)

// HashingModel is a feature-hashing encoder over lower-cased word unigrams and
// bigrams. Vectors are L2-normalised; text without words maps to the zero
// vector.
type HashingModel struct {
	dims int
}

func NewHashingModel(dims int) *HashingModel {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &HashingModel{dims: dims}
}

func (m *HashingModel) Name() string { return HashingModelName }

func (m *HashingModel) Dimensions() int { return m.dims }

func (m *HashingModel) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.dims)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for i, w := range words {
		m.add(vec, w)
		if i > 0 {
			m.add(vec, words[i-1]+" "+w)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// add hashes feature into a bucket; the top bit of the hash picks the sign so
// collisions tend to cancel.
func (m *HashingModel) add(vec []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(m.dims))
	if sum>>63 == 1 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}
