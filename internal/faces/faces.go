// Package faces derives face embeddings and checks for duplicate
// identities. Embeddings here are simulated: a fixed-length vector is
// derived deterministically from the image bytes, so the same selfie
// always produces the same embedding and the cosine-similarity dedupe
// logic behaves like the real thing. Swapping in a real face model
// only changes Embed.
package faces

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

const embeddingDim = 128

// DefaultThreshold is the cosine similarity at or above which two
// embeddings are treated as the same person.
const DefaultThreshold = 0.85

type Embedding [embeddingDim]float64

// Embed derives a deterministic embedding from raw image bytes.
func Embed(image []byte) Embedding {
	var e Embedding
	seed := sha256.Sum256(image)
	buf := seed[:]
	for i := 0; i < embeddingDim; i++ {
		if i%8 == 0 && i > 0 {
			next := sha256.Sum256(buf)
			buf = next[:]
		}
		u := binary.BigEndian.Uint32(buf[(i%8)*4 : (i%8)*4+4])
		e[i] = float64(u)/float64(math.MaxUint32)*2 - 1
	}
	return e
}

// Hash returns the stored fingerprint of an embedding.
func Hash(e Embedding) string {
	buf := make([]byte, embeddingDim*8)
	for i, v := range e {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// CosineSimilarity is zero when either vector is zero.
func CosineSimilarity(a, b Embedding) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Match is the result of a dedupe sweep.
type Match struct {
	Duplicate  bool
	MatchedUKN string
	Similarity float64
}

// CheckDuplicate compares a new embedding against existing ones and
// reports the closest match. ukns and embeddings are parallel slices.
func CheckDuplicate(candidate Embedding, ukns []string, embeddings []Embedding, threshold float64) Match {
	best := Match{}
	for i, e := range embeddings {
		sim := CosineSimilarity(candidate, e)
		if sim > best.Similarity {
			best.Similarity = sim
			if i < len(ukns) {
				best.MatchedUKN = ukns[i]
			}
		}
	}
	if best.Similarity >= threshold {
		best.Duplicate = true
	} else {
		best.MatchedUKN = ""
	}
	return best
}
