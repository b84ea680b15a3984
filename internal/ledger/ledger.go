// Package ledger simulates an append-only blockchain for verification
// records. Blocks are content-addressed: the transaction hash is the
// SHA-256 of the block's canonical JSON, and each block carries the
// hash of its predecessor, so any later mutation or reordering of the
// data is detectable. A real deployment would swap this for an actual
// chain client behind the same interface.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

const blockVersion = "1.0"

// genesisPrev is the prev_hash of the first block on a chain.
const genesisPrev = "0x0000000000000000000000000000000000000000000000000000000000000000"

type BlockData struct {
	PrevHash          string            `json:"prev_hash"`
	UKN               string            `json:"ukn"`
	DocumentHashes    map[string]string `json:"document_hashes"`
	FaceEmbeddingHash string            `json:"face_embedding_hash"`
	VerificationData  map[string]any    `json:"verification_data"`
	Issuer            string            `json:"issuer"`
	Timestamp         string            `json:"timestamp"`
	Version           string            `json:"version"`
}

type Block struct {
	TxHash    string    `json:"tx_hash"`
	Data      BlockData `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Chain is an in-memory simulated ledger. Safe for concurrent use.
type Chain struct {
	mu     sync.RWMutex
	blocks []Block
}

func NewChain() *Chain {
	return &Chain{}
}

// Append creates a block for a verification record, linked to the
// current chain head, and returns it with its transaction hash.
func (c *Chain) Append(ukn string, docHashes map[string]string, embeddingHash string, verification map[string]any, issuer string) (Block, error) {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := genesisPrev
	if n := len(c.blocks); n > 0 {
		prev = c.blocks[n-1].TxHash
	}
	data := BlockData{
		PrevHash:          prev,
		UKN:               ukn,
		DocumentHashes:    docHashes,
		FaceEmbeddingHash: embeddingHash,
		VerificationData:  verification,
		Issuer:            issuer,
		Timestamp:         now.Format(time.RFC3339Nano),
		Version:           blockVersion,
	}
	txHash, err := TxHash(data)
	if err != nil {
		return Block{}, err
	}
	b := Block{TxHash: txHash, Data: data, Timestamp: now}
	c.blocks = append(c.blocks, b)
	return b, nil
}

// TxHash computes the 0x-prefixed content hash of a block's data.
// encoding/json sorts map keys, which gives us a canonical byte form.
func TxHash(data BlockData) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// Verify returns the block with the given transaction hash, if present.
func (c *Chain) Verify(txHash string) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.blocks {
		if b.TxHash == txHash {
			return b, true
		}
	}
	return Block{}, false
}

// ByUKN returns the most recent block recorded for a UKN.
func (c *Chain) ByUKN(ukn string) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.blocks) - 1; i >= 0; i-- {
		if c.blocks[i].Data.UKN == ukn {
			return c.blocks[i], true
		}
	}
	return Block{}, false
}

// Len reports the number of blocks on the chain.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}
