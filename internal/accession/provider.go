// Package accession defines the contract of the monotonic accession service
// and ships an in-process implementation that hands out accessions from
// contiguous blocks.
package accession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrAccessionNotFound is returned by Get for accessions never issued.
var ErrAccessionNotFound = errors.New("accession not found")

// Accessioned pairs a content hash with its accession.
type Accessioned struct {
	Hash      string
	Accession int64
	Existing  bool
}

// Provider returns existing accessions for known hashes and allocates new
// ones otherwise. Implementations must be safe for concurrent use.
type Provider interface {
	GetOrCreate(ctx context.Context, hashes []string) ([]Accessioned, error)
	Get(ctx context.Context, accession int64) (string, error)
}

// Block is a reserved, contiguous accession range [First, Last].
type Block struct {
	First int64
	Last  int64
}

// Size returns the number of accessions in the block.
func (b Block) Size() int64 { return b.Last - b.First + 1 }

// BlockReserver hands out new blocks. Reservations never overlap.
type BlockReserver interface {
	Reserve(ctx context.Context, size int64) (Block, error)
}

// MemoryReserver reserves blocks from a process-local counter.
type MemoryReserver struct {
	mu   sync.Mutex
	next int64
}

// NewMemoryReserver starts reserving at first.
func NewMemoryReserver(first int64) *MemoryReserver {
	return &MemoryReserver{next: first}
}

// Reserve implements BlockReserver.
func (r *MemoryReserver) Reserve(_ context.Context, size int64) (Block, error) {
	if size <= 0 {
		return Block{}, fmt.Errorf("block size must be positive, got %d", size)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := Block{First: r.next, Last: r.next + size - 1}
	r.next += size
	return b, nil
}

// BlockProvider is a Provider backed by a BlockReserver.
type BlockProvider struct {
	reserver  BlockReserver
	blockSize int64

	mu          sync.Mutex
	current     Block
	next        int64
	hasBlock    bool
	byHash      map[string]int64
	byAccession map[int64]string
	reserved    []Block

	group singleflight.Group
}

var _ Provider = (*BlockProvider)(nil)

// NewBlockProvider returns a provider that reserves blockSize accessions at a time.
func NewBlockProvider(reserver BlockReserver, blockSize int64) *BlockProvider {
	if blockSize <= 0 {
		blockSize = 1000
	}
	return &BlockProvider{
		reserver:    reserver,
		blockSize:   blockSize,
		byHash:      make(map[string]int64),
		byAccession: make(map[int64]string),
	}
}

// Register records an existing hash/accession pair, e.g. when seeding from a store.
func (p *BlockProvider) Register(hash string, accession int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byHash[hash]; ok {
		return
	}
	p.byHash[hash] = accession
	if _, ok := p.byAccession[accession]; !ok {
		p.byAccession[accession] = hash
	}
}

// Blocks returns the blocks reserved so far.
func (p *BlockProvider) Blocks() []Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Block(nil), p.reserved...)
}

// Get implements Provider.
func (p *BlockProvider) Get(_ context.Context, accession int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	hash, ok := p.byAccession[accession]
	if !ok {
		return "", fmt.Errorf("accession %d: %w", accession, ErrAccessionNotFound)
	}
	return hash, nil
}

// GetOrCreate implements Provider. The output preserves the input order;
// repeated hashes resolve to the same accession.
func (p *BlockProvider) GetOrCreate(ctx context.Context, hashes []string) ([]Accessioned, error) {
	out := make([]Accessioned, 0, len(hashes))
	for _, hash := range hashes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err, _ := p.group.Do(hash, func() (any, error) {
			return p.getOrCreate(ctx, hash)
		})
		if err != nil {
			return nil, fmt.Errorf("get or create %s: %w", hash, err)
		}
		a := res.(Accessioned)
		out = append(out, a)
	}
	return out, nil
}

func (p *BlockProvider) getOrCreate(ctx context.Context, hash string) (Accessioned, error) {
	p.mu.Lock()
	if acc, ok := p.byHash[hash]; ok {
		p.mu.Unlock()
		return Accessioned{Hash: hash, Accession: acc, Existing: true}, nil
	}
	if !p.hasBlock || p.next > p.current.Last {
		p.mu.Unlock()
		block, err := p.reserver.Reserve(ctx, p.blockSize)
		if err != nil {
			return Accessioned{}, fmt.Errorf("reserve block: %w", err)
		}
		p.mu.Lock()
		if !p.hasBlock || p.next > p.current.Last {
			p.current = block
			p.next = block.First
			p.hasBlock = true
			p.reserved = append(p.reserved, block)
		}
		if acc, ok := p.byHash[hash]; ok {
			p.mu.Unlock()
			return Accessioned{Hash: hash, Accession: acc, Existing: true}, nil
		}
	}
	acc := p.next
	p.next++
	p.byHash[hash] = acc
	p.byAccession[acc] = hash
	p.mu.Unlock()
	return Accessioned{Hash: hash, Accession: acc}, nil
}
