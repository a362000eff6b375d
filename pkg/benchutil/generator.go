// Package benchutil provides synthetic IDX data generation for benchmarks and testing.
package benchutil

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/eunmann/idxgo/pkg/idx"
)

// GeneratorConfig configures synthetic data generation.
type GeneratorConfig struct {
	// Rows is the size of dimension 0.
	Rows int
	// RowShape holds the remaining dimensions, e.g. {28, 28} for images.
	RowShape []uint32
	// Type is the element type of the payload.
	Type idx.ElementType
	// DuplicateRate is the probability (0.0-1.0) that a row copies an
	// earlier row instead of getting fresh content.
	DuplicateRate float64
	// Seed for reproducible generation. 0 = use BenchmarkSeed.
	Seed int64
}

// DefaultConfig returns an MNIST-like image configuration.
func DefaultConfig(rows int) GeneratorConfig {
	return GeneratorConfig{
		Rows:          rows,
		RowShape:      []uint32{28, 28},
		Type:          idx.UnsignedByte,
		DuplicateRate: 0.01,
		Seed:          BenchmarkSeed,
	}
}

// LabelsConfig returns a rank-1 ubyte configuration with ten classes.
func LabelsConfig(rows int) GeneratorConfig {
	return GeneratorConfig{
		Rows: rows,
		Type: idx.UnsignedByte,
		Seed: BenchmarkSeed,
	}
}

// Generator generates synthetic IDX files.
type Generator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

// NewGenerator creates a new data generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = BenchmarkSeed
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Header returns the header of the generated file.
func (g *Generator) Header() idx.Header {
	dims := append([]uint32{uint32(g.cfg.Rows)}, g.cfg.RowShape...)
	return idx.Header{Type: g.cfg.Type, Dims: dims}
}

func (g *Generator) rowBytes() int {
	n := g.cfg.Type.Width()
	for _, d := range g.cfg.RowShape {
		n *= int(d)
	}
	return n
}

// Generate returns a complete in-memory IDX file image.
func (g *Generator) Generate() []byte {
	h := g.Header()
	rowLen := g.rowBytes()
	out := make([]byte, h.Size(), h.Size()+rowLen*g.cfg.Rows)
	copy(out, idx.EncodeHeader(h))

	payload := out[h.Size():]
	for i := 0; i < g.cfg.Rows; i++ {
		if i > 0 && g.rng.Float64() < g.cfg.DuplicateRate {
			src := g.rng.Intn(i) * rowLen
			payload = append(payload, payload[src:src+rowLen]...)
			continue
		}
		payload = g.appendRow(payload, rowLen)
	}
	return out[:h.Size()+len(payload)]
}

// WriteFile writes a generated file to path.
func (g *Generator) WriteFile(path string) error {
	if err := os.WriteFile(path, g.Generate(), 0o644); err != nil {
		return fmt.Errorf("write synthetic IDX file: %w", err)
	}
	return nil
}

func (g *Generator) appendRow(dst []byte, rowLen int) []byte {
	width := g.cfg.Type.Width()
	if len(g.cfg.RowShape) == 0 && g.cfg.Type == idx.UnsignedByte {
		return append(dst, byte(g.rng.Intn(10)))
	}

	var elem [8]byte
	for range rowLen / width {
		switch g.cfg.Type {
		case idx.Float:
			binary.BigEndian.PutUint32(elem[:], math.Float32bits(g.rng.Float32()))
		case idx.Double:
			binary.BigEndian.PutUint64(elem[:], math.Float64bits(g.rng.NormFloat64()))
		default:
			binary.BigEndian.PutUint64(elem[:], g.rng.Uint64())
		}
		dst = append(dst, elem[:width]...)
	}
	return dst
}
