// Package compile wires the frontend, clusterizer, universalizer,
// lowering, and serializer into the single top-to-bottom pipeline the
// CLI drives.
package compile

import (
	"crypto/rand"
	"fmt"
	"io"
	mrand "math/rand"
	"time"

	"github.com/oisee/obscurec/pkg/aead"
	"github.com/oisee/obscurec/pkg/clusterize"
	"github.com/oisee/obscurec/pkg/frontend"
	"github.com/oisee/obscurec/pkg/lowering"
	"github.com/oisee/obscurec/pkg/serialize"
	"github.com/oisee/obscurec/pkg/universalize"
)

// Config holds the CLI's compilation flags (the output path, input
// file and -verbose are handled by cmd/obscurec and have no field
// here); cmd/obscurec only parses flags and calls Compile.
type Config struct {
	Version  int
	WordSize int
	LIn      int
	LOut     int
	R        int
	S        int
	Width    int
	Depth    int

	SimpleClusterizer bool
	Fast              bool
	Universal         bool

	Seed  int64
	Stats bool
}

// Validate enforces the two hard CLI preconditions; everything else
// (width/depth too small) is a warn-and-continue handled downstream.
func (c Config) Validate() error {
	if c.R < c.LIn+c.LOut {
		return fmt.Errorf("compile: r (%d) must be >= l_in+l_out (%d)", c.R, c.LIn+c.LOut)
	}
	maxInOut := c.LIn
	if c.LOut > maxInOut {
		maxInOut = c.LOut
	}
	if c.S < maxInOut {
		return fmt.Errorf("compile: s (%d) must be >= max(l_in, l_out) (%d)", c.S, maxInOut)
	}
	return nil
}

// Compile reads source from r, runs it through the full pipeline, and
// streams the sealed bytecode to w. stats, if non-nil, receives a
// line of per-pass timing for each stage (the CLI's -stats flag).
func Compile(r io.Reader, w io.Writer, cfg Config, fe frontend.Frontend, sealer aead.Sealer, sessionKey []byte, recipientPub *[32]byte, stats io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	start := time.Now()
	hlir, err := fe.Parse(r)
	if err != nil {
		return fmt.Errorf("compile: parsing source: %w", err)
	}
	logStage(stats, "parse", start)

	start = time.Now()
	clusterCfg := clusterize.Config{
		LIn: cfg.LIn, LOut: cfg.LOut, R: cfg.R, S: cfg.S,
		SimpleClusterizer: cfg.SimpleClusterizer,
		Fast:              cfg.Fast,
	}
	g := clusterize.Clusterize(hlir, clusterCfg, stats)
	logStage(stats, "clusterize", start)

	if cfg.Universal {
		start = time.Now()
		uCfg := universalize.Config{
			LIn: cfg.LIn, LOut: cfg.LOut, R: cfg.R, S: cfg.S,
			Width: cfg.Width, Depth: cfg.Depth,
		}
		rng := mrand.New(mrand.NewSource(cfg.Seed))
		if _, err := universalize.Universalize(g, uCfg, rng, stats); err != nil {
			return fmt.Errorf("compile: universalizing: %w", err)
		}
		logStage(stats, "universalize", start)
	}

	// The program's declared inputs never change: even after the
	// input-masking layer rewrites every downstream use onto fresh Mem
	// cells, the original cells remain what the secure element decrypts
	// into at the synthetic "input-provider" instrIDs.
	start = time.Now()
	llir, err := lowering.ToLLIR(g, lowering.Config{R: cfg.R, LOut: cfg.LOut}, hlir.Inputs)
	if err != nil {
		return fmt.Errorf("compile: lowering: %w", err)
	}
	logStage(stats, "lower", start)

	start = time.Now()
	serCfg := serialize.Config{
		Version: cfg.Version, WordSize: cfg.WordSize,
		LIn: cfg.LIn, LOut: cfg.LOut, R: cfg.R, S: cfg.S,
	}
	if err := serialize.Serialize(w, llir, serCfg, sealer, sessionKey, recipientPub); err != nil {
		return fmt.Errorf("compile: serializing: %w", err)
	}
	logStage(stats, "serialize", start)

	return nil
}

func logStage(stats io.Writer, name string, start time.Time) {
	if stats == nil {
		return
	}
	fmt.Fprintf(stats, "%-12s %v\n", name, time.Since(start))
}

// NewSessionKey draws a fresh random 32-byte AEAD key, the shape
// ChaChaSealer and the sealed-box envelope both expect.
func NewSessionKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("compile: generating session key: %w", err)
	}
	return key, nil
}
