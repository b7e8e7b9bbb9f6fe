// Command obscurec compiles a three-address program into an
// AEAD-sealed bytecode stream for a secure element.
package main

import (
	"fmt"
	"os"

	"github.com/oisee/obscurec/pkg/aead"
	"github.com/oisee/obscurec/pkg/compile"
	"github.com/oisee/obscurec/pkg/frontend"
	"github.com/spf13/cobra"
)

func main() {
	var (
		outfile           string
		r, lIn, lOut, s   int
		wordSize, version int
		statsFlag         bool
		width, depth      int
		simpleClusterizer bool
		fastFlag          bool
		noFastFlag        bool
		universalFlag     bool
		noUniversalFlag   bool
		verbose           int
		seed              int64
	)

	rootCmd := &cobra.Command{
		Use:   "obscurec INPUTFILE",
		Short: "Compile a three-address program into sealed secure-element bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := compile.Config{
				Version:           version,
				WordSize:          wordSize,
				LIn:               lIn,
				LOut:              lOut,
				R:                 r,
				S:                 s,
				Width:             width,
				Depth:             depth,
				SimpleClusterizer: simpleClusterizer,
				Fast:              !noFastFlag,
				Universal:         !noUniversalFlag,
				Seed:              seed,
				Stats:             statsFlag,
			}

			in, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer in.Close()

			out, err := os.Create(outfile)
			if err != nil {
				return fmt.Errorf("creating %s: %w", outfile, err)
			}
			defer out.Close()

			sessionKey, err := compile.NewSessionKey()
			if err != nil {
				return err
			}
			var pub [32]byte // fixed recipient key; the matching private key lives on the secure element

			var stats *os.File
			if statsFlag {
				stats = os.Stdout
			}

			return compile.Compile(in, out, cfg, frontend.TextFrontend{}, aead.ChaChaSealer{}, sessionKey, &pub, stats)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&outfile, "outfile", "o", "", "output bytecode file")
	flags.IntVar(&r, "r", 0, "number of internal registers in the secure element")
	flags.IntVar(&lIn, "lin", 0, "number of inputs of the secure element")
	flags.IntVar(&lOut, "lout", 0, "number of outputs of the secure element")
	flags.IntVar(&s, "s", 0, "maximal number of instructions per multi-instruction")
	flags.IntVar(&wordSize, "w", 32, "word size in bits")
	flags.IntVar(&version, "version", 0, "version of the compiler")
	flags.BoolVar(&statsFlag, "stats", false, "print compilation statistics")
	flags.IntVar(&width, "width", 0, "minimal width of the program")
	flags.IntVar(&depth, "depth", 0, "minimal depth of the program")
	flags.BoolVar(&simpleClusterizer, "simple-clusterizer", false, "faster compilation, but more multi-instructions")
	flags.BoolVar(&fastFlag, "fast", false, "faster compilation, but maybe worse generated code (default)")
	flags.BoolVar(&noFastFlag, "no-fast", false, "slower compilation, but maybe better generated code")
	flags.BoolVar(&universalFlag, "universal", false, "enable universalization to protect the data-flow (default)")
	flags.BoolVar(&noUniversalFlag, "no-universal", false, "disable universalization")
	flags.IntVar(&verbose, "verbose", 0, "verbosity level")
	flags.Int64Var(&seed, "seed", 1, "seed for the universalizer's random fill")

	rootCmd.MarkFlagRequired("outfile")
	rootCmd.MarkFlagRequired("r")
	rootCmd.MarkFlagRequired("lin")
	rootCmd.MarkFlagRequired("lout")
	rootCmd.MarkFlagRequired("s")
	rootCmd.MarkFlagsMutuallyExclusive("fast", "no-fast")
	rootCmd.MarkFlagsMutuallyExclusive("universal", "no-universal")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
