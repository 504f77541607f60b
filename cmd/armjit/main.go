package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/oisee/armjit/pkg/jit"
	"github.com/oisee/armjit/pkg/state"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	var cfgFile string
	var archStr string
	var thumb bool
	var pcStr string
	var cacheSize int
	var farOffset int

	rootCmd := &cobra.Command{
		Use:   "armjit",
		Short: "ARM dynamic recompiler — translate, run and inspect guest code",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				viper.SetConfigFile(cfgFile)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config %s: %w", cfgFile, err)
				}
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML/TOML/JSON) supplying arch, cache-size and far-offset; flags given on the command line take precedence")
	rootCmd.PersistentFlags().StringVar(&archStr, "arch", "a32", "Guest architecture: a32 or a64")
	rootCmd.PersistentFlags().BoolVar(&thumb, "thumb", false, "Decode the entry point as Thumb (a32 only)")
	rootCmd.PersistentFlags().StringVar(&pcStr, "pc", "0", "Entry address, decimal or 0x-prefixed hex")
	rootCmd.PersistentFlags().IntVar(&cacheSize, "cache-size", 4<<20, "Code cache arena size in bytes")
	rootCmd.PersistentFlags().IntVar(&farOffset, "far-offset", 3<<20, "Offset of the far-code region within the arena")
	viper.BindPFlag("arch", rootCmd.PersistentFlags().Lookup("arch"))
	viper.BindPFlag("cache-size", rootCmd.PersistentFlags().Lookup("cache-size"))
	viper.BindPFlag("far-offset", rootCmd.PersistentFlags().Lookup("far-offset"))
	viper.SetEnvPrefix("ARMJIT")
	viper.AutomaticEnv()

	newJIT := func(image []byte) (*jit.JIT, *flatMemory, error) {
		arch, err := parseArch(viper.GetString("arch"))
		if err != nil {
			return nil, nil, err
		}
		mem := newFlatMemory(image)
		j := jit.New(jit.Config{
			Callbacks:           mem,
			Arch:                arch,
			CodeCacheSize:       viper.GetInt("cache-size"),
			FarCodeOffset:       viper.GetInt("far-offset"),
			EnableCycleCounting: true,
		}, nil)
		return j, mem, nil
	}

	entryLoc := func() (state.Descriptor, error) {
		arch, err := parseArch(viper.GetString("arch"))
		if err != nil {
			return 0, err
		}
		pc, err := parseAddr(pcStr)
		if err != nil {
			return 0, err
		}
		return state.NewDescriptor(arch, pc, thumb, 0, 0, false, false, false), nil
	}

	var maxCycles int64
	runCmd := &cobra.Command{
		Use:   "run [image]",
		Short: "Translate and execute guest code from a flat binary image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			j, mem, err := newJIT(image)
			if err != nil {
				return err
			}
			mem.ticks = maxCycles
			entry, err := entryLoc()
			if err != nil {
				return err
			}
			halt, err := j.Run(entry)
			if err != nil {
				return err
			}
			fmt.Printf("halted: %#x\n", uint32(halt))
			fmt.Printf("ticks spent: %d\n", maxCycles-mem.ticks)
			printRegs(j)
			return nil
		},
	}
	runCmd.Flags().Int64Var(&maxCycles, "max-cycles", 1_000_000, "Cycle budget before Run returns on its own")
	viper.BindPFlag("max-cycles", runCmd.Flags().Lookup("max-cycles"))

	translateCmd := &cobra.Command{
		Use:   "translate [image]",
		Short: "Translate and execute a single block, then print its retained IR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			j, mem, err := newJIT(image)
			if err != nil {
				return err
			}
			mem.ticks = 1
			entry, err := entryLoc()
			if err != nil {
				return err
			}
			if _, err := j.Step(entry); err != nil {
				return err
			}
			fmt.Print(j.DumpDisassembly())
			return nil
		},
	}

	var disasmCount int
	disasmCmd := &cobra.Command{
		Use:   "disasm [image]",
		Short: "Step through a chain of blocks, following each one's resolved successor, and print their IR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			j, mem, err := newJIT(image)
			if err != nil {
				return err
			}
			mem.ticks = int64(disasmCount)
			entry, err := entryLoc()
			if err != nil {
				return err
			}
			arch, err := parseArch(viper.GetString("arch"))
			if err != nil {
				return err
			}
			for i := 0; i < disasmCount; i++ {
				if _, err := j.Step(entry); err != nil {
					return err
				}
				ctx := j.SaveContext()
				entry = state.NewDescriptor(arch, ctx.PC, ctx.Thumb, ctx.ITState, 0, false, ctx.BigE, false)
			}
			fmt.Print(j.DumpDisassembly())
			return nil
		},
	}
	disasmCmd.Flags().IntVar(&disasmCount, "count", 1, "Number of blocks to translate, following each block's resolved successor")

	statsCmd := &cobra.Command{
		Use:   "stats [image]",
		Short: "Run guest code and report cache and cycle statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			j, mem, err := newJIT(image)
			if err != nil {
				return err
			}
			mem.ticks = maxCycles
			entry, err := entryLoc()
			if err != nil {
				return err
			}
			halt, err := j.Run(entry)
			if err != nil {
				return err
			}
			blocks := strings.Count(j.DumpDisassembly(), "block ")
			fmt.Printf("halted: %#x\n", uint32(halt))
			fmt.Printf("ticks spent: %d\n", maxCycles-mem.ticks)
			fmt.Printf("supervisor calls: %d\n", len(mem.svc))
			fmt.Printf("blocks cached: %d\n", blocks)
			return nil
		},
	}
	statsCmd.Flags().Int64Var(&maxCycles, "max-cycles", 1_000_000, "Cycle budget before Run returns on its own")

	rootCmd.AddCommand(runCmd, translateCmd, disasmCmd, statsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseArch(s string) (state.Arch, error) {
	switch strings.ToLower(s) {
	case "a32", "arm", "":
		return state.ArchA32, nil
	case "a64", "arm64", "aarch64":
		return state.ArchA64, nil
	default:
		return 0, fmt.Errorf("unknown --arch %q: use a32 or a64", s)
	}
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		v, err := strconv.ParseUint(rest, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid --pc value %q: %w", s, err)
		}
		return v, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid --pc value %q: %w", s, err)
	}
	return v, nil
}

func printRegs(j *jit.JIT) {
	regs := j.Regs()
	for i, v := range regs {
		fmt.Printf("r%-2d = %#018x\n", i, v)
	}
	fmt.Printf("cpsr = %#010x\n", j.Cpsr())
}
