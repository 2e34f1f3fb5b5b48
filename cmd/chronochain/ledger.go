package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/araddon/dateparse"
	"github.com/fatih/color"
	"github.com/jmerrifield20/chronochain/internal/app"
	"github.com/jmerrifield20/chronochain/internal/block"
	"github.com/jmerrifield20/chronochain/internal/config"
	"github.com/jmerrifield20/chronochain/internal/digest"
	"github.com/jmerrifield20/chronochain/internal/ledger"
	"github.com/jmerrifield20/chronochain/internal/validator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ── append ───────────────────────────────────────────────────────────────────

var appendCmd = &cobra.Command{
	Use:   "append [payload...]",
	Short: "Append records to the chain",
	Long: `Append one block per argument. With no arguments, each line read from
standard input becomes a block. The chain is created if none exists yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		payloads := args
		if len(payloads) == 0 {
			lines, err := readLines(cmd.InOrStdin())
			if err != nil {
				return err
			}
			payloads = lines
		}
		if len(payloads) == 0 {
			return errors.New("nothing to append")
		}

		return withLedger(cmd.Context(), func(l *ledger.Ledger, _ *config.Config, _ *zap.Logger) error {
			ctx := cmd.Context()
			if err := l.OpenOrCreate(ctx); err != nil {
				return err
			}
			for _, p := range payloads {
				b, err := l.Append(ctx, []byte(p))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "#%d  %s\n", b.Index(), b.Digest())
			}
			return l.Close(ctx)
		})
	},
}

// ── get ──────────────────────────────────────────────────────────────────────

var getCmd = &cobra.Command{
	Use:   "get <index|digest>",
	Short: "Print one block as JSON",
	Long:  `Print the block at a position, or the block with a 64-character hex digest.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			idx      uint64
			d        digest.Digest
			byDigest bool
		)
		if err := d.UnmarshalText([]byte(args[0])); err == nil {
			byDigest = true
		} else if idx, err = strconv.ParseUint(args[0], 10, 64); err != nil {
			return fmt.Errorf("invalid block reference %q: want an index or a hex digest", args[0])
		}

		return withLedger(cmd.Context(), func(l *ledger.Ledger, _ *config.Config, _ *zap.Logger) error {
			ctx := cmd.Context()
			if err := l.Open(ctx); err != nil {
				return err
			}
			var (
				b   block.Block
				err error
			)
			if byDigest {
				b, err = l.ByDigest(ctx, d)
			} else {
				b, err = l.Get(ctx, idx)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(b)
		})
	},
}

// ── log ──────────────────────────────────────────────────────────────────────

var (
	logSince string
	logUntil string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List blocks, optionally bounded by time",
	Long: `List blocks in chain order. --since and --until accept most date
formats, for example "2024-01-02", "2024-01-02T15:04:05Z" or "Jan 2 2024".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from := time.UnixMilli(math.MinInt64)
		to := time.UnixMilli(math.MaxInt64)
		if logSince != "" {
			t, err := dateparse.ParseAny(logSince)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			from = t
		}
		if logUntil != "" {
			t, err := dateparse.ParseAny(logUntil)
			if err != nil {
				return fmt.Errorf("invalid --until: %w", err)
			}
			to = t
		}

		return withLedger(cmd.Context(), func(l *ledger.Ledger, _ *config.Config, _ *zap.Logger) error {
			ctx := cmd.Context()
			if err := l.Open(ctx); err != nil {
				return err
			}
			blocks, err := l.Range(ctx, from, to)
			if err != nil {
				return err
			}
			printBlocks(cmd, blocks)
			return nil
		})
	},
}

func init() {
	logCmd.Flags().StringVar(&logSince, "since", "", "only blocks at or after this time")
	logCmd.Flags().StringVar(&logUntil, "until", "", "only blocks at or before this time")
}

func printBlocks(cmd *cobra.Command, blocks []block.Block) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tTIME\tDIGEST\tPAYLOAD")
	for _, b := range blocks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			b.Index(),
			b.Time().UTC().Format(time.RFC3339Nano),
			b.Digest().String()[:16],
			preview(b.Payload(), 40),
		)
	}
	w.Flush()
}

// preview quotes payload for display, truncated to max bytes.
func preview(payload []byte, max int) string {
	if len(payload) <= max {
		return strconv.Quote(string(payload))
	}
	return strconv.Quote(string(payload[:max])) + "…"
}

// ── validate ─────────────────────────────────────────────────────────────────

var validateEach bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Verify the integrity and ordering of the whole chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd.Context(), func(l *ledger.Ledger, _ *config.Config, _ *zap.Logger) error {
			ctx := cmd.Context()
			if err := l.Open(ctx); err != nil {
				return err
			}
			if validateEach {
				return validateSteps(cmd, l)
			}

			res, err := l.Validate(ctx)
			if err != nil {
				return err
			}
			info, err := l.Info(ctx)
			if err != nil {
				return err
			}
			if res.Valid {
				color.Green("✓ chain valid: %d blocks, %s, tip %s", res.Length, info.Algorithm, info.Tip)
				return nil
			}
			if res.Failure != nil {
				color.Red("✗ chain invalid at block %d: %s", res.Failure.Index, res.Failure.Reason)
				fmt.Printf("  expected %s\n  found    %s\n", res.Failure.Expected, res.Failure.Found)
			} else {
				color.Yellow("! validation interrupted after %d of %d blocks", res.Checked, res.Length)
			}
			return app.ResultError(res)
		})
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateEach, "each", false, "report every block as it is checked")
}

// validateSteps walks the chain lazily, printing one line per block, and
// stops at the first failure or when the command is interrupted.
func validateSteps(cmd *cobra.Command, l *ledger.Ledger) error {
	ctx := cmd.Context()
	steps, err := l.Steps(ctx)
	if err != nil {
		return err
	}
	checked := 0
	for step := range steps {
		if err := ctx.Err(); err != nil {
			color.Yellow("! interrupted after %d blocks", checked)
			return err
		}
		checked++
		if step.OK() {
			color.Green("  ✓ #%d %s", step.Block.Index(), step.Block.Digest())
			continue
		}
		color.Red("  ✗ #%d %s", step.Err.Index, step.Err.Reason)
		fmt.Printf("    expected %s\n    found    %s\n", step.Err.Expected, step.Err.Found)
		return app.ResultError(validator.Result{Length: checked, Checked: checked, Failure: step.Err})
	}
	color.Green("✓ chain valid: %d blocks", checked)
	return nil
}

// readLines returns the non-empty lines of r.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return lines, nil
}
