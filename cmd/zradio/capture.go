package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/zradio/internal/server"
	"github.com/muurk/zradio/internal/ui"
)

var captureSummaryOnly bool

var captureCmd = &cobra.Command{
	Use:   "capture <file.jsonl>",
	Short: "Replay and summarize a capture written by 'zradio serve'",
	Long: `Print every frame of a capture file the way 'zradio monitor' would,
followed by per-command counts for each direction.`,
	Example: `  zradio capture captures/capture-20240501-120000.jsonl
  zradio capture --summary captures/capture-20240501-120000.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().BoolVar(&captureSummaryOnly, "summary", false, "Only print the summary")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := server.ReadCapture(f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	if !captureSummaryOnly {
		for i := range records {
			rec := &records[i]
			frame, err := rec.Frame()
			if err != nil {
				return err
			}
			dir := ui.Rx
			if rec.Direction == server.ToRadio {
				dir = ui.Tx
			}
			name := rec.Framing
			if cmd.Flags().Changed("framing") {
				name = framing
			}
			p.Line(ui.FormatFrame(rec.Timestamp, dir, name, frame))
		}
	}

	sum := server.SummarizeCapture(records)
	if sum.Frames == 0 {
		p.Warning("Capture is empty", ui.Field{Key: "File", Value: args[0]})
		return nil
	}
	p.Success("Capture "+args[0],
		ui.Field{Key: "Frames", Value: fmt.Sprint(sum.Frames)},
		ui.Field{Key: "Bad frames", Value: fmt.Sprint(sum.Invalid)},
		ui.Field{Key: "Duration", Value: sum.Last.Sub(sum.First).String()},
		ui.Field{Key: "Peers", Value: strings.Join(sum.Peers, ", ")},
		ui.Field{Key: "To radio", Value: formatCounts(sum.ToRadio)},
		ui.Field{Key: "From radio", Value: formatCounts(sum.FromRadio)},
	)
	return nil
}

// formatCounts renders command counts busiest first, e.g. "0x4580×12, 0x6102×1".
func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	commands := make([]string, 0, len(counts))
	for c := range counts {
		commands = append(commands, c)
	}
	sort.Slice(commands, func(i, j int) bool {
		if counts[commands[i]] != counts[commands[j]] {
			return counts[commands[i]] > counts[commands[j]]
		}
		return commands[i] < commands[j]
	})
	parts := make([]string, len(commands))
	for i, c := range commands {
		parts[i] = fmt.Sprintf("%s×%d", c, counts[c])
	}
	return strings.Join(parts, ", ")
}
