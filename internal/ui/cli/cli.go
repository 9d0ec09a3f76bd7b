// Package cli renders dataset contents and query results on the terminal.
package cli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/janpfeifer/nasbench/internal/generics"
	"golang.org/x/term"
)

const (
	// CharsPerColumn of the adjacency matrix drawing.
	CharsPerColumn = 5

	statsLabelWidth = 22
)

var ansiFilter = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// displayWidth of s removes its color/control sequences and returns the length of what is left.
func displayWidth(s string) int {
	return len([]rune(ansiFilter.ReplaceAllString(s, "")))
}

func centerString(s string, fit int) string {
	if len(s) >= fit {
		return s
	}
	marginLeft := (fit - len(s)) / 2
	marginRight := fit - len(s) - marginLeft
	return strings.Repeat(" ", marginLeft) + s + strings.Repeat(" ", marginRight)
}

// UI prints to a writer, usually os.Stdout.
type UI struct {
	w     io.Writer
	color bool

	// width of the terminal, or 0 if w is not a terminal.
	width int

	title, label, highlight lipgloss.Style
}

// IsTerminal returns whether w is a terminal, in which case colors are used by default.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// New creates a UI writing to w. If color is false no styles are used.
func New(w io.Writer, color bool) *UI {
	ui := &UI{w: w, color: color}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		ui.width, _, _ = term.GetSize(int(f.Fd()))
	}
	if color {
		ui.title = lipgloss.NewStyle().
			Background(lipgloss.Color("13")).
			Foreground(lipgloss.Color("0")).
			Bold(true).
			Padding(0, 2)
		ui.label = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
		ui.highlight = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	} else {
		ui.title = lipgloss.NewStyle()
		ui.label = lipgloss.NewStyle()
		ui.highlight = lipgloss.NewStyle()
	}
	return ui
}

func (ui *UI) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(ui.w, format, args...)
}

// printCentered prints the block centered in the terminal, or as is if not a terminal.
func (ui *UI) printCentered(block string) {
	lines := strings.Split(block, "\n")
	blockWidth := 0
	for _, line := range lines {
		blockWidth = max(blockWidth, displayWidth(line))
	}
	indent := max((ui.width-blockWidth)/2, 0)
	for _, line := range lines {
		if len(line) == 0 {
			ui.printf("\n")
			continue
		}
		ui.printf("%s%s\n", strings.Repeat(" ", indent), line)
	}
}

// labelCell renders name as the label column of a "label: value" line.
func (ui *UI) labelCell(name string) string {
	return ui.label.Render(fmt.Sprintf("%-*s", statsLabelWidth, name))
}

// PrintTitle prints a highlighted title line.
func (ui *UI) PrintTitle(title string) {
	ui.printf("\n%s\n\n", ui.title.Render(title))
}

// PrintStats prints the statistics of one training run.
func (ui *UI) PrintStats(stats dataset.EpochStats) {
	rows := []struct {
		label string
		value string
	}{
		{"training time", fmt.Sprintf("%.2fs", stats.TrainingTime)},
		{"train accuracy", fmt.Sprintf("%.4f", stats.TrainAccuracy)},
		{"validation accuracy", fmt.Sprintf("%.4f", stats.ValidationAccuracy)},
		{"test accuracy", ui.highlight.Render(fmt.Sprintf("%.4f", stats.TestAccuracy))},
	}
	for _, row := range rows {
		ui.printf("  %s %s\n", ui.labelCell(row.label+":"), row.value)
	}
}

// PrintSamples prints one line per training run of the model at the epoch budget, and their mean.
func (ui *UI) PrintSamples(m *dataset.Model, epochs uint8, halfway bool) error {
	samples, err := m.Samples(epochs)
	if err != nil {
		return err
	}
	checkpoint := "complete"
	if halfway {
		checkpoint = "halfway"
	}
	ui.PrintTitle(fmt.Sprintf("%d epochs, %s: %d samples", epochs, checkpoint, len(samples)))
	header := fmt.Sprintf("%8s %12s %10s %10s %10s", "sample", "time", "train", "valid", "test")
	ui.printf("%s\n", ui.label.Render(header))
	all := make([]dataset.EpochStats, 0, len(samples))
	for ii, sample := range samples {
		stats := sample.Select(halfway)
		all = append(all, stats)
		ui.printf("%8d %11.2fs %10.4f %10.4f %10.4f\n", ii, stats.TrainingTime,
			stats.TrainAccuracy, stats.ValidationAccuracy, stats.TestAccuracy)
	}
	mean := meanStats(all)
	ui.printf("%s\n", ui.highlight.Render(fmt.Sprintf("%8s %11.2fs %10.4f %10.4f %10.4f", "mean", mean.TrainingTime,
		mean.TrainAccuracy, mean.ValidationAccuracy, mean.TestAccuracy)))
	return nil
}

func meanStats(all []dataset.EpochStats) (mean dataset.EpochStats) {
	if len(all) == 0 {
		return
	}
	for _, stats := range all {
		mean.TrainingTime += stats.TrainingTime
		mean.TrainAccuracy += stats.TrainAccuracy
		mean.ValidationAccuracy += stats.ValidationAccuracy
		mean.TestAccuracy += stats.TestAccuracy
	}
	n := float64(len(all))
	mean.TrainingTime /= n
	mean.TrainAccuracy /= n
	mean.ValidationAccuracy /= n
	mean.TestAccuracy /= n
	return
}

// PrintModel prints the model's hash, cell and the available epoch budgets.
func (ui *UI) PrintModel(m *dataset.Model) {
	ui.PrintTitle(fmt.Sprintf("Model %s", m.Hash()))
	ui.PrintSpec(m.Spec())
	ui.printf("\n  %s %s\n", ui.labelCell("trainable parameters:"),
		humanize.Comma(int64(m.TrainableParameters())))
	for _, epochs := range m.Epochs() {
		ui.printf("  %s %d samples\n", ui.labelCell(fmt.Sprintf("%d epochs:", epochs)),
			m.NumSamples(epochs))
	}
}

// PrintSpec draws the adjacency matrix of the cell, with the op of each vertex.
func (ui *UI) PrintSpec(spec *cell.ModelSpec) {
	var sb strings.Builder
	numVertices := spec.NumVertices()
	opWidth := 0
	for _, op := range spec.Ops() {
		opWidth = max(opWidth, len(op.String()))
	}
	sb.WriteString(strings.Repeat(" ", opWidth+4))
	for to := range numVertices {
		sb.WriteString(centerString(fmt.Sprintf("%d", to), CharsPerColumn))
	}
	sb.WriteString("\n")
	matrix := spec.Matrix()
	for from := range numVertices {
		fmt.Fprintf(&sb, "%*s %d ", opWidth, spec.Op(from), from)
		for to := range numVertices {
			mark := "."
			if matrix.HasEdge(from, to) {
				mark = ui.highlight.Render("1")
			}
			pad := CharsPerColumn - 1
			sb.WriteString(strings.Repeat(" ", pad/2) + mark + strings.Repeat(" ", pad-pad/2))
		}
		sb.WriteString("\n")
	}
	ui.printCentered(strings.TrimRight(sb.String(), "\n"))
}

// PrintSummary prints the counts of the dataset. fileSize is only printed if > 0.
func (ui *UI) PrintSummary(path string, summary dataset.Summary, fileSize int64) {
	ui.PrintTitle(fmt.Sprintf("Dataset %s", path))
	if fileSize > 0 {
		ui.printf("  %s %s\n", ui.labelCell("file size:"),
			humanize.Bytes(uint64(fileSize)))
	}
	ui.printf("  %s %s\n", ui.labelCell("models:"),
		humanize.Comma(int64(summary.NumModels)))
	ui.printf("  %s %s\n", ui.labelCell("training runs:"),
		humanize.Comma(int64(summary.NumEvaluations)))
	for epochs := range generics.SortedKeys(summary.ModelsPerEpochs) {
		ui.printf("  %s %s models, %s samples\n",
			ui.labelCell(fmt.Sprintf("%d epochs:", epochs)),
			humanize.Comma(int64(summary.ModelsPerEpochs[epochs])),
			humanize.Comma(int64(summary.SamplesPerEpochs[epochs])))
	}
}
