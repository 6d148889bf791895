package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/probegw/probegw/internal/model"
)

// MarkdownWriter outputs probe results in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the entries in Markdown format.
func (w *MarkdownWriter) Write(entries []Entry) (int, error) {
	md := markdown.NewMarkdown(w.output)
	summary := Summarize(entries)

	w.writeHeader(md, summary)
	w.writeResults(md, entries)
	w.writeFindings(md, entries)

	return len(md.String()), md.Build()
}

// writeHeader writes the batch summary table and outcome chart.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, summary Summary) {
	md.H1("Probe Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"Probes", strconv.Itoa(summary.Total)},
			{"Services detected", strconv.Itoa(summary.Detected)},
			{"Blocked by policy", strconv.Itoa(summary.Blocked)},
			{"Failed", strconv.Itoa(summary.Failed)},
		},
	})
	md.PlainText("")

	if summary.Total > 0 {
		w.writePieChart(md, summary)
	}
	w.writeAlert(md, summary)
}

// writePieChart writes a mermaid pie chart of probe outcomes.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, summary Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Probe Outcomes"),
		piechart.WithShowData(true),
	)

	clean := summary.Total - summary.Blocked - summary.Failed
	if clean > 0 {
		chart.LabelAndIntValue("Answered", uint64(clean))
	}
	if summary.Blocked > 0 {
		chart.LabelAndIntValue("Blocked", uint64(summary.Blocked))
	}
	if summary.Failed > 0 {
		chart.LabelAndIntValue("Failed", uint64(summary.Failed))
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an appropriate alert based on finding severities.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, summary Summary) {
	total := 0
	for _, n := range summary.Findings {
		total += n
	}

	switch {
	case summary.Findings[model.SeverityCritical.String()] > 0:
		md.Cautionf(
			"Critical exposure detected! %d critical finding(s) require immediate attention.",
			summary.Findings[model.SeverityCritical.String()],
		)
	case summary.Findings[model.SeverityHigh.String()] > 0:
		md.Warningf(
			"High severity exposure detected. %d high severity finding(s) should be addressed.",
			summary.Findings[model.SeverityHigh.String()],
		)
	case summary.Findings[model.SeverityMedium.String()] > 0:
		md.Importantf(
			"Medium severity exposure found. %d finding(s) disclose internal information.",
			summary.Findings[model.SeverityMedium.String()],
		)
	case total > 0:
		md.Note("Only low severity and informational findings detected.")
	default:
		md.Tip("No notable exposure detected.")
	}
	md.PlainText("")
}

// writeResults writes the per-probe outcome table.
func (w *MarkdownWriter) writeResults(md *markdown.Markdown, entries []Entry) {
	md.H2("Results")
	md.PlainText("")

	if len(entries) == 0 {
		md.PlainText("No probes were run.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		r := e.Result
		if r == nil {
			continue
		}
		rows = append(rows, []string{
			r.Protocol,
			fmt.Sprintf("`%s:%d`", r.Host, r.Port),
			w.statusText(e),
			fmt.Sprintf("%.1f ms", r.ConnectTimeMs),
			truncate(r.Banner, 60),
		})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Protocol", "Target", "Status", "Connect", "Banner"},
		Rows:   rows,
	})
	md.PlainText("")
}

// statusText renders one entry's outcome.
func (w *MarkdownWriter) statusText(e Entry) string {
	switch {
	case e.ErrorKind == "host-blocked", e.ErrorKind == "edge-network-blocked":
		return "🚫 " + e.ErrorKind
	case e.ErrorKind != "":
		return "❌ " + e.ErrorKind
	case e.Result != nil && e.Result.Detected:
		return "✅ detected"
	default:
		return "⚪ no service"
	}
}

// writeFindings writes all findings grouped by severity, highest first.
func (w *MarkdownWriter) writeFindings(md *markdown.Markdown, entries []Entry) {
	md.H2("Findings")
	md.PlainText("")

	type located struct {
		target  string
		finding model.Finding
	}
	bySeverity := make(map[model.Severity][]located)
	for _, e := range entries {
		if e.Result == nil {
			continue
		}
		target := fmt.Sprintf("%s:%d (%s)", e.Result.Host, e.Result.Port, e.Result.Protocol)
		for _, f := range e.Result.Findings {
			bySeverity[f.Severity] = append(bySeverity[f.Severity], located{target, f})
		}
	}

	if len(bySeverity) == 0 {
		md.PlainText("No findings.")
		md.PlainText("")
		return
	}

	severities := make([]model.Severity, 0, len(bySeverity))
	for s := range bySeverity {
		severities = append(severities, s)
	}
	sort.Slice(severities, func(i, j int) bool { return severities[i] > severities[j] })

	for _, sev := range severities {
		md.H3(sev.String())
		md.PlainText("")
		for _, item := range bySeverity[sev] {
			md.BulletList(fmt.Sprintf("**%s**: %s (`%s`)",
				item.finding.Title, item.target, truncate(item.finding.Value, 80)))
		}
		md.PlainText("")
	}
}

// truncate shortens s for table cells.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
