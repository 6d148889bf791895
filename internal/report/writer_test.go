package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/probegw/probegw/internal/model"
)

// createTestEntries builds a small batch with one detected service, one
// blocked probe, and one network failure.
func createTestEntries() []Entry {
	zabbix := model.NewProbeResult("zabbix", "192.0.2.10", 10051)
	zabbix.Detected = true
	zabbix.Banner = "1"
	zabbix.ConnectTimeMs = 12.5
	zabbix.AddFinding(model.Finding{
		Type:     "open-agent",
		Title:    "Zabbix Agent Responds Without Authentication",
		Severity: model.SeverityMedium,
		Value:    "agent.ping",
	})

	blocked := model.NewProbeResult("snmp", "169.254.169.254", 161)

	failed := model.NewProbeResult("finger", "192.0.2.11", 79)

	return []Entry{
		{Result: zabbix},
		{Result: blocked, ErrorKind: "host-blocked", Err: "host validation rejected target"},
		{Result: failed, ErrorKind: "no-response", Err: "read timeout"},
	}
}

// TestSummarize tests batch aggregation.
func TestSummarize(t *testing.T) {
	t.Parallel()

	t.Run("counts outcomes and findings", func(t *testing.T) {
		t.Parallel()

		s := Summarize(createTestEntries())

		if s.Total != 3 {
			t.Errorf("Total = %d, want 3", s.Total)
		}
		if s.Detected != 1 {
			t.Errorf("Detected = %d, want 1", s.Detected)
		}
		if s.Blocked != 1 {
			t.Errorf("Blocked = %d, want 1", s.Blocked)
		}
		if s.Failed != 1 {
			t.Errorf("Failed = %d, want 1", s.Failed)
		}
		if s.Findings["MEDIUM"] != 1 {
			t.Errorf("Findings[MEDIUM] = %d, want 1", s.Findings["MEDIUM"])
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		t.Parallel()

		s := Summarize(nil)
		if s.Total != 0 || s.Detected != 0 || s.Blocked != 0 || s.Failed != 0 {
			t.Errorf("unexpected summary for empty batch: %+v", s)
		}
	})

	t.Run("edge network block counts as blocked", func(t *testing.T) {
		t.Parallel()

		entries := []Entry{{
			Result:    model.NewProbeResult("stun", "192.0.2.1", 3478),
			ErrorKind: "edge-network-blocked",
		}}
		s := Summarize(entries)
		if s.Blocked != 1 {
			t.Errorf("Blocked = %d, want 1", s.Blocked)
		}
		if s.Failed != 0 {
			t.Errorf("Failed = %d, want 0", s.Failed)
		}
	})
}

// TestJSONWriter tests the machine-readable report writer.
func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes valid JSON", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewJSONWriter(&buf, "0.1.0")

		n, err := w.Write(createTestEntries())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != buf.Len() {
			t.Errorf("reported %d bytes, wrote %d", n, buf.Len())
		}

		var report JSONReport
		if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if report.Version != "0.1.0" {
			t.Errorf("Version = %q, want %q", report.Version, "0.1.0")
		}
		if report.GeneratedAt.IsZero() {
			t.Error("expected GeneratedAt to be set")
		}
		if report.Summary.Total != 3 {
			t.Errorf("Summary.Total = %d, want 3", report.Summary.Total)
		}
		if len(report.Entries) != 3 {
			t.Fatalf("len(Entries) = %d, want 3", len(report.Entries))
		}
		if report.Entries[0].Result.Protocol != "zabbix" {
			t.Errorf("first entry protocol = %q, want zabbix", report.Entries[0].Result.Protocol)
		}
		if report.Entries[1].ErrorKind != "host-blocked" {
			t.Errorf("second entry kind = %q, want host-blocked", report.Entries[1].ErrorKind)
		}
	})

	t.Run("compact output has no indentation", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewJSONWriter(&buf, "0.1.0")

		if _, err := w.Write(createTestEntries()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(strings.TrimRight(buf.String(), "\n"), "\n") {
			t.Error("expected compact output on a single line")
		}
	})

	t.Run("pretty print indents output", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewJSONWriter(&buf, "0.1.0", WithPrettyPrint())

		if _, err := w.Write(createTestEntries()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n  ") {
			t.Error("expected indented output")
		}
	})
}

// TestMarkdownWriter tests the human-readable report writer.
func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes report header and summary", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewMarkdownWriter(&buf)

		n, err := w.Write(createTestEntries())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n == 0 {
			t.Error("expected non-zero byte count")
		}

		output := buf.String()
		if !strings.Contains(output, "# Probe Report") {
			t.Error("expected output to contain header")
		}
		if !strings.Contains(output, "Services detected") {
			t.Error("expected output to contain summary table")
		}
	})

	t.Run("writes outcome chart", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewMarkdownWriter(&buf)

		if _, err := w.Write(createTestEntries()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		if !strings.Contains(output, "mermaid") {
			t.Error("expected output to contain mermaid chart")
		}
		if !strings.Contains(output, "Blocked") {
			t.Error("expected chart to include blocked slice")
		}
	})

	t.Run("writes results table", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewMarkdownWriter(&buf)

		if _, err := w.Write(createTestEntries()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		if !strings.Contains(output, "`192.0.2.10:10051`") {
			t.Error("expected output to contain target address")
		}
		if !strings.Contains(output, "host-blocked") {
			t.Error("expected output to contain block token")
		}
	})

	t.Run("writes findings by severity", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewMarkdownWriter(&buf)

		if _, err := w.Write(createTestEntries()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		if !strings.Contains(output, "MEDIUM") {
			t.Error("expected MEDIUM findings section")
		}
		if !strings.Contains(output, "Zabbix Agent Responds Without Authentication") {
			t.Error("expected finding title in output")
		}
	})

	t.Run("clean batch writes tip", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewMarkdownWriter(&buf)

		entries := []Entry{{Result: model.NewProbeResult("echo", "192.0.2.1", 7)}}
		if _, err := w.Write(entries); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		if !strings.Contains(output, "No notable exposure detected") {
			t.Error("expected tip for clean batch")
		}
		if !strings.Contains(output, "No findings.") {
			t.Error("expected empty findings section")
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewMarkdownWriter(&buf)

		if _, err := w.Write(nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "No probes were run.") {
			t.Error("expected empty batch notice")
		}
	})
}

// failingWriter always returns an error, for MultiWriter tests.
type failingWriter struct{}

func (failingWriter) Write([]Entry) (int, error) {
	return 0, errors.New("write failed")
}

// TestMultiWriter tests fan-out to multiple writers.
func TestMultiWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes to all writers", func(t *testing.T) {
		t.Parallel()

		var jsonBuf, mdBuf bytes.Buffer
		mw := NewMultiWriter(
			NewJSONWriter(&jsonBuf, "0.1.0"),
			NewMarkdownWriter(&mdBuf),
		)

		n, err := mw.Write(createTestEntries())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != jsonBuf.Len()+mdBuf.Len() {
			t.Errorf("reported %d bytes, wrote %d", n, jsonBuf.Len()+mdBuf.Len())
		}
		if jsonBuf.Len() == 0 || mdBuf.Len() == 0 {
			t.Error("expected both writers to receive output")
		}
	})

	t.Run("stops on first error", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		mw := NewMultiWriter(failingWriter{}, NewJSONWriter(&buf, "0.1.0"))

		if _, err := mw.Write(createTestEntries()); err == nil {
			t.Fatal("expected error from failing writer")
		}
		if buf.Len() != 0 {
			t.Error("expected no output after failing writer")
		}
	})
}
