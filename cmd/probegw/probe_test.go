package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/probegw/probegw/internal/config"
	"github.com/probegw/probegw/internal/model"
	"github.com/probegw/probegw/internal/report"
)

// executeCommand runs the root command with args and captures output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

// TestSplitTarget tests host[:port] parsing.
func TestSplitTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		target   string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "bare host", target: "example.com", wantHost: "example.com", wantPort: 0},
		{name: "host with port", target: "example.com:1161", wantHost: "example.com", wantPort: 1161},
		{name: "ipv4 with port", target: "192.0.2.1:161", wantHost: "192.0.2.1", wantPort: 161},
		{name: "bare ipv6", target: "2001:db8::1", wantHost: "2001:db8::1", wantPort: 0},
		{name: "bracketed ipv6 with port", target: "[2001:db8::1]:161", wantHost: "2001:db8::1", wantPort: 161},
		{name: "non-numeric port", target: "example.com:http", wantErr: true},
		{name: "zero port", target: "example.com:0", wantErr: true},
		{name: "port out of range", target: "example.com:70000", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			host, port, err := splitTarget(tt.target)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.target)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if host != tt.wantHost {
				t.Errorf("host = %q, want %q", host, tt.wantHost)
			}
			if port != tt.wantPort {
				t.Errorf("port = %d, want %d", port, tt.wantPort)
			}
		})
	}
}

// TestBuildJobs tests target-to-job conversion.
func TestBuildJobs(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.Protocol = "snmp"
	cfg.Timeout = 3 * time.Second
	cfg.Targets = []string{"router.example.com", "192.0.2.1:1161"}

	jobs, err := buildJobs(cfg)
	if err != nil {
		t.Fatalf("buildJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[0].Target.Port != 0 {
		t.Errorf("job 0 port = %d, want 0 (protocol default)", jobs[0].Target.Port)
	}
	if jobs[1].Target.Host != "192.0.2.1" || jobs[1].Target.Port != 1161 {
		t.Errorf("job 1 = %s:%d, want 192.0.2.1:1161", jobs[1].Target.Host, jobs[1].Target.Port)
	}
	if jobs[0].Protocol != "snmp" {
		t.Errorf("job 0 protocol = %q, want snmp", jobs[0].Protocol)
	}
	if jobs[0].Target.Timeout != 3*time.Second {
		t.Errorf("job 0 timeout = %v, want 3s", jobs[0].Target.Timeout)
	}

	cfg.Targets = []string{"host:bad"}
	if _, err := buildJobs(cfg); err == nil {
		t.Error("expected error for bad target")
	}
}

// TestProbeCmdList tests the --list flag.
func TestProbeCmdList(t *testing.T) {
	t.Parallel()

	output, err := executeCommand(t, "probe", "--list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"zabbix", "snmp", "radius", "stun", "bitcoin"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in list output", want)
		}
	}
	if !strings.Contains(output, "udp/161") {
		t.Error("expected snmp network/port in list output")
	}
}

// TestProbeCmdValidation tests argument validation errors.
func TestProbeCmdValidation(t *testing.T) {
	t.Parallel()

	t.Run("missing protocol", func(t *testing.T) {
		t.Parallel()

		_, err := executeCommand(t, "probe", "example.com")
		if err == nil || !strings.Contains(err.Error(), "--protocol is required") {
			t.Fatalf("err = %v, want protocol-required error", err)
		}
	})

	t.Run("unknown protocol", func(t *testing.T) {
		t.Parallel()

		_, err := executeCommand(t, "probe", "-P", "gopher", "example.com")
		if err == nil || !strings.Contains(err.Error(), "unknown protocol") {
			t.Fatalf("err = %v, want unknown-protocol error", err)
		}
	})

	t.Run("no targets", func(t *testing.T) {
		t.Parallel()

		_, err := executeCommand(t, "probe", "-P", "zabbix")
		if err == nil || !strings.Contains(err.Error(), "no targets") {
			t.Fatalf("err = %v, want no-targets error", err)
		}
	})
}

// TestOutputReport tests report file creation.
func TestOutputReport(t *testing.T) {
	t.Parallel()

	result := model.NewProbeResult("zabbix", "192.0.2.10", 10051)
	result.Detected = true
	entries := []report.Entry{{Result: result}}

	t.Run("writes JSON report file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "out", "report.json")
		cfg := config.NewConfig()
		cfg.JSONReport = true
		cfg.ReportFile = path

		if err := outputReport(cfg, entries); err != nil {
			t.Fatalf("outputReport: %v", err)
		}

		data, err := os.ReadFile(path) //nolint:gosec
		if err != nil {
			t.Fatalf("read report: %v", err)
		}
		var jr report.JSONReport
		if err := json.Unmarshal(data, &jr); err != nil {
			t.Fatalf("report is not valid JSON: %v", err)
		}
		if jr.Summary.Detected != 1 {
			t.Errorf("Summary.Detected = %d, want 1", jr.Summary.Detected)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat report: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("report permissions = %o, want 0600", perm)
		}
	})

	t.Run("writes Markdown report file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "report.md")
		cfg := config.NewConfig()
		cfg.MarkdownReport = true
		cfg.ReportFile = path

		if err := outputReport(cfg, entries); err != nil {
			t.Fatalf("outputReport: %v", err)
		}

		data, err := os.ReadFile(path) //nolint:gosec
		if err != nil {
			t.Fatalf("read report: %v", err)
		}
		if !strings.Contains(string(data), "# Probe Report") {
			t.Error("expected Markdown header in report")
		}
	})
}
