package tools

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sphforge/calcserver/pipeline"
)

func TestReportListsToolsAfterExecution(t *testing.T) {
	reg, _ := newTestSetup(t)
	if _, err := reg.Register("dt", "float", "", "0"); err != nil {
		t.Fatalf("Register(dt) error = %v", err)
	}

	setter := NewSetScalar("set_dt", "dt", 0.01, reg)
	if err := setter.Execute(); err != nil {
		t.Fatalf("setter Execute() error = %v", err)
	}

	var buf bytes.Buffer
	report := NewReport("report", &buf, []pipeline.Tool{setter})
	if err := report.Execute(); err != nil {
		t.Fatalf("report Execute() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "set_dt") {
		t.Fatalf("report output = %q, want it to mention tool name %q", out, "set_dt")
	}
	if !strings.Contains(out, "SAMPLES") {
		t.Fatalf("report output = %q, want a SAMPLES header", out)
	}
}
