package tools

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/pipeline"
)

// Report renders a pipeline's per-tool wall-time profile as a table. It
// takes no registry inputs or outputs of its own — it reads the other
// tools' already-public Stats() — so it declares none and simply
// completes immediately once it has rendered.
type Report struct {
	*pipeline.Base

	out   io.Writer
	tools []pipeline.Tool
}

// NewReport builds a tool that prints the last/avg/variance/samples of
// every tool in tools to out whenever it runs.
func NewReport(name string, out io.Writer, tools []pipeline.Tool) *Report {
	return &Report{
		Base:  pipeline.NewBase(name, false, nil, nil, nil, nil),
		out:   out,
		tools: tools,
	}
}

func (t *Report) Execute() error {
	return t.Run(t.execute)
}

func (t *Report) execute(waitList []*accel.Event) (*accel.Event, error) {
	if err := accel.WaitAll(waitList); err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(t.tools))
	for _, tl := range t.tools {
		s := tl.Stats()
		rows = append(rows, []string{
			tl.Name(),
			s.Last.String(),
			s.Avg.String(),
			s.Variance.String(),
			fmt.Sprint(s.Samples),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	table := tablewriter.NewWriter(t.out)
	table.SetHeader([]string{"TOOL", "LAST", "AVG", "VARIANCE", "SAMPLES"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()

	out := accel.NewEvent()
	out.Complete()
	return out, nil
}
