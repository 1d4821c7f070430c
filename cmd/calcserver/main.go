// main.go - calcserver's entry point: a cobra root command plus a
// "run" subcommand driving a neighbour-search demo problem through the
// registry/pipeline/accelerator stack for a fixed number of iterations.
package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/sphforge/calcserver/accel"
	"github.com/sphforge/calcserver/envconfig"
	"github.com/sphforge/calcserver/logutil"
	"github.com/sphforge/calcserver/pipeline"
	"github.com/sphforge/calcserver/registry"
	"github.com/sphforge/calcserver/tools"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds calcserver's root command, matching the teacher's
// own cobra.Command construction (SilenceUsage/SilenceErrors,
// disabled default completion command).
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "calcserver",
		Short:         "SPH calculation-server runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var particles int
	var iterations int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build a demo problem and drive its pipeline for N iterations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(particles, iterations)
		},
	}
	cmd.Flags().IntVar(&particles, "particles", 64, "number of particles in the demo problem")
	cmd.Flags().IntVar(&iterations, "iterations", 10, "number of pipeline iterations to run")
	return cmd
}

// runDemo wires a registry, an accelerator context, and a small
// neighbour-search pipeline (cell-list construction over random
// positions, reduced into a running particle count), then drives it
// for iterations steps and prints a per-tool timing report - the same
// Report rendering tools.Report already produces from any pipeline.
func runDemo(particles, iterations int) error {
	log := logutil.NewLogger(envconfig.LogLevel(), os.Stderr)
	log.Info("calcserver starting",
		"rank", envconfig.HostRank(),
		"particles", particles,
		"iterations", iterations,
		"kernel_dir", envconfig.KernelDir(),
	)

	ctx := accel.NewContext(log, 0)
	defer ctx.Close()
	reg := registry.New(ctx, 3, log)

	if err := setupDemoProblem(reg, particles); err != nil {
		return fmt.Errorf("calcserver: setup demo problem: %w", err)
	}

	linkList := tools.NewLinkList("link_list", "r", "support", "h",
		"icell", "ihoc", "sorted_to_orig", "orig_to_sorted", "next", reg, ctx)
	count := tools.NewReduction("particle_count", "mask_as_float", "n_total", tools.OpSum, reg, ctx)

	p := pipeline.New(log, linkList, count)
	if err := p.Setup(); err != nil {
		return fmt.Errorf("calcserver: pipeline setup: %w", err)
	}
	if err := p.Run(iterations); err != nil {
		return fmt.Errorf("calcserver: pipeline run: %w", err)
	}

	report := tools.NewReport("calcserver", os.Stdout, p.Tools())
	return report.Execute()
}

func setupDemoProblem(reg *registry.Registry, n int) error {
	positions := make([]float32, n*4)
	maskAsFloat := make([]float32, n)
	src := rand.New(rand.NewSource(1))
	for i := 0; i < n; i++ {
		positions[i*4+0] = float32(src.Float64() * 10)
		positions[i*4+1] = float32(src.Float64() * 10)
		positions[i*4+2] = float32(src.Float64() * 10)
		maskAsFloat[i] = 1
	}

	pos, err := reg.Register("r", "vec*", fmt.Sprint(n), "")
	if err != nil {
		return err
	}
	pos.Buffer.SetFloat32(positions)

	field, err := reg.Register("mask_as_float", "float*", fmt.Sprint(n), "")
	if err != nil {
		return err
	}
	field.Buffer.SetFloat32(maskAsFloat)

	if _, err := reg.Register("support", "float", "", "2"); err != nil {
		return err
	}
	if _, err := reg.Register("h", "float", "", "1"); err != nil {
		return err
	}
	if _, err := reg.Register("icell", "unsigned int*", fmt.Sprint(n), ""); err != nil {
		return err
	}
	if _, err := reg.Register("ihoc", "unsigned int*", "4", ""); err != nil {
		return err
	}
	if _, err := reg.Register("sorted_to_orig", "unsigned int*", fmt.Sprint(n), ""); err != nil {
		return err
	}
	if _, err := reg.Register("orig_to_sorted", "unsigned int*", fmt.Sprint(n), ""); err != nil {
		return err
	}
	if _, err := reg.Register("next", "unsigned int*", fmt.Sprint(n), ""); err != nil {
		return err
	}
	if _, err := reg.Register("n_total", "float", "", "0"); err != nil {
		return err
	}
	return nil
}
