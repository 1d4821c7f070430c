// Package tools implements the concrete pipeline tools that run inside
// a calculation server: Reduction, RadixSort, Unsort, LinkList, Sync,
// ScalarExpr, SetScalar, Assert and Report. Each tool embeds
// pipeline.Base and registers any device kernel implementations it
// needs with accel.RegisterKernel from an init() func, so importing the
// package makes every tool's kernels available to accel.Context.Compile.
package tools
