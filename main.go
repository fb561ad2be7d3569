// Package main provides the entry point for dscore, the execution and
// timing core of a dual ARM handheld.
//
// For the full CLI, use: go run ./cmd/dscore
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("dscore - dual ARM9/ARM7 execution and timing core")
	fmt.Println("")
	fmt.Println("Usage: dscore [options] <rom.nds | program.elf>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config    Path to a JSON or YAML configuration file")
	fmt.Println("  -no-jit    Interpret both cores")
	fmt.Println("  -frames    Frames to run")
	fmt.Println("  -script    Lua script driving the machine")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/dscore' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/dscore' instead.")
	}
}
