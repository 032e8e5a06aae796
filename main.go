// Package main is the autowait command line entry point.
package main

import "github.com/liuxd6825/autowait/cmd"

func main() {
	cmd.Execute()
}
