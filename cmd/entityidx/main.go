// Package main provides the entry point for the entityidx CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/entityidx/cmd/entityidx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
