// Package main provides the entry point for the catalog indexer.
package main

import (
	"os"

	"github.com/utafrali/catalogindex/cmd/indexer/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
