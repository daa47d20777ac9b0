package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "curator",
		Short: "Candidate selection engine for the curated news feed",
	}
	root.AddCommand(onceCMD(), runCMD(), serveCMD())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
