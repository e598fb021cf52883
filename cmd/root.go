package cmd

import (
	"fmt"
	"log"
	"os"

	"ChunkFM/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chunkfm",
	Short: "ChunkFM is an endless-radio chunked audio service.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting ChunkFM server...")
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
