package cmd

import (
	"ChunkFM/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the ChunkFM server",
	Long:  `Start the ChunkFM HTTP server serving track selection, chunked playback and the continuous radio stream.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
