package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "greectl",
	Short: "Gree climate device control CLI",
	Long:  `A command line interface for discovering, binding and controlling Gree-family climate devices over the local network.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
