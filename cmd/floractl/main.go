// Command floractl is the operator CLI of the Flora storefront backend.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "floractl",
	Short: "Flora storefront operator tools",
	Long: `floractl manages the Flora storefront backend.

It applies database migrations and prices carts offline with the same
engine the API uses, which makes it handy for checking discount and tax
configuration before a deploy.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		_ = godotenv.Load()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
