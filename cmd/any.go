package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ekiva-dev/ember/cmd/identitycmd"
)

// anyCmd operates on identities regardless of kind
var anyCmd = &cobra.Command{
	Use:   "any",
	Short: "Find identities of any kind",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var anyGetCmd = &cobra.Command{
	Use:   "get [flags]",
	Short: "Print an identity's current document",
	RunE: func(cmd *cobra.Command, args []string) error {
		urn, _ := cmd.Flags().GetString("urn")
		peer, _ := cmd.Flags().GetString("peer")
		return identitycmd.GetCmd(env, &identitycmd.GetArgs{Urn: urn, Peer: peer, Stdout: os.Stdout})
	},
}

var anyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all local identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		return identitycmd.ListCmd(env, &identitycmd.ListArgs{Stdout: os.Stdout})
	},
}

func init() {
	rootCmd.AddCommand(anyCmd)
	anyCmd.AddCommand(anyGetCmd, anyListCmd)
	anyGetCmd.Flags().String("urn", "", "The identity URN to operate on")
	anyGetCmd.Flags().String("peer", "", "The peer whose view to operate on")
}
