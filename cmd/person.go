package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ekiva-dev/ember/cmd/identitycmd"
	"github.com/ekiva-dev/ember/identity"
)

// personCmd represents the person command
var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Create, find and manage persons",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var personCreateCmd = &cobra.Command{
	Use:   "create [flags]",
	Short: "Create a person",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, _ := cmd.Flags().GetString("payload")
		ext, _ := cmd.Flags().GetStringArray("ext")
		delegations, _ := cmd.Flags().GetStringArray("delegations")
		return identitycmd.CreateCmd(env, &identitycmd.CreateArgs{
			Kind:        identity.PersonKind,
			Payload:     payload,
			Ext:         ext,
			Delegations: delegations,
			Stdout:      os.Stdout,
		})
	},
}

var personGetCmd = &cobra.Command{
	Use:   "get [flags]",
	Short: "Print a person's current document",
	RunE: func(cmd *cobra.Command, args []string) error {
		urn, _ := cmd.Flags().GetString("urn")
		peer, _ := cmd.Flags().GetString("peer")
		return identitycmd.GetCmd(env, &identitycmd.GetArgs{Urn: urn, Peer: peer, Stdout: os.Stdout})
	},
}

var personListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local persons",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := identity.PersonKind
		return identitycmd.ListCmd(env, &identitycmd.ListArgs{Kind: &kind, Stdout: os.Stdout})
	},
}

var personUpdateCmd = &cobra.Command{
	Use:   "update [flags]",
	Short: "Write a new revision of a person",
	RunE: func(cmd *cobra.Command, args []string) error {
		urn, _ := cmd.Flags().GetString("urn")
		payload, _ := cmd.Flags().GetString("payload")
		ext, _ := cmd.Flags().GetStringArray("ext")
		delegations, _ := cmd.Flags().GetStringArray("delegations")
		return identitycmd.UpdateCmd(env, &identitycmd.UpdateArgs{
			Urn:         urn,
			Payload:     payload,
			Ext:         ext,
			Delegations: delegations,
			Stdout:      os.Stdout,
		})
	},
}

var personCheckoutCmd = &cobra.Command{
	Use:   "checkout [flags]",
	Short: "Create a working copy of a person's repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		urn, _ := cmd.Flags().GetString("urn")
		peer, _ := cmd.Flags().GetString("peer")
		path, _ := cmd.Flags().GetString("path")
		return identitycmd.CheckoutCmd(env, &identitycmd.CheckoutArgs{Urn: urn, Peer: peer, Path: path, Stdout: os.Stdout})
	},
}

var personDiffCmd = &cobra.Command{
	Use:   "diff [flags]",
	Short: "Compare our person document with a peer's",
	RunE: func(cmd *cobra.Command, args []string) error {
		urn, _ := cmd.Flags().GetString("urn")
		peer, _ := cmd.Flags().GetString("peer")
		return identitycmd.DiffCmd(env, &identitycmd.DiffArgs{Urn: urn, Peer: peer, Stdout: os.Stdout})
	},
}

var personAcceptCmd = &cobra.Command{
	Use:   "accept [flags]",
	Short: "Merge and co-sign a peer's revision of a person",
	RunE: func(cmd *cobra.Command, args []string) error {
		urn, _ := cmd.Flags().GetString("urn")
		peer, _ := cmd.Flags().GetString("peer")
		return identitycmd.AcceptCmd(env, &identitycmd.AcceptArgs{Urn: urn, Peer: peer, Stdout: os.Stdout})
	},
}

var personTrackedCmd = &cobra.Command{
	Use:   "tracked [flags]",
	Short: "List the peers tracked for a person",
	RunE: func(cmd *cobra.Command, args []string) error {
		urn, _ := cmd.Flags().GetString("urn")
		return identitycmd.TrackedCmd(env, &identitycmd.TrackedArgs{Urn: urn, Stdout: os.Stdout})
	},
}

func init() {
	rootCmd.AddCommand(personCmd)
	personCmd.AddCommand(personCreateCmd, personGetCmd, personListCmd, personUpdateCmd,
		personCheckoutCmd, personDiffCmd, personAcceptCmd, personTrackedCmd)

	for _, cmd := range personCmd.Commands() {
		cmd.Flags().String("urn", "", "The identity URN to operate on")
		cmd.Flags().String("peer", "", "The peer whose view to operate on")
		cmd.Flags().String("path", "", "The path to operate on")
	}
	for _, cmd := range []*cobra.Command{personCreateCmd, personUpdateCmd} {
		cmd.Flags().String("payload", "", "The subject payload as JSON")
		cmd.Flags().StringArray("ext", nil, "Extension payload as namespace=json (repeatable)")
		cmd.Flags().StringArray("delegations", nil, "Delegation entry: a PeerId (repeatable)")
	}
}
