package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/tracking"
)

// trackCmd adds a tracking entry for a (urn, peer) pair
var trackCmd = &cobra.Command{
	Use:   "track [flags]",
	Short: "Track a peer for an identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("urn")
		peer, _ := cmd.Flags().GetString("peer")
		urn, err := identity.ParseUrn(raw)
		if err != nil {
			return err
		}
		ref, err := env.Tracking.Track(urn, peer, tracking.DefaultConfig(), tracking.Any)
		if err != nil {
			return err
		}
		color.Green("Tracking entry created at %s", ref)
		return nil
	},
}

// untrackCmd removes a tracking entry
var untrackCmd = &cobra.Command{
	Use:   "untrack [flags]",
	Short: "Stop tracking a peer for an identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("urn")
		peer, _ := cmd.Flags().GetString("peer")
		prune, _ := cmd.Flags().GetBool("prune")
		urn, err := identity.ParseUrn(raw)
		if err != nil {
			return err
		}
		res, err := env.Tracking.Untrack(urn, peer, tracking.MustExist, prune)
		if err != nil {
			return err
		}
		color.Green("Untracked %s for %s", peer, urn)
		if prune {
			fmt.Printf("Pruned %d references\n", len(res.Pruned))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trackCmd, untrackCmd)
	for _, cmd := range []*cobra.Command{trackCmd, untrackCmd} {
		cmd.Flags().String("urn", "", "The identity URN to operate on")
		cmd.Flags().String("peer", "", "The peer to (un)track")
	}
	untrackCmd.Flags().Bool("prune", false, "Also remove the peer's remote references")
}
