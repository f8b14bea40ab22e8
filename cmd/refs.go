package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ekiva-dev/ember/remote/plumbing"
)

// refsCmd lists a namespace's references by category
var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "List an identity's references by category",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func listCategory(cmd *cobra.Command, category string) error {
	ns, err := namespaceFromFlags(cmd)
	if err != nil {
		return err
	}
	peer, _ := cmd.Flags().GetString("peer")
	prefix := "refs/" + category + "/"
	if peer != "" {
		prefix = plumbing.MakeRemotePrefix(peer) + "/" + category + "/"
	}
	refs, err := ns.Scan(prefix)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		fmt.Fprintf(os.Stdout, "%s %s\n", ref.Peeled.Hex(), ref.Name)
	}
	return nil
}

var refsHeadsCmd = &cobra.Command{
	Use:   "heads [flags]",
	Short: "List an identity's branch heads",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listCategory(cmd, plumbing.HeadsCategory)
	},
}

var refsTagsCmd = &cobra.Command{
	Use:   "tags [flags]",
	Short: "List an identity's tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listCategory(cmd, plumbing.TagsCategory)
	},
}

var refsNotesCmd = &cobra.Command{
	Use:   "notes [flags]",
	Short: "List an identity's notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listCategory(cmd, plumbing.NotesCategory)
	},
}

var refsCategoryCmd = &cobra.Command{
	Use:   "category [flags] <name>",
	Short: "List an identity's references under an arbitrary category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listCategory(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(refsCmd)
	refsCmd.AddCommand(refsHeadsCmd, refsTagsCmd, refsNotesCmd, refsCategoryCmd)
	for _, cmd := range refsCmd.Commands() {
		cmd.Flags().String("urn", "", "The identity URN to operate on")
		cmd.Flags().String("peer", "", "The peer whose view to operate on")
	}
}
