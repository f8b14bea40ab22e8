package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/refdb"
	"github.com/ekiva-dev/ember/remote/plumbing"
	"github.com/ekiva-dev/ember/remote/sigrefs"
)

// radRefsCmd inspects the rad refs of a namespace
var radRefsCmd = &cobra.Command{
	Use:   "rad-refs",
	Short: "Inspect the rad references of an identity",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var radRefsSelfCmd = &cobra.Command{
	Use:   "self [flags]",
	Short: "Print the namespace's rad/self target",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := namespaceFromFlags(cmd)
		if err != nil {
			return err
		}
		target, err := ns.Find(plumbing.RadSelf)
		if err != nil {
			return err
		}
		if target.IsSymbolic() {
			fmt.Fprintln(os.Stdout, target.Sym)
			return nil
		}
		fmt.Fprintln(os.Stdout, target.Oid.Hex())
		return nil
	},
}

var radRefsSignedCmd = &cobra.Command{
	Use:   "signed [flags]",
	Short: "Print the namespace's signed-refs record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := namespaceFromFlags(cmd)
		if err != nil {
			return err
		}
		peer, _ := cmd.Flags().GetString("peer")
		name := plumbing.RadSignedRefs
		if peer != "" {
			name = plumbing.MakeRemoteRef(peer, plumbing.RadSignedRefs)
		}
		oid, err := ns.Resolve(name)
		if err != nil {
			return err
		}
		signed, err := sigrefs.Load(env.Objects, oid)
		if err != nil {
			return err
		}
		for _, refName := range signed.Refs.Names() {
			target, _ := signed.Refs.Find(refName)
			fmt.Fprintf(os.Stdout, "%s %s\n", target.Hex(), refName)
		}
		return nil
	},
}

var radRefsDelegatesCmd = &cobra.Command{
	Use:   "delegates [flags]",
	Short: "List the namespace's delegate links",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := namespaceFromFlags(cmd)
		if err != nil {
			return err
		}
		refs, err := ns.Scan("refs/rad/delegates/")
		if err != nil {
			return err
		}
		for _, ref := range refs {
			name := strings.TrimPrefix(ref.Name, "refs/rad/delegates/")
			fmt.Fprintf(os.Stdout, "%s %s\n", ref.Peeled.Hex(), name)
		}
		return nil
	},
}

var radRefsDelegateCmd = &cobra.Command{
	Use:   "delegate [flags] <delegate>",
	Short: "Print one delegate link of the namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := namespaceFromFlags(cmd)
		if err != nil {
			return err
		}
		oid, err := ns.Resolve(plumbing.MakeRadDelegateRef(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, oid.Hex())
		return nil
	},
}

func namespaceFromFlags(cmd *cobra.Command) (*refdb.DB, error) {
	raw, _ := cmd.Flags().GetString("urn")
	urn, err := identity.ParseUrn(raw)
	if err != nil {
		return nil, err
	}
	return env.Refs.Namespaced(urn), nil
}

func init() {
	rootCmd.AddCommand(radRefsCmd)
	radRefsCmd.AddCommand(radRefsSelfCmd, radRefsSignedCmd, radRefsDelegatesCmd, radRefsDelegateCmd)
	for _, cmd := range radRefsCmd.Commands() {
		cmd.Flags().String("urn", "", "The identity URN to operate on")
		cmd.Flags().String("peer", "", "The peer whose view to operate on")
	}
}
