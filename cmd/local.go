package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ekiva-dev/ember/cmd/identitycmd"
	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/storage"
)

var localPrefix = []byte("local")

// localCmd manages the local default person identity (the one linked as
// rad/self in replicated namespaces).
var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Manage the local default identity",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var localSetCmd = &cobra.Command{
	Use:   "set [flags]",
	Short: "Set the local default person identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("urn")
		urn, err := identity.ParseUrn(raw)
		if err != nil {
			return err
		}
		rev, err := identitycmd.LoadLocalHead(env, urn)
		if err != nil {
			return err
		}
		if rev.Document.Subject.Kind != identity.PersonKind {
			return fmt.Errorf("local identity must be a person")
		}
		return db.Put(storage.NewRecord([]byte("self"), []byte(urn.String()), localPrefix))
	},
}

var localGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the local default person identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := db.Get(storage.MakeKey([]byte("self"), localPrefix))
		if err != nil {
			return fmt.Errorf("no local identity set")
		}
		fmt.Fprintln(os.Stdout, string(rec.Value))
		return nil
	},
}

var localDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Print the identity used when none is set explicitly",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rec, err := db.Get(storage.MakeKey([]byte("self"), localPrefix)); err == nil {
			fmt.Fprintln(os.Stdout, string(rec.Value))
			return nil
		}
		// Fall back to the sole local person, when unambiguous.
		urn, err := identitycmd.SoleLocalPerson(env)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, urn.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(localCmd)
	localCmd.AddCommand(localSetCmd, localGetCmd, localDefaultCmd)
	localSetCmd.Flags().String("urn", "", "The person URN to set as the local identity")
}
