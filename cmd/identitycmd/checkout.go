package identitycmd

import (
	"fmt"
	"io"

	git "github.com/go-git/go-git/v5"
	gogit "github.com/go-git/go-git/v5/plumbing"
	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/refdb"
)

// CheckoutArgs contains arguments for CheckoutCmd.
type CheckoutArgs struct {
	Urn  string
	Peer string
	// Path is the directory the working copy is created in.
	Path string

	Stdout io.Writer
}

// CheckoutCmd clones an identity's default branch out of the shared
// monorepo into a standalone working copy.
func CheckoutCmd(env *Env, args *CheckoutArgs) error {
	urn, err := identity.ParseUrn(args.Urn)
	if err != nil {
		return err
	}
	rev, err := loadHead(env, urn, args.Peer)
	if err != nil {
		return err
	}

	branch := rev.Document.Subject.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	refName := refdb.NamespacePrefix(urn) + "/refs/heads/" + branch
	if args.Peer != "" {
		refName = refdb.NamespacePrefix(urn) + "/refs/remotes/" + args.Peer + "/heads/" + branch
	}

	path := args.Path
	if path == "" {
		path = rev.Document.Subject.Name
	}
	if env.RepoPath == "" {
		return fmt.Errorf("no repository path configured")
	}

	_, err = git.PlainClone(path, false, &git.CloneOptions{
		URL:           env.RepoPath,
		ReferenceName: gogit.ReferenceName(refName),
		SingleBranch:  true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to check out working copy")
	}

	color.Green("Checked out %s into %s", urn, path)
	return nil
}
