package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ekiva-dev/ember/cmd/identitycmd"
	"github.com/ekiva-dev/ember/config"
	"github.com/ekiva-dev/ember/crypto"
	"github.com/ekiva-dev/ember/objectstore"
	"github.com/ekiva-dev/ember/pkgs/cmdhelper"
	"github.com/ekiva-dev/ember/pkgs/logger"
	"github.com/ekiva-dev/ember/refdb"
	"github.com/ekiva-dev/ember/storage"
	"github.com/ekiva-dev/ember/tracking"
)

var (
	// BuildVersion is the build version set by goreleaser
	BuildVersion = ""

	// BuildCommit is the git hash of the build. It is set by goreleaser
	BuildCommit = ""

	// BuildDate is the date the build was created. Its is set by goreleaser
	BuildDate = ""
)

var (
	log logger.Logger

	// cfg is the application config
	cfg = config.EmptyAppConfig()

	// env holds the opened stores shared by the commands
	env *identitycmd.Env

	// db is the badger engine backing tracking and reflogs
	db *storage.Badger
)

// Execute the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ember",
	Short: "Peer-to-peer code collaboration substrate",
	Long: `Ember replicates projects and persons between peers: verifiable,
signed identity documents govern who may mutate them, and signed ref
sets govern what is fetched.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.Configure(cfg, false)
		log = cfg.G().Log.Module("cmd")

		var err error
		env, db, err = openEnv(cfg)
		if err != nil {
			log.Fatal("Failed to open stores", "err", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			_ = db.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// openEnv opens the monorepo, reference database, badger engine and
// tracking store rooted at the configured data directory.
func openEnv(cfg *config.AppConfig) (*identitycmd.Env, *storage.Badger, error) {
	repoPath := filepath.Join(cfg.DataDir(), "repos", "mono")
	objects, err := objectstore.Open(repoPath)
	if err != nil {
		return nil, nil, err
	}

	db := storage.NewBadger()
	if err := db.Init(filepath.Join(cfg.DataDir(), "tracking")); err != nil {
		return nil, nil, err
	}

	refs := refdb.New(objects.Repo().Storer, objects, refdb.NewStorageReflog(db))
	tracked := tracking.New(objects, refs, db)

	key, err := nodeKey(cfg)
	if err != nil {
		return nil, nil, err
	}
	cfg.G().NodeKey = key

	return &identitycmd.Env{
		Objects:  objects,
		Refs:     refs,
		Tracking: tracked,
		Key:      key,
		RepoPath: repoPath,
	}, db, nil
}

// nodeKey loads the node's identity key from configuration, generating
// (and persisting to the in-memory config view) a fresh one when unset.
func nodeKey(cfg *config.AppConfig) (*crypto.Key, error) {
	if cfg.Node.Key != "" {
		sk, err := crypto.PrivKeyFromBase58(cfg.Node.Key)
		if err != nil {
			return nil, err
		}
		return crypto.NewKeyFromPrivKey(sk), nil
	}
	key, err := crypto.NewKey(nil)
	if err != nil {
		return nil, err
	}
	viper.Set("node.key", key.PrivKey().Base58())
	return key, nil
}

func init() {
	rootCmd.SetHelpFunc(func(command *cobra.Command, args []string) {
		fmt.Println(cmdhelper.NewCmdHelper(command).Render().String())
	})

	rootCmd.PersistentFlags().String("home", config.DefaultDataDir, "Set the path to the home directory")
	rootCmd.PersistentFlags().Bool("dev", false, "Enable development mode")
	rootCmd.PersistentFlags().Bool("no-log", false, "Disable loggers")
	rootCmd.PersistentFlags().Bool("no-colors", false, "Disable colored output")
	viper.BindPFlag("home", rootCmd.PersistentFlags().Lookup("home"))
	viper.BindPFlag("dev", rootCmd.PersistentFlags().Lookup("dev"))
	viper.BindPFlag("no-log", rootCmd.PersistentFlags().Lookup("no-log"))
	viper.BindPFlag("no-colors", rootCmd.PersistentFlags().Lookup("no-colors"))
}
