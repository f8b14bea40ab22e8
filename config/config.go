package config

import (
	"log"
	"os"
	path "path/filepath"
	"strings"

	"github.com/ekiva-dev/ember/pkgs/logger"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interrupt is a broadcast-once channel used to signal long-running
// components (gossip run-loop, replication workers) to shut down.
type Interrupt chan struct{}

// IsClosed checks whether the channel has been closed
func (i *Interrupt) IsClosed() bool {
	select {
	case <-*i:
		return true
	default:
		return false
	}
}

// Close closes the channel if it isn't already closed
func (i *Interrupt) Close() {
	if !i.IsClosed() {
		close(*i)
	}
}

var (
	cfg = EmptyAppConfig()

	itr = Interrupt(make(chan struct{}))

	// AppName is the name of the application
	AppName = "ember"

	// DefaultDataDir is the path to the data directory
	DefaultDataDir = os.ExpandEnv("$HOME/." + AppName)

	// AppEnvPrefix is used as the prefix for environment variables
	AppEnvPrefix = AppName

	// DefaultListeningAddr is the default transport host listening address
	DefaultListeningAddr = ":9094"

	// NoColorFormatting indicates that stdout/stderr output should have no color
	NoColorFormatting = false

	// BootstrapPeers are trusted, permanent peers dialed at startup unless
	// Node.IgnoreSeeds is set.
	BootstrapPeers = []string{
		"/dns4/seed1.ember.dev/tcp/9094/p2p/12D3KooWAeorTJTi3uRDC3nSMa1V9CujJQg5XcN3UjSSV2HDceQU",
		"/dns4/seed2.ember.dev/tcp/9094/p2p/12D3KooWEksv3Nvbv5dRwKRkLJjoLvsuC6hyokj5sERx8mWrxMoB",
	}
)

func init() {
	DefaultDataDir, _ = homedir.Expand(path.Join("~", "."+AppName))
}

// GetConfig returns the global app config
func GetConfig() *AppConfig {
	return cfg
}

// GetInterrupt returns the process-wide interrupt channel
func GetInterrupt() *Interrupt {
	return &itr
}

func setDefaultViperConfig() {
	viper.SetDefault("membership.activeViewSize", 4)
	viper.SetDefault("membership.passiveViewSize", 24)
	viper.SetDefault("membership.arwl", 5)
	viper.SetDefault("membership.prwl", 2)
	viper.SetDefault("membership.shuffleIntervalSec", 60)
	viper.SetDefault("waitingRoom.maxQueries", 3)
	viper.SetDefault("waitingRoom.maxClones", 3)
	viper.SetDefault("replication.maxConcurrentFetches", 8)
	viper.SetDefault("replication.initialBackoffMs", 1000)
	viper.SetDefault("replication.maxBackoffMs", 5000)
	viper.SetDefault("node.listeningAddr", DefaultListeningAddr)
}

// Configure loads configuration from disk/env into appCfg and wires its
// global objects (logger, node key). This is where all settings are
// resolved before any component starts.
func Configure(appCfg *AppConfig, initializing bool) {
	NoColorFormatting = viper.GetBool("no-colors")
	appCfg.VersionInfo = &VersionInfo{}

	setup(appCfg, initializing)
	setupLogger(appCfg)

	if appCfg.IsDev() {
		BootstrapPeers = []string{}
	}

	if !appCfg.Node.IgnoreSeeds {
		appCfg.Node.BootstrapPeers = strings.Join(
			append(strings.Split(appCfg.Node.BootstrapPeers, ","), BootstrapPeers...), ",")
	}
}

func setup(appCfg *AppConfig, initializing bool) {
	viper.SetEnvPrefix(AppEnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if appCfg.Node.Mode == 0 {
		appCfg.Node.Mode = ModeProd
		if viper.GetBool("dev") {
			appCfg.Node.Mode = ModeDev
		}
	}

	dataDir := appCfg.DataDir()
	if dataDir == "" {
		var err error
		dataDir, err = homedir.Expand(path.Join("~", "."+AppName))
		if err != nil {
			log.Fatalf("failed to resolve home directory: %s", err)
		}
	}

	_ = os.MkdirAll(dataDir, 0700)
	_ = os.MkdirAll(path.Join(dataDir, "repos"), 0700)
	_ = os.MkdirAll(path.Join(dataDir, "tracking"), 0700)

	setDefaultViperConfig()
	viper.SetConfigName(AppName)
	viper.AddConfigPath(dataDir)
	viper.AddConfigPath(".")

	noConfigFile := false
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			noConfigFile = true
		} else {
			log.Fatalf("failed to read config file: %s", err)
		}
	}

	if noConfigFile && !initializing {
		viper.SetConfigType("yaml")
		if err := viper.WriteConfigAs(path.Join(dataDir, AppName+".yml")); err != nil {
			log.Fatalf("failed to create config file: %s", err)
		}
	}

	if err := viper.Unmarshal(&appCfg); err != nil {
		log.Fatalf("failed to unmarshal configuration file: %s", err)
	}

	appCfg.SetDataDir(dataDir)
}

func setupLogger(appCfg *AppConfig) {
	appCfg.G().Log = logger.NewLogrus()
	if appCfg.IsDev() {
		appCfg.G().Log.SetToDebug()
	}
	if viper.GetBool("no-log") {
		appCfg.G().Log.SetToError()
	}
}
