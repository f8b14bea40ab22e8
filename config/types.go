package config

const (
	// ModeProd refers to production mode
	ModeProd = iota
	// ModeDev refers to development mode
	ModeDev
	// ModeTest refers to test mode
	ModeTest
)

// NodeConfig holds node-identity-level configuration.
type NodeConfig struct {
	// Mode determines the current environment type
	Mode int `json:"mode" mapstructure:"mode"`

	// Key is the base58-encoded private key used to derive this node's identity
	Key string `json:"key" mapstructure:"key"`

	// ListeningAddr is the address the transport host listens on
	ListeningAddr string `json:"listeningAddr" mapstructure:"listeningAddr"`

	// BootstrapPeers is a comma-separated list of multiaddrs dialed at startup
	BootstrapPeers string `json:"bootstrapPeers" mapstructure:"bootstrapPeers"`

	// IgnoreSeeds disables dialing the built-in seed peers
	IgnoreSeeds bool `json:"ignoreSeeds" mapstructure:"ignoreSeeds"`
}

// MembershipConfig holds HyParView gossip tuning knobs.
type MembershipConfig struct {
	ActiveViewSize  int `json:"activeViewSize" mapstructure:"activeViewSize"`
	PassiveViewSize int `json:"passiveViewSize" mapstructure:"passiveViewSize"`
	ARWL            int `json:"arwl" mapstructure:"arwl"`
	PRWL            int `json:"prwl" mapstructure:"prwl"`
	ShuffleInterval int `json:"shuffleIntervalSec" mapstructure:"shuffleIntervalSec"`
}

// WaitingRoomConfig holds request/clone concurrency caps.
type WaitingRoomConfig struct {
	MaxQueries int `json:"maxQueries" mapstructure:"maxQueries"`
	MaxClones  int `json:"maxClones" mapstructure:"maxClones"`
}

// ReplicationConfig holds replication/fetch tuning knobs.
type ReplicationConfig struct {
	MaxConcurrentFetches int `json:"maxConcurrentFetches" mapstructure:"maxConcurrentFetches"`
	InitialBackoffMS     int `json:"initialBackoffMs" mapstructure:"initialBackoffMs"`
	MaxBackoffMS         int `json:"maxBackoffMs" mapstructure:"maxBackoffMs"`
}

// VersionInfo describes the build's version information.
type VersionInfo struct {
	BuildVersion string `json:"buildVersion" mapstructure:"buildVersion"`
	BuildCommit  string `json:"buildCommit" mapstructure:"buildCommit"`
	BuildDate    string `json:"buildDate" mapstructure:"buildDate"`
	GoVersion    string `json:"goVersion" mapstructure:"goVersion"`
}

// AppConfig is ember's root configuration object, trimmed to the knobs
// the replication/identity/gossip/waiting-room engine actually needs.
type AppConfig struct {
	Node        *NodeConfig        `json:"node" mapstructure:"node"`
	Membership  *MembershipConfig  `json:"membership" mapstructure:"membership"`
	WaitingRoom *WaitingRoomConfig `json:"waitingRoom" mapstructure:"waitingRoom"`
	Replication *ReplicationConfig `json:"replication" mapstructure:"replication"`

	// dataDir is where the node's config and repository data is stored
	dataDir string

	// VersionInfo holds version information
	VersionInfo *VersionInfo `json:"-" mapstructure:"-"`

	g *Globals
}

// EmptyAppConfig returns an AppConfig with all sub-structs allocated,
// ready for viper.Unmarshal to populate.
func EmptyAppConfig() *AppConfig {
	return &AppConfig{
		Node:        &NodeConfig{},
		Membership:  &MembershipConfig{},
		WaitingRoom: &WaitingRoomConfig{},
		Replication: &ReplicationConfig{},
		g:           &Globals{},
	}
}

// DataDir returns the application's data directory
func (c *AppConfig) DataDir() string {
	return c.dataDir
}

// SetDataDir sets the application's data directory
func (c *AppConfig) SetDataDir(d string) {
	c.dataDir = d
}

// IsDev checks whether the current environment is 'development'
func (c *AppConfig) IsDev() bool {
	return c.Node.Mode == ModeDev
}

// IsTest checks whether the current environment is 'test'
func (c *AppConfig) IsTest() bool {
	return c.Node.Mode == ModeTest
}

// G returns the config's bag of global objects
func (c *AppConfig) G() *Globals {
	return c.g
}
