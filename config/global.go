package config

import (
	"github.com/ekiva-dev/ember/crypto"
	"github.com/ekiva-dev/ember/pkgs/logger"
)

// Globals holds process-wide objects that many components need a handle
// on but that don't belong on AppConfig's serializable surface.
type Globals struct {
	// Log is the root logger; components derive module loggers from it
	Log logger.Logger

	// NodeKey is this node's identity keypair
	NodeKey *crypto.Key
}
