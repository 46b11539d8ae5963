package arinterface

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"github.com/goblin-xna/alvar-extension/internal/session"
)

// Config is the central configuration used by this library
var Config configStruct = configStruct{}

type configStruct struct {
	// version is reported to hosts that ask for it
	version string

	// session receives every exported call; the host binary installs it
	// at startup
	session *session.Session

	// frameBuf is a reusable copy of the host's frame pixels; the session
	// keeps the frame alive between detect and pose calls, so pixel data
	// must not alias host-owned memory
	frameBuf []byte
}

func (c *configStruct) Init() {
	c.version = "No version set"
}

// SetVersion sets the version string reported to the host
func SetVersion(version string) {
	Config.version = version
}

// SetSession installs the tracking session that handles all exported calls
func SetSession(s *session.Session) {
	Config.session = s
}

// Session returns the installed session, or nil if not set
func Session() *session.Session {
	return Config.session
}
