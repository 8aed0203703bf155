// Package serviceinfo describes a test host, as exchanged in the connection handshake.
package serviceinfo

import (
	"github.com/google/uuid"

	"github.com/launchdarkly/test-engine/framework"
)

// HostInfo is what each side of a connection tells the other about itself in the Hello
// command.
type HostInfo struct {
	// Name identifies the kind of host, such as "test-engine".
	Name string `xml:"Name,attr"`

	// Version is the host's version string.
	Version string `xml:"Version,attr,omitempty"`

	// SessionID is unique to one process run of the host.
	SessionID string `xml:"SessionID,attr,omitempty"`

	// Capabilities is a list of strings representing optional features of the host.
	Capabilities framework.Capabilities `xml:"Capability"`
}

// NewHostInfo returns a HostInfo with a new random session ID.
func NewHostInfo(name, version string, capabilities ...string) HostInfo {
	return HostInfo{
		Name:         name,
		Version:      version,
		SessionID:    uuid.NewString(),
		Capabilities: capabilities,
	}
}

func Empty() HostInfo {
	return HostInfo{}
}
