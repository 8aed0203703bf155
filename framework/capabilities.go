package framework

// Capabilities is a list of strings representing optional features of a test host. Each side of
// a connection reports its capabilities in the handshake.
type Capabilities []string

const (
	// CapabilityRemoteObjects means the host can export and call remote objects.
	CapabilityRemoteObjects = "remote-objects"
	// CapabilityEventSink means the host forwards test logger events to the peer's event sink.
	CapabilityEventSink = "event-sink"
	// CapabilitySettings means the host accepts SyncConfiguration.
	CapabilitySettings = "settings"
	// CapabilityCancel means the host honors CancelTestRun for an in-flight run.
	CapabilityCancel = "cancel"
)

// Has returns true if the specified string appears in the list.
func (cs Capabilities) Has(name string) bool {
	for _, c := range cs {
		if c == name {
			return true
		}
	}
	return false
}

// HasAll returns true if every specified string appears in the list.
func (cs Capabilities) HasAll(names ...string) bool {
	for _, n := range names {
		if !cs.Has(n) {
			return false
		}
	}
	return true
}

// Missing returns the names that are not in the list, preserving their order.
func (cs Capabilities) Missing(names ...string) []string {
	var ret []string
	for _, n := range names {
		if !cs.Has(n) {
			ret = append(ret, n)
		}
	}
	return ret
}
