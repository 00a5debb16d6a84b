package mqtt

import (
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "lifx"

// Topics builds the lifxd topic tree under a prefix:
//
//	<prefix>/state/<device-id>    retained light view, one per device
//	<prefix>/discovery            discovery run results
//	<prefix>/set/<selector>       inbound state commands
//	<prefix>/system/status        online/offline, retained, also the LWT
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// State returns the retained state topic for a device.
//
// Example: lifx/state/d073d5010203
func (t Topics) State(deviceID string) string {
	return t.prefix() + "/state/" + deviceID
}

// Discovery returns the topic discovery results are published on.
func (t Topics) Discovery() string {
	return t.prefix() + "/discovery"
}

// Set returns the command topic for a selector.
//
// Example: lifx/set/group:Kitchen
func (t Topics) Set(selector string) string {
	return t.prefix() + "/set/" + selector
}

// AllSet returns the wildcard subscription for every command topic.
func (t Topics) AllSet() string {
	return t.prefix() + "/set/+"
}

// AllStates returns the wildcard for every device state topic.
func (t Topics) AllStates() string {
	return t.prefix() + "/state/+"
}

// SystemStatus returns the gateway status topic.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// SelectorFromSet extracts the selector from a command topic. It returns
// false when topic is not under Set.
func (t Topics) SelectorFromSet(topic string) (string, bool) {
	sel, ok := strings.CutPrefix(topic, t.prefix()+"/set/")
	if !ok || sel == "" || strings.Contains(sel, "/") {
		return "", false
	}
	return sel, true
}
