package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the agent publishes or subscribes to.
const TopicPrefix = "fieldrelay"

// Topics builds the agent's topic hierarchy:
//
//	fieldrelay/{agent}/state/{device}/{channel}   retained readings mirror
//	fieldrelay/{agent}/command                    local command ingress
//	fieldrelay/{agent}/status                     online/offline (LWT)
//	fieldrelay/{agent}/health                     periodic health report
type Topics struct {
	Agent string
}

// State returns the mirror topic for one device channel.
//
// Example: fieldrelay/greenhouse-01/state/plug-a/power
func (t Topics) State(device, channel string) string {
	return fmt.Sprintf("%s/%s/state/%s/%s", TopicPrefix, segment(t.Agent), segment(device), segment(channel))
}

// StateWildcard matches every mirrored reading of this agent.
func (t Topics) StateWildcard() string {
	return fmt.Sprintf("%s/%s/state/#", TopicPrefix, segment(t.Agent))
}

// Command returns the local command ingress topic.
func (t Topics) Command() string {
	return fmt.Sprintf("%s/%s/command", TopicPrefix, segment(t.Agent))
}

// Status returns the online/offline topic used for the last will.
func (t Topics) Status() string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, segment(t.Agent))
}

// Health returns the periodic health report topic.
func (t Topics) Health() string {
	return fmt.Sprintf("%s/%s/health", TopicPrefix, segment(t.Agent))
}

// segmentReplacer neutralises MQTT separators and wildcards inside a level.
var segmentReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// segment makes a name safe to use as a single topic level.
func segment(s string) string {
	if s == "" {
		return "_"
	}
	return segmentReplacer.Replace(s)
}
