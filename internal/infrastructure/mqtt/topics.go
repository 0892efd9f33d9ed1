package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the first level of every minerctl topic.
const TopicPrefix = "minerctl"

// Command actions accepted on the command topics.
const (
	CommandStart = "start"
	CommandStop  = "stop"
)

// Topics builds the topic tree of one minerctl instance:
//
//	minerctl/{rig}/status        online/offline (retained, LWT)
//	minerctl/{rig}/state         supervisor state (retained)
//	minerctl/{rig}/telemetry     latest snapshot (retained)
//	minerctl/{rig}/block         block_found events (QoS 1, never retained)
//	minerctl/{rig}/warning       pre-flight and termination warnings
//	minerctl/{rig}/tuning        tuning outcomes
//	minerctl/{rig}/command/{op}  start and stop requests
//	minerctl/{rig}/command/{op}/result
type Topics struct {
	// Rig identifies this instance. It defaults to the MQTT client ID.
	Rig string
}

// NewTopics returns the topic builder for rig. Topic-reserved characters
// in rig are replaced with underscores.
func NewTopics(rig string) Topics {
	rig = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(rig)
	if rig == "" {
		rig = "default"
	}
	return Topics{Rig: rig}
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", TopicPrefix, t.Rig)
}

// Status is the retained online/offline topic, also used for the LWT.
//
// Example: minerctl/rig-01/status
func (t Topics) Status() string { return t.base() + "/status" }

// State carries supervisor state transitions.
//
// Example: minerctl/rig-01/state
func (t Topics) State() string { return t.base() + "/state" }

// Telemetry carries periodic telemetry snapshots.
func (t Topics) Telemetry() string { return t.base() + "/telemetry" }

// Block carries solo block wins.
func (t Topics) Block() string { return t.base() + "/block" }

// Warning carries operator warnings.
func (t Topics) Warning() string { return t.base() + "/warning" }

// Tuning carries tuning outcomes.
func (t Topics) Tuning() string { return t.base() + "/tuning" }

// Command returns the command topic for action.
//
// Example: minerctl/rig-01/command/start
func (t Topics) Command(action string) string {
	return fmt.Sprintf("%s/command/%s", t.base(), action)
}

// CommandResult carries the outcome of a command.
//
// Example: minerctl/rig-01/command/start/result
func (t Topics) CommandResult(action string) string {
	return t.Command(action) + "/result"
}

// AllCommands matches every command topic of this rig.
//
// Pattern: minerctl/rig-01/command/+
func (t Topics) AllCommands() string { return t.base() + "/command/+" }

// CommandAction extracts the action from a command topic of this rig.
func (t Topics) CommandAction(topic string) (string, bool) {
	action, ok := strings.CutPrefix(topic, t.base()+"/command/")
	if !ok || action == "" || strings.Contains(action, "/") {
		return "", false
	}
	return action, true
}

// AllTopics matches every minerctl topic of every rig.
//
// Pattern: minerctl/#
func AllTopics() string { return TopicPrefix + "/#" }
