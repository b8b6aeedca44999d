package detect

import (
	"fmt"
	"regexp"

	"vigil/core"
)

// Remediation action types
const (
	ActionBlockIP    = "block_ip"
	ActionSnapshotVM = "snapshot_vm"
)

const unknownTarget = "<unknown>"

var playbookActions = map[string][]string{
	PlaybookBlockIP:             {ActionBlockIP},
	PlaybookBlockIPThenSnapshot: {ActionBlockIP, ActionSnapshotVM},
}

// Checked in order; the first capture is the instance name.
var instancePatterns = []*regexp.Regexp{
	regexp.MustCompile(`/instances/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`"?instance_id"?\s*[:=]\s*"?([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`gce_instance\s+([a-z][a-z0-9-]*)`),
}

// BuildActions expands a playbook into the actions it would run, resolving
// the target IP from the indicators and the instance from text. Playbooks
// without a known expansion, such as ones named by the remote analysis
// service, become a single manual action. Actions are planned only; every
// one is returned awaiting approval.
func BuildActions(playbook, text string, indicators []core.Indicator) []core.RemediationAction {
	if playbook == "" {
		return nil
	}

	types, ok := playbookActions[playbook]
	if !ok {
		types = []string{playbook}
	}

	ip := primaryIP(indicators)
	vmID := InstanceID(text)

	actions := make([]core.RemediationAction, 0, len(types))
	for _, t := range types {
		var action core.RemediationAction
		switch t {
		case ActionBlockIP:
			action = core.RemediationAction{
				Name:       "Block IP at firewall",
				Type:       ActionBlockIP,
				Parameters: map[string]string{"ip": ip},
				Rollback:   fmt.Sprintf("Remove the firewall rule blocking %s", orUnknown(ip)),
			}
		case ActionSnapshotVM:
			action = core.RemediationAction{
				Name:       "Snapshot affected instance",
				Type:       ActionSnapshotVM,
				Parameters: map[string]string{"vm_id": vmID},
				Rollback:   fmt.Sprintf("Delete the snapshot taken of %s", orUnknown(vmID)),
			}
		default:
			action = core.RemediationAction{
				Name:       t,
				Type:       t,
				Parameters: map[string]string{},
				Rollback:   fmt.Sprintf("Manual rollback for %s", t),
			}
		}
		action.Status = core.ActionAwaitingApproval
		actions = append(actions, action)
	}
	return actions
}

// InstanceID returns the first compute instance named in text, or ""
func InstanceID(text string) string {
	for _, re := range instancePatterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// primaryIP prefers the first malicious IP indicator over any other IP
func primaryIP(indicators []core.Indicator) string {
	first := ""
	for _, ind := range indicators {
		if ind.Type != IndicatorIP {
			continue
		}
		if ind.Malicious {
			return ind.Value
		}
		if first == "" {
			first = ind.Value
		}
	}
	return first
}

func orUnknown(s string) string {
	if s == "" {
		return unknownTarget
	}
	return s
}
