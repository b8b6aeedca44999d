package detect

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"vigil/core"
)

// Classifier flags alerts as malicious from their text and, when the log
// is a JSON object, from audit and flow log fields.
type Classifier struct {
	rules *RuleSet
}

// NewClassifier creates a Classifier. A nil rule set uses the defaults.
func NewClassifier(rules *RuleSet) *Classifier {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	return &Classifier{rules: rules}
}

var defaultClassifier = NewClassifier(nil)

// DetectMalicious classifies alert with the built-in rules
func DetectMalicious(alert *core.Alert) (bool, string) {
	return defaultClassifier.DetectMalicious(alert)
}

// DetectMalicious reports whether the alert looks malicious and why
func (c *Classifier) DetectMalicious(alert *core.Alert) (bool, string) {
	if alert == nil {
		return false, ""
	}

	text := strings.ToLower(alert.Log + " " + alert.Summary)
	for _, s := range c.rules.Substrings {
		if strings.Contains(text, s) {
			return true, fmt.Sprintf("suspicious text %q", s)
		}
	}

	if name, ok := c.rules.matchPatterns(alert.Log); ok {
		return true, fmt.Sprintf("matched rule %s", name)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(alert.Log), &obj); err != nil {
		return false, ""
	}
	return c.structuredSignal(obj)
}

// DetectMaliciousEntry classifies the alert and, failing that, the audit
// and flow fields of the raw entry it was normalized from.
func (c *Classifier) DetectMaliciousEntry(alert *core.Alert, entry interface{}) (bool, string) {
	if ok, reason := c.DetectMalicious(alert); ok {
		return true, reason
	}
	obj, ok := entry.(map[string]interface{})
	if !ok {
		return false, ""
	}
	return c.structuredSignal(obj)
}

// structuredSignal checks the object and its nested payloads for audit
// and flow indicators.
func (c *Classifier) structuredSignal(obj map[string]interface{}) (bool, string) {
	for _, candidate := range structuredCandidates(obj) {
		if ok, reason := c.auditSignal(candidate); ok {
			return true, reason
		}
		if ok, reason := c.flowSignal(candidate); ok {
			return true, reason
		}
	}
	return false, ""
}

// structuredCandidates returns the object itself and any nested payloads
func structuredCandidates(obj map[string]interface{}) []map[string]interface{} {
	out := []map[string]interface{}{obj}
	for _, key := range []string{"protoPayload", "jsonPayload"} {
		if nested, ok := obj[key].(map[string]interface{}); ok {
			out = append(out, nested)
		}
	}
	return out
}

func (c *Classifier) auditSignal(obj map[string]interface{}) (bool, string) {
	if method, ok := obj["methodName"].(string); ok && method != "" {
		for _, m := range c.rules.Methods {
			if strings.Contains(method, m) {
				return true, fmt.Sprintf("sensitive method %s", method)
			}
		}
	}

	if status, ok := obj["status"].(map[string]interface{}); ok {
		if code, ok := toInt(status["code"]); ok && containsInt(c.rules.statusCodes, code) {
			return true, fmt.Sprintf("denied status code %d", code)
		}
	}
	if code, ok := toInt(obj["status"]); ok && (code == 401 || code == 403) {
		return true, fmt.Sprintf("denied status code %d", code)
	}
	if req, ok := obj["httpRequest"].(map[string]interface{}); ok {
		if code, ok := toInt(req["status"]); ok && (code == 401 || code == 403) {
			return true, fmt.Sprintf("denied status code %d", code)
		}
	}

	if resource, ok := obj["resourceName"].(string); ok && resource != "" {
		lower := strings.ToLower(resource)
		for _, r := range c.rules.Resources {
			if strings.Contains(lower, strings.ToLower(r)) {
				return true, fmt.Sprintf("sensitive resource %s", resource)
			}
		}
	}
	return false, ""
}

func (c *Classifier) flowSignal(obj map[string]interface{}) (bool, string) {
	conn, _ := obj["connection"].(map[string]interface{})

	for _, v := range []interface{}{obj["disposition"], conn["disposition"], obj["action"]} {
		if s, ok := v.(string); ok {
			for _, d := range c.rules.dispositions {
				if strings.EqualFold(strings.TrimSpace(s), d) {
					return true, fmt.Sprintf("flow %s", strings.ToUpper(s))
				}
			}
		}
	}

	ports := []interface{}{conn["dest_port"], obj["dest_port"], obj["destPort"], obj["dst_port"]}
	if dest, ok := obj["destination"].(map[string]interface{}); ok {
		ports = append(ports, dest["port"])
	}
	for _, v := range ports {
		if port, ok := toInt(v); ok && containsInt(c.rules.Ports, port) {
			return true, fmt.Sprintf("sensitive destination port %d", port)
		}
	}
	return false, ""
}

// toInt accepts JSON numbers and numeric strings
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
