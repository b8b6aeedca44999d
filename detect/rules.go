package detect

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultRegexTimeout bounds each operator pattern match
const DefaultRegexTimeout = 100 * time.Millisecond

// Built-in indicator lists
var (
	suspiciousSubstrings = []string{
		"unauthorized",
		"permission denied",
		"sql injection",
		"<script>",
		"ransomware",
		"malware",
		"brute force",
		"privilege escalation",
		"crypto mining",
		"exfiltration",
		"reverse shell",
		"union select",
		"../",
		"/etc/passwd",
	}

	sensitiveMethods = []string{
		"SetIamPolicy",
		"CreateServiceAccountKey",
		"DeleteServiceAccount",
		"CreateServiceAccount",
		"UpdateRole",
		"CreateRole",
		"DisableServiceAccountKey",
		"DestroyCryptoKeyVersion",
		"compute.instances.insert",
		"compute.instances.delete",
		"compute.instances.setMetadata",
		"compute.firewalls.insert",
		"compute.firewalls.patch",
		"compute.firewalls.delete",
	}

	sensitiveResources = []string{
		"metadata.google.internal",
		"169.254.169.254",
		"/admin",
	}

	// 7 PERMISSION_DENIED and 16 UNAUTHENTICATED (gRPC), 401 and 403 (HTTP)
	deniedStatusCodes = []int{7, 16, 401, 403}

	sensitivePorts = []int{22, 3389, 3306, 5432, 27017, 6379, 9200, 25}

	deniedDispositions = []string{"DENY", "REJECT"}
)

// PatternRule is an operator-defined regular expression
type PatternRule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`

	re *regexp2.Regexp
}

// RuleSet holds the indicator lists the classifier matches against
type RuleSet struct {
	Substrings []string      `yaml:"substrings"`
	Methods    []string      `yaml:"methods"`
	Resources  []string      `yaml:"resources"`
	Ports      []int         `yaml:"ports"`
	Patterns   []PatternRule `yaml:"patterns"`

	statusCodes  []int
	dispositions []string
	timeout      time.Duration
	logger       *zap.SugaredLogger
}

// DefaultRuleSet returns the built-in lists with no operator patterns
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Substrings:   append([]string(nil), suspiciousSubstrings...),
		Methods:      append([]string(nil), sensitiveMethods...),
		Resources:    append([]string(nil), sensitiveResources...),
		Ports:        append([]int(nil), sensitivePorts...),
		statusCodes:  deniedStatusCodes,
		dispositions: deniedDispositions,
		timeout:      DefaultRegexTimeout,
	}
}

// LoadRuleSet reads a YAML rules file and appends its entries to the
// built-in lists. An empty path yields the defaults. Patterns that fail to
// compile are logged and skipped.
func LoadRuleSet(path string, timeout time.Duration, logger *zap.SugaredLogger) (*RuleSet, error) {
	rs := DefaultRuleSet()
	rs.logger = logger
	if timeout > 0 {
		rs.timeout = timeout
	}
	if path == "" {
		return rs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var extra RuleSet
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules file: %w", err)
	}

	rs.Substrings = appendLower(rs.Substrings, extra.Substrings)
	rs.Methods = appendNonEmpty(rs.Methods, extra.Methods)
	rs.Resources = appendNonEmpty(rs.Resources, extra.Resources)
	for _, port := range extra.Ports {
		if port > 0 && port <= 65535 {
			rs.Ports = append(rs.Ports, port)
		}
	}

	for i, p := range extra.Patterns {
		if p.Pattern == "" {
			logger.Warnw("Skipping rule pattern without expression", "index", i, "name", p.Name)
			continue
		}
		re, err := regexp2.Compile(p.Pattern, regexp2.IgnoreCase)
		if err != nil {
			logger.Errorw("Invalid rule pattern, skipping",
				"name", p.Name,
				"pattern", p.Pattern,
				"error", err)
			continue
		}
		re.MatchTimeout = rs.timeout
		if p.Name == "" {
			p.Name = fmt.Sprintf("pattern-%d", i+1)
		}
		p.re = re
		rs.Patterns = append(rs.Patterns, p)
	}

	logger.Infow("Loaded classifier rules",
		"path", path,
		"substrings", len(rs.Substrings),
		"methods", len(rs.Methods),
		"ports", len(rs.Ports),
		"patterns", len(rs.Patterns))
	return rs, nil
}

// matchPatterns returns the name of the first operator pattern matching
// text. A pattern that times out counts as no match.
func (rs *RuleSet) matchPatterns(text string) (string, bool) {
	for _, p := range rs.Patterns {
		if p.re == nil {
			continue
		}
		ok, err := p.re.MatchString(text)
		if err != nil {
			if rs.logger != nil {
				rs.logger.Warnw("Rule pattern evaluation failed",
					"name", p.Name,
					"input_length", len(text),
					"error", err)
			}
			continue
		}
		if ok {
			return p.Name, true
		}
	}
	return "", false
}

func appendLower(dst, src []string) []string {
	for _, s := range src {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			dst = append(dst, s)
		}
	}
	return dst
}

func appendNonEmpty(dst, src []string) []string {
	for _, s := range src {
		if s = strings.TrimSpace(s); s != "" {
			dst = append(dst, s)
		}
	}
	return dst
}
