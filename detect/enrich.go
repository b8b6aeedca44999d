package detect

import (
	"crypto/sha256"
	"math/big"
	"net"
	"regexp"

	"vigil/core"
)

// Indicator kinds
const (
	IndicatorIP     = "ip"
	IndicatorDomain = "domain"
)

// MaxIndicatorsPerType bounds extraction per indicator kind
const MaxIndicatorsPerType = 10

// maliciousScore is the abuse score at and above which an indicator is malicious
const maliciousScore = 70

var (
	ipv4Pattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	domainPattern = regexp.MustCompile(`\b(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}\b`)
)

// ExtractIndicators finds IPv4 addresses and domain names in text, in
// order of first appearance, and scores each one.
func ExtractIndicators(text string) []core.Indicator {
	var out []core.Indicator

	seen := map[string]bool{}
	count := 0
	for _, ip := range ipv4Pattern.FindAllString(text, -1) {
		if count == MaxIndicatorsPerType {
			break
		}
		if seen[ip] || net.ParseIP(ip) == nil {
			continue
		}
		seen[ip] = true
		out = append(out, scoreIndicator(IndicatorIP, ip))
		count++
	}

	count = 0
	for _, domain := range domainPattern.FindAllString(text, -1) {
		if count == MaxIndicatorsPerType {
			break
		}
		if seen[domain] {
			continue
		}
		seen[domain] = true
		out = append(out, scoreIndicator(IndicatorDomain, domain))
		count++
	}
	return out
}

// scoreIndicator assigns a stable reputation derived from the SHA-256 of
// the value, standing in for a threat intel lookup.
func scoreIndicator(kind, value string) core.Indicator {
	sum := sha256.Sum256([]byte(value))
	score := new(big.Int).Mod(new(big.Int).SetBytes(sum[:]), big.NewInt(100)).Int64()
	return core.Indicator{
		Type:       kind,
		Value:      value,
		AbuseScore: int(score),
		Malicious:  score >= maliciousScore,
	}
}
