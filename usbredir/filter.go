package usbredir

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FilterRule is one entry of a peer-supplied device filter, the parsed
// form of one "class,vendor,product,version,allow" clause of a usbredir
// filter string. A field of -1 matches any value.
type FilterRule struct {
	DeviceClass int
	VendorID    int
	ProductID   int
	VersionBCD  int
	Allow       bool
}

var errBadFilterRule = errors.New("usbredir: malformed filter rule")

// parseFilterRules decodes a usbredir filter string: '|'-separated
// rules of five ','-separated fields each, as produced by
// usbredirfilter_rules_to_string on the peer.
func parseFilterRules(s string) ([]FilterRule, error) {
	s = strings.TrimRight(s, "\x00")
	if s == "" {
		return nil, nil
	}

	var rules []FilterRule
	for _, clause := range strings.Split(s, "|") {
		fields := strings.Split(clause, ",")
		if len(fields) != 5 {
			return nil, errors.Wrapf(errBadFilterRule, "%q", clause)
		}
		var vals [5]int
		for i, f := range fields {
			v, err := strconv.ParseInt(strings.TrimSpace(f), 0, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "usbredir: filter rule %q", clause)
			}
			vals[i] = int(v)
		}
		rules = append(rules, FilterRule{
			DeviceClass: vals[0],
			VendorID:    vals[1],
			ProductID:   vals[2],
			VersionBCD:  vals[3],
			Allow:       vals[4] != 0,
		})
	}
	return rules, nil
}

func (r FilterRule) matches(class int, vendor, product uint16, versionBCD uint16) bool {
	if r.DeviceClass != -1 && r.DeviceClass != class {
		return false
	}
	if r.VendorID != -1 && r.VendorID != int(vendor) {
		return false
	}
	if r.ProductID != -1 && r.ProductID != int(product) {
		return false
	}
	if r.VersionBCD != -1 && r.VersionBCD != int(versionBCD) {
		return false
	}
	return true
}

// rulesAllow walks the rules in order and applies the first match,
// denying when no rule matches — the usbredirfilter_check contract
// check_edev_device_filter relies on. An empty rule set allows
// everything: a peer that never sent a filter has no say.
func rulesAllow(rules []FilterRule, class int, vendor, product uint16, versionBCD uint16) bool {
	if len(rules) == 0 {
		return true
	}
	for _, r := range rules {
		if r.matches(class, vendor, product, versionBCD) {
			return r.Allow
		}
	}
	return false
}
