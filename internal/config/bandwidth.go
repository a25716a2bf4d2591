package config

import (
	"fmt"
	"regexp"
	"strconv"
)

// bandwidthPattern matches a decimal value followed by one of the K/k/M/m/G/g
// suffixes (spec §6).
var bandwidthPattern = regexp.MustCompile(`^(\d+)([KkMmGg])$`)

// bandwidthMultipliers maps each suffix to its bytes/sec multiplier. Note
// the reference's asymmetry between the lowercase letters (decimal powers
// of 1000) and the uppercase letters (the same powers of 1000 divided by
// 8, a factor of 8 below their lowercase counterpart) — preserved verbatim.
var bandwidthMultipliers = map[byte]int64{
	'K': 125,
	'k': 1000,
	'M': 125000,
	'm': 1000000,
	'G': 125000000,
	'g': 1000000000,
}

// ParseBandwidth parses a bitrate string of the form `^(\d+)([KkMmGg])$`
// into bytes/sec using bandwidthMultipliers, or passes an unsuffixed
// integer string through unchanged (spec §6, §8 invariant 8).
func ParseBandwidth(s string) (int64, error) {
	if m := bandwidthPattern.FindStringSubmatch(s); m != nil {
		value, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("config: parse bandwidth %q: %w", s, err)
		}
		return value * bandwidthMultipliers[m[2][0]], nil
	}

	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: parse bandwidth %q: not a suffixed or plain integer", s)
	}
	return value, nil
}
