package launch

import (
	"fmt"
	"strconv"
	"strings"
)

// ExpandHostlist expands a compressed scheduler hostlist such as
// "node[01-04,07],login1" into individual host names. SLURM and Flux share
// this syntax. Zero padding is preserved from the left endpoint of each
// range.
func ExpandHostlist(list string) ([]string, error) {
	var hosts []string
	for _, part := range splitTopLevel(list) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		open := strings.IndexByte(part, '[')
		if open < 0 {
			if strings.ContainsAny(part, "[]") {
				return nil, fmt.Errorf("malformed hostlist entry: %q", part)
			}
			hosts = append(hosts, part)
			continue
		}
		close := strings.IndexByte(part, ']')
		if close < open {
			return nil, fmt.Errorf("malformed hostlist entry: %q", part)
		}
		prefix := part[:open]
		suffix := part[close+1:]
		if strings.ContainsAny(suffix, "[]") {
			return nil, fmt.Errorf("nested brackets in hostlist entry: %q", part)
		}
		for _, rng := range strings.Split(part[open+1:close], ",") {
			expanded, err := expandRange(prefix, rng, suffix)
			if err != nil {
				return nil, err
			}
			hosts = append(hosts, expanded...)
		}
	}
	return hosts, nil
}

func expandRange(prefix, rng, suffix string) ([]string, error) {
	lo, hi, found := strings.Cut(rng, "-")
	if !found {
		return []string{prefix + rng + suffix}, nil
	}
	width := len(lo)
	start, err := strconv.Atoi(lo)
	if err != nil {
		return nil, fmt.Errorf("bad hostlist range %q: %w", rng, err)
	}
	end, err := strconv.Atoi(hi)
	if err != nil {
		return nil, fmt.Errorf("bad hostlist range %q: %w", rng, err)
	}
	if end < start {
		return nil, fmt.Errorf("bad hostlist range %q: end before start", rng)
	}
	var hosts []string
	for i := start; i <= end; i++ {
		hosts = append(hosts, fmt.Sprintf("%s%0*d%s", prefix, width, i, suffix))
	}
	return hosts, nil
}

// splitTopLevel splits on commas outside bracket groups.
func splitTopLevel(s string) []string {
	var parts []string
	depth, last := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}
