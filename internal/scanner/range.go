package scanner

import (
	"fmt"
	"strconv"
	"strings"
)

// ExpandRange returns every address between start and end inclusive, iterating
// the octets as nested loops (first octet outermost). A pair of octets where
// start exceeds end contributes no addresses; that is not an error.
func ExpandRange(start, end string) ([]string, error) {
	lo, hi, err := parseBounds(start, end)
	if err != nil {
		return nil, err
	}

	addrs := make([]string, 0, rangeSize(lo, hi))
	for a := lo[0]; a <= hi[0]; a++ {
		for b := lo[1]; b <= hi[1]; b++ {
			for c := lo[2]; c <= hi[2]; c++ {
				for d := lo[3]; d <= hi[3]; d++ {
					addrs = append(addrs, fmt.Sprintf("%d.%d.%d.%d", a, b, c, d))
				}
			}
		}
	}

	return addrs, nil
}

// RangeSize returns the number of addresses ExpandRange would produce
// without materializing them.
func RangeSize(start, end string) (int, error) {
	lo, hi, err := parseBounds(start, end)
	if err != nil {
		return 0, err
	}
	return rangeSize(lo, hi), nil
}

func parseBounds(start, end string) ([4]int, [4]int, error) {
	lo, err := parseIPv4(start)
	if err != nil {
		return lo, [4]int{}, err
	}
	hi, err := parseIPv4(end)
	if err != nil {
		return lo, hi, err
	}
	return lo, hi, nil
}

func rangeSize(lo, hi [4]int) int {
	size := 1
	for i := range lo {
		if hi[i] < lo[i] {
			return 0
		}
		size *= hi[i] - lo[i] + 1
	}
	return size
}

// parseIPv4 parses a strict dotted quad: four decimal octets in [0,255].
func parseIPv4(s string) ([4]int, error) {
	var out [4]int

	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 4 {
		return out, fmt.Errorf("%w: %q", ErrInvalidAddressFormat, s)
	}

	for i, p := range parts {
		if p == "" || len(p) > 3 || strings.TrimLeft(p, "0123456789") != "" {
			return out, fmt.Errorf("%w: %q", ErrInvalidAddressFormat, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return out, fmt.Errorf("%w: %q", ErrInvalidAddressFormat, s)
		}
		out[i] = n
	}

	return out, nil
}
