package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseCronStride resolves the reduced cron grammar this spec supports
// (design note 9: "the spec does not require full cron-expression
// support beyond the common `*/N * * * *`") into a duration. Only a
// minute-stride expression of the exact shape "*/N * * * *" is accepted;
// anything else is rejected rather than guessed at, since a wrong guess
// here silently changes how often pending intents get reconciled.
func ParseCronStride(expr string) (time.Duration, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return 0, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	minute := fields[0]
	for _, f := range fields[1:] {
		if f != "*" {
			return 0, fmt.Errorf("unsupported cron field %q: only minute-stride expressions are accepted", f)
		}
	}
	if !strings.HasPrefix(minute, "*/") {
		return 0, fmt.Errorf("unsupported minute field %q: expected \"*/N\"", minute)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(minute, "*/"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid stride in %q", minute)
	}
	return time.Duration(n) * time.Minute, nil
}
