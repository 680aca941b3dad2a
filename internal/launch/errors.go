package launch

import "fmt"

// RankRangeError reports a per-process environment computation for a global
// index outside [0, world). This is an internal programming error, not a
// user configuration problem.
type RankRangeError struct {
	Index     int
	WorldSize int
}

func (e RankRangeError) Error() string {
	return fmt.Sprintf("rank out of range: index %d not in [0, %d)", e.Index, e.WorldSize)
}

// LaunchError reports a child process that failed to start.
type LaunchError struct {
	Command string
	Err     error
}

func (e LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Command, e.Err)
}

func (e LaunchError) Unwrap() error { return e.Err }
