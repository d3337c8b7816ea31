//go:build !linux

package parallel

// availableRAMMB is unknown off Linux; callers keep the configured worker count.
func availableRAMMB() int {
	return 0
}
