package ratelimit

import "fmt"

func ConcurrencyLimitKey(destination string) string {
	return fmt.Sprintf("engine:dest:%s:concurrency_limit", destination)
}

func InflightSetKey(destination string) string {
	return fmt.Sprintf("engine:dest:%s:inflight", destination)
}
