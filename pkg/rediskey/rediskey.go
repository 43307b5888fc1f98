package rediskey

import "fmt"

// License keys (global convention across services)
const (
	LicenseEventsChannel = "license:events"
	LicenseSweepPrefix   = "license:expiry:sweep"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildSweepTaskID returns "license:expiry:sweep:{day}", day formatted as 2006-01-02.
func BuildSweepTaskID(day string) string {
	return NamespaceKey(LicenseSweepPrefix, day)
}
