package taskname

const (
	// License tasks
	LicenseExpirySweep = "license:expiry:sweep"
)

// queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
