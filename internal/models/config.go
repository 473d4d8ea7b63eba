// Package models contains the data structures used throughout pgkeeper.
package models

import "time"

// ConnectionConfig describes one named PostgreSQL connection. The full set is
// loaded once at startup and is immutable afterwards.
type ConnectionConfig struct {
	Name           string
	Host           string
	Port           int
	DBName         string
	User           string
	Password       string
	DumpPath       string // directory holding dump artifacts
	PreventRestore bool   // if true, restore requests are rejected

	Wake      *WakeConfig      // nil if not configured
	S3        *S3Config        // nil if not configured
	Retention *RetentionPolicy // nil if not configured
}

// WakeConfig holds Wake-on-LAN settings for a database host that sleeps
// between backups.
type WakeConfig struct {
	MACAddress    string
	BroadcastIP   string
	Timeout       time.Duration // max time to wait for the host
	PollInterval  time.Duration // how often to probe the database port
	StabilizeWait time.Duration // wait after the port first answers
}

// WakeResult holds the result of a Wake-on-LAN operation.
type WakeResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}

// S3Config holds settings for the optional offsite copy of dump artifacts.
// Credentials come from the named environment variables, never from the file.
type S3Config struct {
	Endpoint     string // empty for AWS; set for MinIO and friends
	Bucket       string
	Region       string
	Prefix       string
	AccessKeyEnv string
	SecretKeyEnv string
}

// RetentionPolicy defines how many dump artifacts to keep in each time
// bucket. Applied only by an explicit prune, never implicitly.
type RetentionPolicy struct {
	KeepLast    int
	KeepDaily   int
	KeepWeekly  int
	KeepMonthly int
}

// Enabled reports whether the policy keeps anything at all. A zero policy is
// treated as unconfigured rather than as "delete everything".
func (p RetentionPolicy) Enabled() bool {
	return p.KeepLast > 0 || p.KeepDaily > 0 || p.KeepWeekly > 0 || p.KeepMonthly > 0
}
