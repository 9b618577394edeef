// Package version reports the firmware version sent in GETVER replies.
package version

import (
	"fmt"
	"time"
)

// Set with -ldflags "-X github.com/robotalks/ardlink/pkg/version.Version=..."
var (
	Version   = "1.0"
	BuildDate = ""
	BuildTime = ""
)

var started = time.Now()

// String formats the version as "<version> <date> <time>", the date in
// "Jan _2 2006" layout and the time in "15:04:05". When the build stamp is
// not set, the process start time is used.
func String() string {
	date, clock := BuildDate, BuildTime
	if date == "" {
		date = started.Format("Jan _2 2006")
	}
	if clock == "" {
		clock = started.Format("15:04:05")
	}
	return fmt.Sprintf("%s %s %s", Version, date, clock)
}
