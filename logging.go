package ebusgw

import (
	"os"

	"github.com/sirupsen/logrus"
)

// CmdLog is the logger used for command-line validation failures, in the
// same role as cmd/iecat's package-level CmdLog but backed by logrus so
// its formatting matches every other layer of the adapter.
var CmdLog = logrus.New()

// NewLogger returns the structured logger threaded through the bus task
// and network task. Bus-task log calls never block: logrus's default
// io.Writer sink (os.Stderr here) is buffered at the OS level and a
// dropped/delayed log line is an acceptable cost against the bus task's
// "never suspend" requirement, unlike a channel-backed sink which could
// fill and block.
func NewLogger(level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}
