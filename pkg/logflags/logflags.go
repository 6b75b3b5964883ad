// Package logflags holds the per-layer loggers enabled by --log-output.
package logflags

import (
	"errors"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var directory = false
var switcher = false
var target = false

var logOut io.Writer = os.Stderr

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Out = logOut
	logger.Logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Directory returns true if the entity directory should log its traversals.
func Directory() bool {
	return directory
}

// DirectoryLogger returns a logger for pkg/ucpp.
func DirectoryLogger() *logrus.Entry {
	return makeLogger(directory, logrus.Fields{"layer": "directory"})
}

// Switcher returns true if context switches should be logged.
func Switcher() bool {
	return switcher
}

// SwitcherLogger returns a logger for pkg/switcher.
func SwitcherLogger() *logrus.Entry {
	return makeLogger(switcher, logrus.Fields{"layer": "switcher"})
}

// Target returns true if ptrace and symbol loading should be logged.
func Target() bool {
	return target
}

// TargetLogger returns a logger for pkg/target.
func TargetLogger() *logrus.Entry {
	return makeLogger(target, logrus.Fields{"layer": "target"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")
var errUnknownLayer = errors.New("unknown --log-output layer")

// Setup sets debugger flags based on the contents of logstr.
// If out is nil, logs go to stderr.
func Setup(logFlag bool, logstr string, out io.Writer) error {
	directory, switcher, target = false, false, false
	logOut = os.Stderr
	if out != nil {
		logOut = out
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	log.SetOutput(logOut)

	if logstr == "" {
		logstr = "switcher"
	}
	for _, layer := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(layer) {
		case "directory":
			directory = true
		case "switcher":
			switcher = true
		case "target":
			target = true
		default:
			return errUnknownLayer
		}
	}
	return nil
}
