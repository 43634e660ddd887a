package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var wire = false
var bridge = false
var events = false
var session = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Wire returns true if the agent package should log every frame exchanged
// with the injected agent.
func Wire() bool {
	return wire
}

// WireLogger returns a configured logger for the agent wire protocol.
func WireLogger() *logrus.Entry {
	return makeLogger(wire, logrus.Fields{"layer": "wire"})
}

// Bridge returns true if the bridge package should log.
func Bridge() bool {
	return bridge
}

// BridgeLogger returns a logger for the instrumentation bridge.
func BridgeLogger() *logrus.Entry {
	return makeLogger(bridge, logrus.Fields{"layer": "bridge"})
}

// Events returns true if event dispatch should be logged.
func Events() bool {
	return events
}

// EventsLogger returns a logger for agent message dispatch. Agent-reported
// errors are logged regardless of the events flag.
func EventsLogger() *logrus.Entry {
	logger := makeLogger(events, logrus.Fields{"layer": "events"})
	if !events {
		logger.Logger.Level = logrus.ErrorLevel
	}
	return logger
}

// Session returns true if session bootstrap should be logged.
func Session() bool {
	return session
}

// SessionLogger returns a logger for session bootstrap.
func SessionLogger() *logrus.Entry {
	return makeLogger(session, logrus.Fields{"layer": "session"})
}

var errLogstrWithoutLog = errors.New("log-output specified without log")

// Setup sets logging flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "session"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "wire":
			wire = true
		case "bridge":
			bridge = true
		case "events":
			events = true
		case "session":
			session = true
		}
	}
	return nil
}
