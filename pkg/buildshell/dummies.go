package buildshell

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/kraklabs/unitcache/pkg/config"
)

// NewDummyLog returns a discard-output logger for tests.
func NewDummyLog() *logrus.Entry {
	log := logrus.New()
	log.Out = io.Discard
	return log.WithField("test", "test")
}

// NewDummyAppConfig returns a minimal AppConfig for tests.
func NewDummyAppConfig() *config.AppConfig {
	defaults := config.GetDefaultConfig()
	return &config.AppConfig{
		Name:       "unitcache",
		Version:    "unversioned",
		UserConfig: &defaults,
	}
}

// NewDummyShell returns a Shell wired to dummy log/config, for use by
// tests in other packages.
func NewDummyShell() *Shell {
	return NewShell(NewDummyLog(), NewDummyAppConfig())
}
