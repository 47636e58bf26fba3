// Package logging provides the structured logger used across datacollect's
// managers and coordinators.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	root     = logrus.New()
	initOnce sync.Once
)

// Setup configures the root logger's level and output. It is safe to call
// more than once; only the first call takes effect.
func Setup(level string) {
	initOnce.Do(func() {
		root.SetOutput(os.Stderr)
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		lvl, err := logrus.ParseLevel(strings.ToLower(level))
		if err != nil {
			lvl = logrus.InfoLevel
		}
		root.SetLevel(lvl)
	})
}

// For returns a logrus.Entry scoped to a component, the way every teacher
// manager carries its own logrus.Fields{"component": ...}.
func For(component string) *logrus.Entry {
	return root.WithField("component", component)
}

// ForTenant scopes a component logger further to a tenant id.
func ForTenant(component, tenantID string) *logrus.Entry {
	return For(component).WithField("tenant_id", tenantID)
}
