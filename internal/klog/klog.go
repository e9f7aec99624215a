// Package klog is vmkern's structured logging surface. The teacher has no
// logging library of its own (kernel code prints directly to the
// console); github.com/sirupsen/logrus is adopted here as the ecosystem
// choice the pack's registry and exporter examples both reach for, since
// an ambient concern like logging is carried regardless of what the
// teacher itself models.
package klog

import "github.com/sirupsen/logrus"

// L is the package-level logger every vmkern component logs through.
var L = logrus.New()

// Fields is a shorthand for logrus.Fields, used at call sites that want
// to attach structured context to a log line.
type Fields = logrus.Fields

func init() {
	L.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
