//go:build !linux

package machine

import "github.com/sirupsen/logrus"

// pinLoop 非 Linux 平台没有线程钉扎,空操作
func pinLoop(cpu uint32, log logrus.FieldLogger) {
	log.WithField("cpu", cpu).Debug("cpu pinning unsupported on this platform")
}
