package utils

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// CreateFolder creates each path with 0755 permissions if missing.
func CreateFolder(folders ...string) error {
	for _, folder := range folders {
		if err := os.MkdirAll(folder, 0755); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFile deletes the given paths after an optional delay in seconds.
// Errors are logged only; cleanup is best effort.
func RemoveFile(delaySecond int, paths ...string) {
	if delaySecond > 0 {
		time.Sleep(time.Duration(delaySecond) * time.Second)
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logrus.Warnf("[UTILS] failed to remove %s: %v", path, err)
		}
	}
}
