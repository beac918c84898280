package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultExecCheckInterval = 5 * time.Second

// MonitorExecutable closes the returned channel once the running binary is
// replaced on disk, or when ctx ends. It reports true in the former case.
func MonitorExecutable(ctx context.Context, interval time.Duration) <-chan bool {
	if interval <= 0 {
		interval = DefaultExecCheckInterval
	}
	ch := make(chan bool, 1)
	entry := log.WithField("object", "ExecMonitor")

	go func() {
		defer close(ch)

		exeFilename, err := os.Executable()
		if err != nil {
			entry.WithError(err).Warn("cant resolve executable path")
			return
		}
		stat, err := os.Stat(exeFilename)
		if err != nil {
			entry.WithError(err).Warn("cant stat executable")
			return
		}
		originalTime := stat.ModTime()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(exeFilename)
				if err != nil {
					entry.WithError(err).Debug("cant stat executable on tick")
					continue
				}
				if !originalTime.Equal(stat.ModTime()) {
					ch <- true
					return
				}
			}
		}
	}()
	return ch
}
