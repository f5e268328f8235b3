package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// MonitorExecutable signals once when the running binary is replaced on
// disk, so a deploy can restart the bot gracefully. The channel is closed
// without a signal when ctx ends or the binary can't be watched.
func MonitorExecutable(ctx context.Context, interval time.Duration) <-chan struct{} {
	exeFilename, err := os.Executable()
	if err != nil {
		log.WithField("error", err.Error()).Warn("cant resolve executable path for monitor")
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return monitorFile(ctx, exeFilename, interval)
}

func monitorFile(ctx context.Context, path string, interval time.Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	entry := log.WithField("object", "infra").WithField("path", path)

	stat, err := os.Stat(path)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant stat file for monitor")
		close(ch)
		return ch
	}
	originalTime := stat.ModTime()

	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(path)
				if err != nil {
					entry.WithField("error", err.Error()).Debug("cant stat file for monitor tick")
					continue
				}
				if !originalTime.Equal(stat.ModTime()) {
					ch <- struct{}{}
					return
				}
			}
		}
	}()
	return ch
}
