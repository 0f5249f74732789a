package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/mirrorkit/vimeograb/internal/common/config"
	"github.com/sirupsen/logrus"
)

func New(cfg *config.Config) *logrus.Logger {
	log := logrus.New()

	log.SetLevel(logrus.Level(cfg.App.LogLevel))
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return log
}

// WithRunFile mirrors the log stream into a file inside the target
// directory, so every run leaves a record next to the downloaded files.
func WithRunFile(log *logrus.Logger, targetDir string) error {
	f, err := os.Create(filepath.Join(targetDir, "vimeograb.log"))
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}
