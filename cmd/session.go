package cmd

import (
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-qdl/internal/device"
	"github.com/deploymenttheory/go-qdl/internal/disk"
	"github.com/deploymenttheory/go-qdl/pkg/app"
)

// session is a connected device together with the image target behind it.
type session struct {
	dev   *device.Device
	image *disk.Image
}

func (s *session) Close() {
	s.dev.Disconnect()
	if err := s.image.Close(); err != nil {
		appCtx.Logger.WithError(err).Warn("failed to close LUN images")
	}
}

// openSession opens the configured LUN images and drives the handshake into
// programmable mode, retrying transient connection failures.
func openSession() (*session, error) {
	luns, err := cfg.LUNPaths()
	if err != nil {
		return nil, app.NewError(app.ErrCodeInvalidInput, "invalid luns configuration", err)
	}
	flagLUNs, err := parseLUNFlags(lunFlags)
	if err != nil {
		return nil, err
	}
	for lun, path := range flagLUNs {
		luns[lun] = path
	}
	if len(luns) == 0 {
		return nil, app.NewError(app.ErrCodeInvalidInput, "no LUN images configured, use --lun N=path", nil)
	}

	image, err := disk.Open(disk.Config{SectorSize: cfg.SectorSize, LUNs: luns, Logger: appCtx.Logger})
	if err != nil {
		return nil, app.NewError(app.ErrCodeConnection, "failed to open LUN images", err)
	}

	target := disk.NewSession(image)
	dev := device.New(target.NewLoader, target.NewFirehose,
		device.WithLogger(appCtx.Logger),
		device.WithSlotConvention(cfg.Slot.Convention()),
		device.WithMaxSparseChunk(cfg.MaxSparseChunk),
		device.WithRewritePrimaryEntries(cfg.RepairRewritePrimaryEntries),
	)

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.ConnectRetries), appCtx)
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		err := dev.Connect(appCtx, target)
		var modeErr *device.UnsupportedModeError
		if errors.As(err, &modeErr) {
			return backoff.Permanent(err)
		}
		if err != nil {
			appCtx.Logger.WithFields(logrus.Fields{"attempt": attempt}).WithError(err).Warn("connect failed")
		}
		return err
	}, policy)
	if err != nil {
		image.Close()
		return nil, app.Classify("failed to connect", err)
	}
	return &session{dev: dev, image: image}, nil
}

// withSession runs fn against a connected device.
func withSession(fn func(*session) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
