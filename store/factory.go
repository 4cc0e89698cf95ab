package store

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/wxt2005/image-command-bot-go/config"
	"github.com/wxt2005/image-command-bot-go/db"
)

// New builds the backend named by cfg.Type and wraps it with per
// conversation locking. Supported types: file, bolt, s3, dropbox, memory.
func New(ctx context.Context, cfg config.Store) (ImageStore, error) {
	var (
		inner ImageStore
		err   error
	)

	switch cfg.Type {
	case "", "file":
		inner, err = NewFileStore(cfg.ImagesDir)
	case "bolt":
		boltDB, openErr := db.Open(cfg.DBPath, cfg.Bucket)
		if openErr != nil {
			return nil, openErr
		}
		inner = NewBoltStore(boltDB, cfg.Bucket)
	case "s3":
		inner, err = NewS3Store(ctx, cfg.S3)
	case "dropbox":
		inner, err = NewDropboxStore(cfg.Dropbox)
	case "memory":
		inner = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported store type: %s (supported: file, bolt, s3, dropbox, memory)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"type": cfg.Type,
	}).Info("Image store ready")

	return Locked(inner), nil
}
