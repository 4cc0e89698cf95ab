package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"

	"github.com/wxt2005/image-command-bot-go/config"
)

// DropboxStore keeps <save_path>/<id>.jpg files in a Dropbox app folder.
// The SDK has no context support, ctx is ignored.
type DropboxStore struct {
	client files.Client
	root   string
}

func NewDropboxStore(cfg config.Dropbox) (*DropboxStore, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("dropbox access token is required")
	}
	client := files.New(dropbox.Config{
		Token: cfg.AccessToken,
	})
	return &DropboxStore{client: client, root: cfg.SavePath}, nil
}

func (s *DropboxStore) path(id int64) string {
	return path.Join("/", s.root, fileName(id))
}

func (s *DropboxStore) Put(_ context.Context, id int64, data []byte) error {
	arg := files.NewUploadArg(s.path(id))
	arg.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}
	arg.Mute = true

	if _, err := s.client.Upload(arg, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("dropbox upload %s: %w", s.path(id), err)
	}
	return nil
}

func (s *DropboxStore) Get(_ context.Context, id int64) ([]byte, bool, error) {
	_, content, err := s.client.Download(files.NewDownloadArg(s.path(id)))
	if err != nil {
		if isDownloadNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("dropbox download %s: %w", s.path(id), err)
	}
	defer content.Close()

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, false, fmt.Errorf("dropbox read %s: %w", s.path(id), err)
	}
	return data, true, nil
}

func (s *DropboxStore) Has(_ context.Context, id int64) (bool, error) {
	_, err := s.client.GetMetadata(files.NewGetMetadataArg(s.path(id)))
	if err != nil {
		if isMetadataNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("dropbox metadata %s: %w", s.path(id), err)
	}
	return true, nil
}

func (s *DropboxStore) Close() error { return nil }

func lookupNotFound(le *files.LookupError) bool {
	return le != nil && le.Tag == files.LookupErrorNotFound
}

func isDownloadNotFound(err error) bool {
	var apiErr files.DownloadAPIError
	if errors.As(err, &apiErr) {
		return apiErr.EndpointError != nil && lookupNotFound(apiErr.EndpointError.Path)
	}
	var apiErrPtr *files.DownloadAPIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.EndpointError != nil && lookupNotFound(apiErrPtr.EndpointError.Path)
	}
	return false
}

func isMetadataNotFound(err error) bool {
	var apiErr files.GetMetadataAPIError
	if errors.As(err, &apiErr) {
		return apiErr.EndpointError != nil && lookupNotFound(apiErr.EndpointError.Path)
	}
	var apiErrPtr *files.GetMetadataAPIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.EndpointError != nil && lookupNotFound(apiErrPtr.EndpointError.Path)
	}
	return false
}
