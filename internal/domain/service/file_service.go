package service

import (
	"context"
	"io"
)

// MediaStorage hosts message attachments.
type MediaStorage interface {
	Upload(ctx context.Context, file io.Reader, contentType, folder string) (string, error)
	Delete(ctx context.Context, fileURL string) error
}
