package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
)

const publicURLPrefix = "https://storage.googleapis.com/"

// CloudStorageClient stores chat attachments in a GCS bucket and serves them
// through public object URLs.
type CloudStorageClient struct {
	client     *storage.Client
	bucketName string
	now        func() time.Time
}

func NewCloudStorageClient(ctx context.Context, bucketName string, opts ...option.ClientOption) (*CloudStorageClient, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %v", err)
	}

	return &CloudStorageClient{
		client:     client,
		bucketName: bucketName,
		now:        time.Now,
	}, nil
}

func (c *CloudStorageClient) Upload(ctx context.Context, file io.Reader, contentType, folder string) (string, error) {
	name := objectPath(folder, contentType, uuid.New().String(), c.now())

	obj := c.client.Bucket(c.bucketName).Object(name)
	wc := obj.NewWriter(ctx)
	wc.ContentType = contentType
	wc.CacheControl = "public, max-age=86400"

	if _, err := io.Copy(wc, file); err != nil {
		_ = wc.Close()
		return "", errors.FromRemote("upload attachment", err)
	}
	if err := wc.Close(); err != nil {
		return "", errors.FromRemote("upload attachment", err)
	}

	logger.Debug("Storage: uploaded %s (%s)", name, contentType)
	return publicURLPrefix + c.bucketName + "/" + name, nil
}

// Delete removes the object behind fileURL. A missing object counts as deleted.
func (c *CloudStorageClient) Delete(ctx context.Context, fileURL string) error {
	name, err := objectName(c.bucketName, fileURL)
	if err != nil {
		return err
	}

	err = c.client.Bucket(c.bucketName).Object(name).Delete(ctx)
	if err != nil && !stderrors.Is(err, storage.ErrObjectNotExist) {
		return errors.FromRemote("delete attachment", err)
	}
	return nil
}

func (c *CloudStorageClient) Close() error {
	return c.client.Close()
}

func objectPath(folder, contentType, id string, at time.Time) string {
	name := fmt.Sprintf("%s/%s-%s", strings.Trim(folder, "/"), id, at.UTC().Format("20060102150405"))

	switch contentType {
	case "image/jpeg", "image/jpg":
		name += ".jpg"
	case "image/png":
		name += ".png"
	case "image/gif":
		name += ".gif"
	case "image/webp":
		name += ".webp"
	default:
		name += ".bin"
	}
	return name
}

// objectName extracts the object path from a public URL of bucket.
func objectName(bucket, fileURL string) (string, error) {
	if !strings.HasPrefix(fileURL, publicURLPrefix) {
		return "", errors.BadRequest("invalid storage URL format", nil)
	}
	parts := strings.SplitN(strings.TrimPrefix(fileURL, publicURLPrefix), "/", 2)
	if len(parts) != 2 || parts[0] != bucket || parts[1] == "" {
		return "", errors.BadRequest("storage URL does not belong to this bucket", nil)
	}
	return parts[1], nil
}
