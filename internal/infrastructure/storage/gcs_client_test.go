package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeup/pkg/errors"
)

func TestObjectPath(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	assert.Equal(t, "chat_images/c1/abc-20240501093000.jpg", objectPath("chat_images/c1", "image/jpeg", "abc", at))
	assert.Equal(t, "chat_images/c1/abc-20240501093000.png", objectPath("/chat_images/c1/", "image/png", "abc", at))
	assert.Equal(t, "x/abc-20240501093000.bin", objectPath("x", "application/octet-stream", "abc", at))
}

func TestObjectName(t *testing.T) {
	name, err := objectName("bucket", "https://storage.googleapis.com/bucket/chat_images/c1/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "chat_images/c1/a.jpg", name)

	for _, bad := range []string{
		"http://example.com/bucket/a.jpg",
		"https://storage.googleapis.com/other/a.jpg",
		"https://storage.googleapis.com/bucket/",
	} {
		_, err := objectName("bucket", bad)
		assert.True(t, errors.Is(err, errors.CodeBadRequest), bad)
	}
}
