package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageKey(t *testing.T) {
	key, err := imageKey("cover", "u1", "stew.JPEG", "image/jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "cover/u1/"))
	assert.True(t, strings.HasSuffix(key, ".jpeg"))

	key, err = imageKey("avatar", "u1", "me.jpeg", "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, ".png"))

	_, err = imageKey("cover", "u1", "doc.pdf", "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestImageService_PresignUpload(t *testing.T) {
	svc, err := NewImageService("us-east-1", "recipes", "AKIDEXAMPLE", "secret", "", "https://cdn.example.com/")
	require.NoError(t, err)

	res, err := svc.PresignUpload(context.Background(), "u1", UploadRequest{Kind: "cover", Filename: "stew.png", ContentType: "image/png"})
	require.NoError(t, err)
	assert.Contains(t, res.UploadURL, "recipes")
	assert.Contains(t, res.UploadURL, "X-Amz-Signature")
	assert.Equal(t, "https://cdn.example.com/"+res.Key, res.ImageURL)
	assert.Equal(t, 300, res.ExpiresIn)
}
