package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const uploadURLExpiry = 5 * time.Minute

// ErrUnsupportedImage means the upload is not an accepted image type.
var ErrUnsupportedImage = errors.New("unsupported image type")

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// ImageService hands out pre-signed S3 upload URLs for recipe covers and
// avatars
type ImageService struct {
	presign   *s3.PresignClient
	bucket    string
	region    string
	publicURL string
}

// NewImageService creates an image service. Static credentials and a custom
// endpoint are optional; without them the default AWS chain is used.
func NewImageService(region, bucket, accessKey, secretKey, endpoint, publicURL string) (*ImageService, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &ImageService{
		presign:   s3.NewPresignClient(client),
		bucket:    bucket,
		region:    region,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// UploadRequest represents a request to get a pre-signed URL
type UploadRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=cover avatar"`
	Filename    string `json:"filename" validate:"max=255"`
	ContentType string `json:"content_type" validate:"required"`
}

// UploadResponse represents the response with pre-signed URL
type UploadResponse struct {
	UploadURL string `json:"upload_url"`
	ImageURL  string `json:"image_url"`
	Key       string `json:"key"`
	ExpiresIn int    `json:"expires_in"`
}

// imageKey builds {kind}/{userID}/{uuid}{ext} with the extension taken from
// the content type
func imageKey(kind, userID, filename, contentType string) (string, error) {
	ext, ok := imageExtensions[strings.ToLower(contentType)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, contentType)
	}
	if ext == ".jpg" && strings.ToLower(path.Ext(filename)) == ".jpeg" {
		ext = ".jpeg"
	}
	return fmt.Sprintf("%s/%s/%s%s", kind, userID, uuid.New().String(), ext), nil
}

// PresignUpload returns a URL the client can PUT the image to, plus the URL
// the image will be served from
func (s *ImageService) PresignUpload(ctx context.Context, userID string, req UploadRequest) (*UploadResponse, error) {
	key, err := imageKey(req.Kind, userID, req.Filename, req.ContentType)
	if err != nil {
		return nil, err
	}

	request, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(req.ContentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = uploadURLExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate pre-signed URL: %w", err)
	}

	return &UploadResponse{
		UploadURL: request.URL,
		ImageURL:  s.objectURL(key),
		Key:       key,
		ExpiresIn: int(uploadURLExpiry.Seconds()),
	}, nil
}

func (s *ImageService) objectURL(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
