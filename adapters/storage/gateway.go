package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/artorize/gateway/core"
	apperrors "github.com/artorize/gateway/errors"
)

// UploadResult is the legacy storage-upload path's response, matching
// image_storage.py's upload_protected_image return dict and spec.md's
// upload_protected_image(path, job_id, format, sac_path?) contract.
type UploadResult struct {
	ProtectedImageURL string
	ThumbnailURL      string
	SACMaskURL        string // empty if sacPath was not provided
}

// GatewayUploader wraps a core.StorageAdapter with the thumbnail
// generation and URL-building behavior the bare Put/Get/Delete/Exists
// port doesn't carry on its own.
type GatewayUploader struct {
	Adapter      core.StorageAdapter
	Bucket       string // "protected" for Local, the S3 bucket name for S3
	BaseURL      string // CDN base URL, or the local server's public base URL
	ThumbBucket  string
	SACBucket    string
}

// NewGatewayUploader builds a GatewayUploader. bucket is the storage
// key's bucket field for the full image; thumbnails and SAC masks use
// "thumbnails" and "masks" sub-buckets, matching the original's
// protected/ and thumbnails/ prefixes.
func NewGatewayUploader(adapter core.StorageAdapter, bucket, baseURL string) *GatewayUploader {
	return &GatewayUploader{
		Adapter:     adapter,
		Bucket:      bucket,
		BaseURL:     baseURL,
		ThumbBucket: "thumbnails",
		SACBucket:   "masks",
	}
}

// UploadProtectedImage uploads the protected image, a generated
// thumbnail, and (if sacPath is non-empty) the reversibility mask,
// matching image_storage.py's upload_protected_image + _generate_thumbnail.
func (g *GatewayUploader) UploadProtectedImage(ctx context.Context, path, jobID, format, sacPath string) (*UploadResult, error) {
	imageData, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "gateway.UploadProtectedImage", err)
	}

	fullKey := core.StorageKey{Bucket: g.Bucket, Path: fmt.Sprintf("%s.%s", jobID, format)}
	contentType := "image/" + format
	if err := g.Adapter.Put(ctx, fullKey, bytes.NewReader(imageData), map[string]string{
		"content-type":  contentType,
		"cache-control": "public, max-age=31536000",
	}); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "gateway.UploadProtectedImage.put", err)
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "gateway.UploadProtectedImage.decode", err)
	}
	thumbData, err := GenerateThumbnail(img)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "gateway.UploadProtectedImage.thumbnail", err)
	}
	thumbKey := core.StorageKey{Bucket: g.ThumbBucket, Path: fmt.Sprintf("%s_thumb.jpg", jobID)}
	if err := g.Adapter.Put(ctx, thumbKey, bytes.NewReader(thumbData), map[string]string{
		"content-type":  "image/jpeg",
		"cache-control": "public, max-age=31536000",
	}); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "gateway.UploadProtectedImage.putThumb", err)
	}

	result := &UploadResult{
		ProtectedImageURL: g.url(fullKey),
		ThumbnailURL:      g.url(thumbKey),
	}

	if sacPath != "" {
		sacData, err := os.ReadFile(sacPath)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "gateway.UploadProtectedImage.readSAC", err)
		}
		sacKey := core.StorageKey{Bucket: g.SACBucket, Path: fmt.Sprintf("%s.sac", jobID)}
		if err := g.Adapter.Put(ctx, sacKey, bytes.NewReader(sacData), map[string]string{
			"content-type": "application/octet-stream",
		}); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "gateway.UploadProtectedImage.putSAC", err)
		}
		result.SACMaskURL = g.url(sacKey)
	}

	return result, nil
}

func (g *GatewayUploader) url(key core.StorageKey) string {
	return fmt.Sprintf("%s/%s/%s", g.BaseURL, key.Bucket, key.Path)
}
