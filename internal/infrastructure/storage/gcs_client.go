package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"carelink/internal/domain/entity"
	"carelink/pkg/logger"
)

const (
	attachmentPrefix = "attachments"
	signedURLExpiry  = 15 * time.Minute
)

// CloudStorageClient keeps attachment bytes in a private bucket. Objects are
// never made public; readers fetch them through short-lived signed URLs.
type CloudStorageClient struct {
	client     *storage.Client
	bucketName string
}

func NewCloudStorageClient(ctx context.Context, bucketName string, opts ...option.ClientOption) (*CloudStorageClient, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %v", err)
	}

	storageClient := &CloudStorageClient{
		client:     client,
		bucketName: bucketName,
	}

	if err := storageClient.setBucketCORS(ctx); err != nil {
		logger.Warn("Storage: failed to set CORS configuration: %v", err)
	}

	return storageClient, nil
}

func (c *CloudStorageClient) setBucketCORS(ctx context.Context) error {
	bucket := c.client.Bucket(c.bucketName)

	corsConfig := storage.CORS{
		MaxAge:          3600,
		Methods:         []string{http.MethodGet},
		Origins:         []string{"*"},
		ResponseHeaders: []string{"Content-Type"},
	}

	bucketAttrs, err := bucket.Attrs(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bucket attributes: %v", err)
	}

	if len(bucketAttrs.CORS) == 0 {
		_, err := bucket.Update(ctx, storage.BucketAttrsToUpdate{
			CORS: []storage.CORS{corsConfig},
		})
		if err != nil {
			return fmt.Errorf("failed to update bucket CORS: %v", err)
		}
	}

	return nil
}

// ObjectName is where an attachment for conversationID lands. The random
// segment keeps two uploads of the same file apart.
func ObjectName(conversationID, name string) string {
	return path.Join(attachmentPrefix, conversationID, uuid.New().String(), path.Base(name))
}

// Upload streams r into the bucket and returns the attachment descriptor.
func (c *CloudStorageClient) Upload(ctx context.Context, conversationID, name, mimeType string, r io.Reader) (*entity.Attachment, error) {
	objectName := ObjectName(conversationID, name)

	// Cancelling the writer's context aborts the object instead of committing
	// a partial upload.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obj := c.client.Bucket(c.bucketName).Object(objectName)
	wc := obj.NewWriter(ctx)
	wc.ContentType = mimeType
	wc.CacheControl = "private, max-age=0"
	wc.ContentDisposition = fmt.Sprintf("attachment; filename=%q", path.Base(name))
	wc.Metadata = map[string]string{"conversation_id": conversationID}

	size, err := io.Copy(wc, r)
	if err != nil {
		cancel()
		wc.Close()
		return nil, fmt.Errorf("failed to copy file to GCS: %w", err)
	}
	if err := wc.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %v", err)
	}

	return &entity.Attachment{
		Name:     path.Base(name),
		URL:      c.objectURL(objectName),
		Size:     size,
		MimeType: mimeType,
	}, nil
}

// SignedURL returns a short-lived GET URL for an attachment URL produced by
// Upload.
func (c *CloudStorageClient) SignedURL(attachmentURL string) (string, error) {
	objectName, err := c.objectFromURL(attachmentURL)
	if err != nil {
		return "", err
	}

	url, err := c.client.Bucket(c.bucketName).SignedURL(objectName, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(signedURLExpiry),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %v", err)
	}
	return url, nil
}

func (c *CloudStorageClient) objectURL(objectName string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", c.bucketName, objectName)
}

func (c *CloudStorageClient) objectFromURL(fileURL string) (string, error) {
	const prefix = "https://storage.googleapis.com/"
	if !strings.HasPrefix(fileURL, prefix) {
		return "", fmt.Errorf("invalid GCS URL format")
	}

	parts := strings.SplitN(fileURL[len(prefix):], "/", 2)
	if len(parts) != 2 || parts[0] != c.bucketName || parts[1] == "" {
		return "", fmt.Errorf("invalid GCS URL format or bucket mismatch")
	}
	return parts[1], nil
}

func (c *CloudStorageClient) Close() error {
	return c.client.Close()
}
