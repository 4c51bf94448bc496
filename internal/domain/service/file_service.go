package service

import (
	"context"
	"io"

	"carelink/internal/domain/entity"
)

// BlobUploader stores attachment bytes outside the message store and returns
// the descriptor that messages carry.
type BlobUploader interface {
	Upload(ctx context.Context, conversationID, name, mimeType string, r io.Reader) (*entity.Attachment, error)
	Close() error
}

// AttachmentSigner is implemented by uploaders whose objects are private.
type AttachmentSigner interface {
	SignedURL(attachmentURL string) (string, error)
}
