// Package gcs publishes objects to a Google Cloud Storage bucket through the
// JSON API.
package gcs

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/storage/v1"

	"weaver/internal/pkg/errors"
	"weaver/internal/ports"
)

const publicHost = "https://storage.googleapis.com/"

type Client struct {
	srv          *storage.Service
	bucket       string
	cacheControl string
}

func NewClient(srv *storage.Service, bucket, cacheControl string) *Client {
	return &Client{srv: srv, bucket: bucket, cacheControl: cacheControl}
}

func (c *Client) Provider() string { return "gcs" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.ValidationField("object_key", "object_key is required")
	}

	obj := &storage.Object{
		Name:         in.ObjectKey,
		ContentType:  in.ContentType,
		CacheControl: c.cacheControl,
	}
	opts := []googleapi.MediaOption{}
	if in.ContentType != "" {
		opts = append(opts, googleapi.ContentType(in.ContentType))
	}

	created, err := c.srv.Objects.Insert(c.bucket, obj).
		Media(in.Reader, opts...).
		Context(ctx).
		Do()
	if err != nil {
		return ports.PutObjectOutput{}, wrapAPIError(err, "gcs.PutObject", in.ObjectKey)
	}

	size := in.Size
	if created.Size > 0 {
		size = int64(created.Size)
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: size, URL: PublicURL(c.bucket, in.ObjectKey)}, nil
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	resp, err := c.srv.Objects.Get(c.bucket, objectKey).Context(ctx).Download()
	if err != nil {
		return nil, "", 0, wrapAPIError(err, "gcs.GetObject", objectKey)
	}
	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

// PublicURL is the anonymous download location of key in bucket.
func PublicURL(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return publicHost + bucket + "/" + strings.Join(parts, "/")
}

func wrapAPIError(err error, op, key string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return errors.NotFound("object", key)
	}
	return errors.WrapWithCode(err, errors.CodeUnavailable, op, "cloud storage request failed")
}
