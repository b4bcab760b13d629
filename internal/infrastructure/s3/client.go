package s3infra

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sender-identity/internal/config"
	"github.com/sender-identity/internal/infrastructure/awsclient"
)

// Store holds exported DNS zone snippets.
type Store struct {
	client *s3.Client
	bucket string
}

// NewClient creates an S3 client. When cfg.AWSEndpointURL is set (LocalStack),
// it overrides the endpoint and enables path-style addressing.
func NewClient(cfg *config.Config) *s3.Client {
	awsCfg, err := awsclient.Load(context.Background(), cfg, "")
	if err != nil {
		panic("failed to load AWS config for S3: " + err.Error())
	}

	clientOpts := []func(*s3.Options){}
	if ep := awsclient.Endpoint(cfg); ep != nil {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = ep
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...)
}

func NewStore(client *s3.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// ZoneKey is the object key of a tenant's zone snippet for domainName.
func ZoneKey(tenantID, domainName string) string {
	return fmt.Sprintf("zones/%s/%s.zone", tenantID, strings.ToLower(domainName))
}

// Upload streams r to S3 under key and returns the object URL.
func (s *Store) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// PresignedURL generates a time-limited presigned GET URL for the given key.
func (s *Store) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get object: %w", err)
	}
	return req.URL, nil
}

// PutZone uploads a zone snippet and returns a download link valid for ttl.
func (s *Store) PutZone(ctx context.Context, tenantID, domainName, zone string, ttl time.Duration) (string, error) {
	key := ZoneKey(tenantID, domainName)
	if _, err := s.Upload(ctx, key, strings.NewReader(zone), "text/dns"); err != nil {
		return "", err
	}
	return s.PresignedURL(ctx, key, ttl)
}

// Delete removes a zone snippet.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}
