// Package s3vault implements the vault sync contract against S3 and
// S3-compatible object stores (MinIO, Ceph RGW, object storage tiers
// of the big clouds). The bucket plus an optional key prefix is the
// container; static keys replace the browser flow, so Authenticate is
// just a liveness probe.
package s3vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/jbombled/genpwd-sync/internal/vault"
)

const providerName = "s3vault"

// Config selects the bucket and how to reach it. Endpoint overrides the
// AWS default for S3-compatible stores; those usually need path-style
// addressing too.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// objectAPI is the slice of the S3 client the adapter uses. Tests
// substitute an in-memory implementation.
type objectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Adapter implements vault.Provider against an S3 bucket.
type Adapter struct {
	client objectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

// New builds the real S3 client from static credentials.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Adapter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, &vault.Error{Provider: providerName, Message: "loading aws config: " + err.Error()}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		}
	})

	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient wires a prebuilt client. Tests use this.
func NewWithClient(client objectAPI, bucket, prefix string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Adapter{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

func (a *Adapter) Name() string {
	return providerName
}

func (a *Adapter) key(vaultID string) string {
	return a.prefix + vault.ObjectName(vaultID)
}

func (a *Adapter) probe(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})

	return a.classify(err)
}

// IsAuthenticated probes the bucket; static keys have no session to
// cache, so every call answers from the backend.
func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	return a.probe(ctx) == nil
}

// Authenticate verifies the configured keys can reach the bucket.
// There is no interactive flow to run.
func (a *Adapter) Authenticate(ctx context.Context) error {
	return a.probe(ctx)
}

// Disconnect is a no-op: the adapter holds no session state.
func (a *Adapter) Disconnect() {}

// Upload PUTs the blob under the conventional key. S3 PUT is
// create-or-replace by nature, which keeps the operation idempotent.
func (a *Adapter) Upload(ctx context.Context, data *vault.SyncData) (string, error) {
	key := a.key(data.VaultID)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data.EncryptedData),
		ContentType: aws.String(vault.ContentType),
	})
	if err != nil {
		return "", a.classify(err)
	}

	a.logger.Info("uploaded vault",
		slog.String("provider", providerName),
		slog.String("vault_id", data.VaultID),
		slog.Int("size", len(data.EncryptedData)),
	)

	return key, nil
}

func (a *Adapter) Download(ctx context.Context, vaultID string) (*vault.SyncData, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(vaultID)),
	})
	if err != nil {
		return nil, a.classify(err)
	}
	defer out.Body.Close()

	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, vault.Classify(providerName, err)
	}

	data := &vault.SyncData{
		VaultID:       vaultID,
		VaultName:     vault.ObjectName(vaultID),
		EncryptedData: blob,
		// Version and DeviceID do not survive the object representation.
	}

	if out.LastModified != nil {
		data.Timestamp = out.LastModified.UnixMilli()
	}

	data.Checksum = data.Fingerprint()

	return data, nil
}

func (a *Adapter) List(ctx context.Context) ([]vault.FileMetadata, error) {
	var (
		out   []vault.FileMetadata
		token *string
	)

	for {
		page, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(a.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, a.classify(err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)

			name := strings.TrimPrefix(key, a.prefix)
			if !vault.IsVaultObject(name) {
				continue
			}

			meta := vault.FileMetadata{
				FileID:   key,
				FileName: name,
				Size:     aws.ToInt64(obj.Size),
				Checksum: trimETag(aws.ToString(obj.ETag)),
			}

			if obj.LastModified != nil {
				meta.ModifiedTime = obj.LastModified.UnixMilli()
			}

			out = append(out, meta)
		}

		if !aws.ToBool(page.IsTruncated) {
			return out, nil
		}

		token = page.NextContinuationToken
	}
}

// Delete removes the object. S3 deletes are idempotent: removing an
// absent key succeeds.
func (a *Adapter) Delete(ctx context.Context, fileID string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(fileID),
	})

	err = a.classify(err)
	if errors.Is(err, vault.ErrNotFound) {
		return nil
	}

	return err
}

func (a *Adapter) Metadata(ctx context.Context, vaultID string) (*vault.FileMetadata, error) {
	key := a.key(vaultID)

	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = a.classify(err)
		if errors.Is(err, vault.ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}

	meta := &vault.FileMetadata{
		FileID:   key,
		FileName: vault.ObjectName(vaultID),
		Size:     aws.ToInt64(out.ContentLength),
		Checksum: trimETag(aws.ToString(out.ETag)),
	}

	if out.LastModified != nil {
		meta.ModifiedTime = out.LastModified.UnixMilli()
	}

	return meta, nil
}

func (a *Adapter) HasNewerVersion(ctx context.Context, vaultID string, localTimestampMS int64) (bool, error) {
	meta, err := a.Metadata(ctx, vaultID)
	if err != nil {
		return false, err
	}

	return vault.Newer(meta, localTimestampMS), nil
}

// Quota is unknowable for S3: buckets have no size limit the API
// reports.
func (a *Adapter) Quota(ctx context.Context) (vault.Quota, error) {
	return vault.UnknownQuota(), nil
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// classify maps the SDK's typed and coded errors onto the shared
// taxonomy.
func (a *Adapter) classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		noKey    *s3types.NoSuchKey
		noBucket *s3types.NoSuchBucket
		notFound *s3types.NotFound
	)

	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return &vault.Error{Provider: providerName, Message: err.Error(), Err: vault.ErrNotFound}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		wrapped := &vault.Error{
			Provider: providerName,
			Message:  fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()),
		}

		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			wrapped.Err = vault.ErrNotFound
		case "AccessDenied", "AllAccessDisabled":
			wrapped.Err = vault.ErrPermissionDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "TokenRefreshRequired":
			wrapped.Err = vault.ErrAuthExpired
		case "SlowDown", "RequestLimitExceeded", "Throttling", "ThrottlingException":
			wrapped.Err = vault.ErrRateLimited
		case "QuotaExceeded", "EntityTooLarge":
			wrapped.Err = vault.ErrQuotaExceeded
		case "RequestTimeout", "ServiceUnavailable", "InternalError":
			wrapped.Err = vault.ErrNetwork
		}

		return wrapped
	}

	return vault.Classify(providerName, err)
}
