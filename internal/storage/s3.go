package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Client wraps the AWS S3 client with payload decryption support.
type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// S3Options configures object store access. Endpoint and the static key pair
// target S3-compatible stores; left empty, the ambient AWS environment
// applies.
type S3Options struct {
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Name        string            `json:"name"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Encrypted   bool              `json:"encrypted"`
	Format      string            `json:"encryption_format,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// NewS3Client creates an S3 client bound to one bucket.
func NewS3Client(ctx context.Context, opts S3Options) (*S3Client, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			// S3-compatible stores route by path, not virtual host.
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Client{
		client:   cli,
		uploader: manager.NewUploader(cli),
		bucket:   opts.Bucket,
	}, nil
}

// Bucket returns the bucket this client is bound to.
func (s *S3Client) Bucket() string { return s.bucket }

// DownloadObject fetches an object and decrypts it when a password is given.
// An empty password means the object is stored in the clear.
func (s *S3Client) DownloadObject(ctx context.Context, key, password string) ([]byte, *ObjectMeta, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read S3 object: %w", err)
	}

	meta := &ObjectMeta{Extra: make(map[string]string)}
	if result.Metadata != nil {
		// The file server stores the upload filename as x-amz-meta-name.
		if name, ok := result.Metadata["name"]; ok {
			meta.Name = name
		} else if name, ok := result.Metadata["Name"]; ok {
			meta.Name = name
		}
		for k, v := range result.Metadata {
			meta.Extra[strings.ToLower(k)] = v
		}
	}
	if result.ContentLength != nil {
		meta.Size = *result.ContentLength
	}

	if password == "" {
		meta.Format = formatNone
		return raw, meta, nil
	}

	plain, format, err := decryptPayload(raw, password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt object: %w", err)
	}
	meta.Encrypted = true
	meta.Format = format

	log.Debug().
		Str("key", key).
		Str("encryption_format", format).
		Str("name", meta.Name).
		Int("size", len(plain)).
		Msg("downloaded object from S3")
	return plain, meta, nil
}

// UploadObject stores an object, encrypting with the legacy CBC format when a
// password is given so the file server can read it back.
func (s *S3Client) UploadObject(ctx context.Context, key string, data []byte, password string, meta *ObjectMeta) error {
	body := data
	if password != "" {
		enc, err := encryptCBC(data, password)
		if err != nil {
			return fmt.Errorf("failed to encrypt object: %w", err)
		}
		body = enc
	}

	s3Meta := make(map[string]string)
	if meta != nil {
		s3Meta["name"] = meta.Name
		s3Meta["content-type"] = meta.ContentType
		if password != "" {
			s3Meta["encrypted"] = "true"
			s3Meta["encryption-format"] = formatCBC
		}
		for k, v := range meta.Extra {
			s3Meta[k] = v
		}
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   &s.bucket,
		Key:      &key,
		Body:     bytes.NewReader(body),
		Metadata: s3Meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Debug().Str("key", key).Int("size", len(body)).Msg("uploaded object to S3")
	return nil
}

// UploadResult publishes a composed job result: the sheet manifest plus each
// rendered sheet image, under results/<jobID>/. Returns the manifest URL.
func (s *S3Client) UploadResult(ctx context.Context, jobID string, manifest []byte, sheetPaths []string, password string) (string, error) {
	prefix := fmt.Sprintf("results/%s", jobID)

	for _, p := range sheetPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %s: %w", p, err)
		}
		name := filepath.Base(p)
		meta := &ObjectMeta{
			Name:        name,
			ContentType: "image/png",
			Size:        int64(len(data)),
			Extra:       map[string]string{"job_id": jobID},
		}
		if err := s.UploadObject(ctx, prefix+"/"+name, data, password, meta); err != nil {
			return "", err
		}
	}

	manifestKey := prefix + "/manifest.json"
	meta := &ObjectMeta{
		Name:        "manifest.json",
		ContentType: "application/json",
		Size:        int64(len(manifest)),
		Extra:       map[string]string{"job_id": jobID},
	}
	if err := s.UploadObject(ctx, manifestKey, manifest, password, meta); err != nil {
		return "", err
	}

	url := fmt.Sprintf("s3://%s/%s", s.bucket, manifestKey)
	log.Info().
		Str("job_id", jobID).
		Int("sheets", len(sheetPaths)).
		Str("manifest", url).
		Msg("published result to S3")
	return url, nil
}
