package keyring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Source loads and stores the sealed key blob.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
	Store(ctx context.Context, data []byte) error
}

// FileSource keeps the blob in a local file.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Load(ctx context.Context) ([]byte, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read key blob: %w", err)
	}
	return b, nil
}

func (s *FileSource) Store(ctx context.Context, data []byte) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("write key blob: %w", err)
	}
	return nil
}

// S3Settings configures an S3-compatible backend (AWS or MinIO).
type S3Settings struct {
	User         string
	Password     string
	Bucket       string
	Region       string
	BaseEndpoint string
	Key          string
}

// objectAPI is the part of *s3.Client the source needs.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3Client = func(cfg aws.Config, optFns ...func(*s3.Options)) objectAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Source keeps the blob as a single object.
type S3Source struct {
	settings S3Settings
}

func NewS3Source(s S3Settings) *S3Source {
	return &S3Source{settings: s}
}

func (s *S3Source) client(ctx context.Context) (objectAPI, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.settings.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.settings.User,
			s.settings.Password,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3Client(cfg, func(o *s3.Options) {
		if s.settings.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.settings.BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (s *S3Source) Load(ctx context.Context) ([]byte, error) {
	c, err := s.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	out, err := c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.settings.Bucket),
		Key:    aws.String(s.settings.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", s.settings.Key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Source) Store(ctx context.Context, data []byte) error {
	c, err := s.client(ctx)
	if err != nil {
		return fmt.Errorf("s3 client: %w", err)
	}
	_, err = c.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.settings.Bucket),
		Key:         aws.String(s.settings.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", s.settings.Key, err)
	}
	return nil
}
