package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bobarin/reels/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Upload timeout per call, rendered reels can be large
	uploadTimeout = 180 * time.Second

	// Download timeout
	downloadTimeout = 120 * time.Second

	// Total attempts including the first, handled by the SDK retryer
	maxAttempts = 5

	presignExpiry = time.Hour
)

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// Storage is durable object storage on Cloudflare R2 through the S3 API.
type Storage struct {
	client  *s3.Client
	presign *s3.PresignClient
	Bucket  string
	log     zerolog.Logger
}

func New(ctx context.Context, cfg Config) (*Storage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		awsconfig.WithRetryMaxAttempts(maxAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
		// R2 rejects the default CRC32 trailers
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Storage{
		client:  client,
		presign: s3.NewPresignClient(client),
		Bucket:  cfg.Bucket,
		log:     logging.WithComponent("storage"),
	}, nil
}

// UploadFile streams a local file to key.
func (s *Storage) UploadFile(ctx context.Context, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", localPath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file %s: %w", localPath, err)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	start := time.Now()
	_, err = s.client.PutObject(uploadCtx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	s.log.Debug().
		Str("key", key).
		Int64("bytes", stat.Size()).
		Dur("took", time.Since(start)).
		Msg("uploaded object")
	return nil
}

// DownloadFile writes the object at key to localPath.
func (s *Storage) DownloadFile(ctx context.Context, key, localPath string) error {
	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	out, err := s.client.GetObject(dlCtx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("download %s: %w", key, ErrObjectNotFound)
		}
		return fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}

	n, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}

	s.log.Debug().Str("key", key).Int64("bytes", n).Msg("downloaded object")
	return nil
}

// Delete removes key. Deleting a missing key succeeds.
func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a time-limited download URL for key.
func (s *Storage) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	repeatedDots        = regexp.MustCompile(`\.{2,}`)
)

// SanitizeFilename keeps only characters that are safe in object keys.
func SanitizeFilename(filename string) string {
	s := unsafeFilenameChars.ReplaceAllString(filename, "_")
	s = repeatedDots.ReplaceAllString(s, ".")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// BuildFileKey creates a unique user-scoped key: users/{user}/uploads/{uuid}-{name}.
func BuildFileKey(userID uuid.UUID, filename string) string {
	return fmt.Sprintf("users/%s/uploads/%s-%s", userID, uuid.New(), SanitizeFilename(filename))
}

// RenderKey is the key of a content item's rendered reel.
func RenderKey(userID, contentItemID uuid.UUID) string {
	return BuildFileKey(userID, contentItemID.String()+"-render.mp4")
}

// ContentTypeFor guesses a content type from the key extension.
func ContentTypeFor(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mp3":
		return "audio/mpeg"
	}
	return "application/octet-stream"
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
