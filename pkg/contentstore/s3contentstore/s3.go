// Stores content in AWS S3
package s3contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/function61/gokit/logex"
)

type Options struct {
	Bucket string
	Region string
	// all object names get this prefix, so one bucket can host many installations
	Prefix string
	// empty => default AWS credential chain (env, shared config, instance role)
	AccessKeyID     string
	SecretAccessKey string
}

type s3contentstore struct {
	bucket string
	prefix string
	client *s3.S3
	logl   *logex.Leveled
}

func New(opts Options, logger *log.Logger) (*s3contentstore, error) {
	if opts.Bucket == "" || opts.Region == "" {
		return nil, errors.New("s3 content store needs bucket and region")
	}

	awsConfig := &aws.Config{
		Region: aws.String(opts.Region),
	}

	if opts.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(opts.AccessKeyID, opts.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, err
	}

	return &s3contentstore{
		bucket: opts.Bucket,
		prefix: normalizePrefix(opts.Prefix),
		client: s3.New(sess),
		logl:   logex.Levels(logex.NonNil(logger)),
	}, nil
}

func (s *s3contentstore) RawFetch(ctx context.Context, name string) (io.ReadCloser, error) {
	res, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(s.objectKey(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &os.PathError{Op: "s3 GetObject", Path: name, Err: os.ErrNotExist}
		}

		return nil, fmt.Errorf("s3 GetObject: %w", err)
	}

	return res.Body, nil
}

func (s *s3contentstore) RawStore(ctx context.Context, name string, content io.Reader) error {
	// since S3 internally requires retry support, it requires a io.ReadSeeker and thus
	// we're forced to buffer
	buf, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	if _, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(s.objectKey(name)),
		Body:   bytes.NewReader(buf),
	}); err != nil {
		return fmt.Errorf("s3 PutObject: %w", err)
	}

	return nil
}

func (s *s3contentstore) RawExists(ctx context.Context, name string) (bool, error) {
	if _, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(s.objectKey(name)),
	}); err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, fmt.Errorf("s3 HeadObject: %w", err)
	}

	return true, nil
}

func (s *s3contentstore) RawDelete(ctx context.Context, name string) error {
	// S3 doesn't complain about deleting non-existing objects
	if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(s.objectKey(name)),
	}); err != nil {
		return fmt.Errorf("s3 DeleteObject: %w", err)
	}

	return nil
}

func (s *s3contentstore) RawList(ctx context.Context, prefix string) ([]string, error) {
	names := []string{}

	if err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: aws.String(s.objectKey(prefix)),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, object := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.StringValue(object.Key), s.prefix))
		}
		return true
	}); err != nil {
		return nil, fmt.Errorf("s3 ListObjectsV2: %w", err)
	}

	return names, nil
}

// server-side copy, content never passes through us
func (s *s3contentstore) RawCopy(ctx context.Context, from string, to string) error {
	if _, err := s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     &s.bucket,
		Key:        aws.String(s.objectKey(to)),
		CopySource: aws.String(copySource(s.bucket, s.objectKey(from))),
	}); err != nil {
		if isNotFound(err) {
			return &os.PathError{Op: "s3 CopyObject", Path: from, Err: os.ErrNotExist}
		}

		return fmt.Errorf("s3 CopyObject: %w", err)
	}

	return nil
}

func (s *s3contentstore) Mountable(ctx context.Context) error {
	_, err := s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  &s.bucket,
		MaxKeys: aws.Int64(1), // we'll just want to see that the access key works
	})
	return err
}

func (s *s3contentstore) objectKey(name string) string {
	return s.prefix + name
}

// "bucket/key with space" => "bucket/key%20with%20space"
func copySource(bucket string, key string) string {
	return (&url.URL{Path: bucket + "/" + key}).EscapedPath()
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func isNotFound(err error) bool {
	var awsErr awserr.Error
	if !errors.As(err, &awsErr) {
		return false
	}

	switch awsErr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	default:
		return false
	}
}
