package s3

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/backends"
	"github.com/ebogdum/bundlefs/config"
)

// BackendType is the metadata backend type recorded for S3 objects
const BackendType = "s3"

// mtimeMetaKey is the user metadata key carrying a client-set mtime
const mtimeMetaKey = "Mtime"

// S3Adapter implements the backends.Storage interface for AWS S3
type S3Adapter struct {
	client               *s3.S3
	uploader             *s3manager.Uploader
	bucketName           string
	serverSideEncryption string
	acl                  string
	kmsKeyID             string
	logger               *zap.Logger
}

// NewS3Adapter creates a new S3 storage adapter
func NewS3Adapter(cfg config.BackendConfig, logger *zap.Logger) (*S3Adapter, error) {
	if cfg.S3BucketName == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	awsConfig := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		),
	}

	// Custom endpoints (MinIO and friends) need path-style addressing
	if cfg.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
		awsConfig.DisableSSL = aws.Bool(strings.HasPrefix(cfg.S3Endpoint, "http://"))
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3.New(sess)

	_, err = client.HeadBucket(&s3.HeadBucketInput{
		Bucket: aws.String(cfg.S3BucketName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %s: %w", cfg.S3BucketName, err)
	}

	uploader := s3manager.NewUploaderWithClient(client, func(u *s3manager.Uploader) {
		if cfg.S3PartSizeMB > 0 {
			u.PartSize = int64(cfg.S3PartSizeMB) << 20
		}
		u.LeavePartsOnError = false
	})

	return &S3Adapter{
		client:               client,
		uploader:             uploader,
		bucketName:           cfg.S3BucketName,
		serverSideEncryption: cfg.S3ServerSideEncryption,
		acl:                  cfg.S3ACL,
		kmsKeyID:             cfg.S3KMSKeyID,
		logger:               logger,
	}, nil
}

// Close closes any resources used by the S3 adapter
func (a *S3Adapter) Close() error {
	return nil
}

// pathToKey converts a filesystem path to an S3 key
func (a *S3Adapter) pathToKey(path string) string {
	return strings.TrimPrefix(path, "/")
}

// isS3NotFound checks if an error indicates the object was not found
func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// isUnavailable reports errors that mean S3 could not be reached or
// refused service, as opposed to a problem with the request itself
func isUnavailable(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode() {
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			return true
		}
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case request.ErrCodeRequestError, request.ErrCodeResponseTimeout, "SlowDown", "ServiceUnavailable":
			return true
		}
	}
	return false
}

// wrapError tags unreachable-backend failures with backends.ErrUnavailable
func wrapError(op, key string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%w: %s %s: %v", backends.ErrUnavailable, op, key, err)
	}
	return fmt.Errorf("failed to %s %s in S3: %w", op, key, err)
}
