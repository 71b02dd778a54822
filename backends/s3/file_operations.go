package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/metadata"
)

// Open opens a file for reading
func (a *S3Adapter) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	key := a.pathToKey(path)

	result, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, metadata.ErrNotFound
		}
		return nil, wrapError("get", key, err)
	}

	return result.Body, nil
}

// OpenWriter starts a streaming multipart upload to key. Bytes written to
// the sink are piped into the uploader; Close waits for the upload to
// finish and returns its error.
func (a *S3Adapter) OpenWriter(ctx context.Context, path string) (io.WriteCloser, error) {
	key := a.pathToKey(path)
	pr, pw := io.Pipe()

	input := &s3manager.UploadInput{
		Bucket:      aws.String(a.bucketName),
		Key:         aws.String(key),
		Body:        pr,
		ContentType: aws.String(contentType(path)),
	}
	a.applyWriteOptions(input)

	w := &uploadWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := a.uploader.UploadWithContext(ctx, input)
		// unblock a writer still waiting on the pipe
		pr.CloseWithError(err)
		if err != nil {
			err = wrapError("upload", key, err)
		}
		w.done <- err
	}()

	a.logger.Debug("Started S3 streaming upload",
		zap.String("bucket", a.bucketName),
		zap.String("key", key))

	return w, nil
}

// Exists checks for an object at path
func (a *S3Adapter) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := a.head(ctx, a.pathToKey(path)); err != nil {
		if err == metadata.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat gets object information. A client-set mtime stored in the object's
// user metadata takes precedence over LastModified.
func (a *S3Adapter) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	key := a.pathToKey(path)
	result, err := a.head(ctx, key)
	if err != nil {
		return nil, err
	}

	md := &metadata.Metadata{
		Name:        filepath.Base(path),
		Path:        "/" + key,
		Type:        metadata.TypeFile,
		Size:        aws.Int64Value(result.ContentLength),
		MTime:       aws.TimeValue(result.LastModified),
		BackendType: BackendType,
	}

	if raw, ok := result.Metadata[mtimeMetaKey]; ok && raw != nil {
		if secs, err := strconv.ParseInt(*raw, 10, 64); err == nil {
			md.MTime = time.Unix(secs, 0).UTC()
		}
	}

	return md, nil
}

// Touch records mtime in the object's user metadata by copying the object
// onto itself with a replaced metadata set
func (a *S3Adapter) Touch(ctx context.Context, path string, mtime time.Time) error {
	key := a.pathToKey(path)
	current, err := a.head(ctx, key)
	if err != nil {
		return err
	}

	meta := make(map[string]*string, len(current.Metadata)+1)
	for k, v := range current.Metadata {
		meta[k] = v
	}
	meta[mtimeMetaKey] = aws.String(strconv.FormatInt(mtime.Unix(), 10))

	input := &s3.CopyObjectInput{
		Bucket:            aws.String(a.bucketName),
		Key:               aws.String(key),
		CopySource:        aws.String(url.PathEscape(a.bucketName + "/" + key)),
		Metadata:          meta,
		MetadataDirective: aws.String(s3.MetadataDirectiveReplace),
		ContentType:       current.ContentType,
	}
	if a.serverSideEncryption != "" {
		input.ServerSideEncryption = aws.String(a.serverSideEncryption)
		if a.serverSideEncryption == s3.ServerSideEncryptionAwsKms && a.kmsKeyID != "" {
			input.SSEKMSKeyId = aws.String(a.kmsKeyID)
		}
	}
	if a.acl != "" {
		input.ACL = aws.String(a.acl)
	}

	if _, err := a.client.CopyObjectWithContext(ctx, input); err != nil {
		return wrapError("touch", key, err)
	}
	return nil
}

// Delete removes an object
func (a *S3Adapter) Delete(ctx context.Context, path string) error {
	key := a.pathToKey(path)

	_, err := a.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return wrapError("delete", key, err)
	}

	a.logger.Debug("Object deleted from S3",
		zap.String("bucket", a.bucketName),
		zap.String("key", key))
	return nil
}

func (a *S3Adapter) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	result, err := a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, metadata.ErrNotFound
		}
		return nil, wrapError("stat", key, err)
	}
	return result, nil
}

func (a *S3Adapter) applyWriteOptions(input *s3manager.UploadInput) {
	if a.serverSideEncryption != "" {
		input.ServerSideEncryption = aws.String(a.serverSideEncryption)
		if a.serverSideEncryption == s3.ServerSideEncryptionAwsKms && a.kmsKeyID != "" {
			input.SSEKMSKeyId = aws.String(a.kmsKeyID)
		}
	}
	if a.acl != "" {
		input.ACL = aws.String(a.acl)
	}
}

var errUploadAborted = errors.New("upload aborted")

// uploadWriter is the write end of a streaming upload
type uploadWriter struct {
	pw   *io.PipeWriter
	done chan error
	once sync.Once
	err  error
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *uploadWriter) Close() error {
	w.once.Do(func() {
		if err := w.pw.Close(); err != nil {
			w.err = fmt.Errorf("failed to close upload pipe: %w", err)
		}
		if err := <-w.done; err != nil {
			w.err = err
		}
	})
	return w.err
}

// Abort fails the pipe with cause so the uploader gives up instead of
// completing the object from a truncated body, then waits for it to stop
func (w *uploadWriter) Abort(cause error) {
	w.once.Do(func() {
		if cause == nil {
			cause = errUploadAborted
		}
		w.pw.CloseWithError(cause)
		<-w.done
		w.err = errUploadAborted
	})
}

// contentType returns the MIME type based on file extension
func contentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
