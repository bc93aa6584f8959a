// Package backup replicates the dataset to a remote object store. The sync
// runs beside the sweep: a local append nudges the syncer and moves on, and
// remote failures are logged and retried without ever blocking or reversing
// a local write.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// Uploader pushes one named object to the remote store.
type Uploader interface {
	Upload(ctx context.Context, name string, body io.Reader) error
}

// S3Uploader stores objects in an S3 bucket under a key prefix.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Uploader builds an uploader from the ambient AWS credential chain.
func NewS3Uploader(ctx context.Context, bucket, prefix, region string) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Uploader{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, name string, body io.Reader) error {
	key := name
	if u.prefix != "" {
		key = u.prefix + "/" + name
	}
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}

const (
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 5 * time.Minute
	uploadTimeout      = 2 * time.Minute
)

// Syncer mirrors one local file to the remote store. Each sync attempt
// moves through pending, in-flight, and then acked or retry-scheduled;
// uploads carry the file's full current contents, so one acked attempt
// after any number of failures converges on the newest data.
type Syncer struct {
	uploader Uploader
	file     string

	baseBackoff time.Duration
	maxBackoff  time.Duration

	dirty   chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// SyncerOption adjusts Syncer behavior.
type SyncerOption func(*Syncer)

// WithBackoff overrides the retry backoff bounds.
func WithBackoff(base, max time.Duration) SyncerOption {
	return func(s *Syncer) {
		s.baseBackoff = base
		s.maxBackoff = max
	}
}

// NewSyncer starts a syncer for the given file.
func NewSyncer(uploader Uploader, file string, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		uploader:    uploader,
		file:        file,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		dirty:       make(chan struct{}, 1),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Notify marks the file dirty. It never blocks; repeated nudges while an
// upload is pending collapse into one.
func (s *Syncer) Notify() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Close stops the syncer, attempting one final upload if the file is still
// dirty. The context bounds that final attempt.
func (s *Syncer) Close(ctx context.Context) error {
	close(s.done)
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Syncer) run() {
	defer close(s.stopped)

	pending := false
	backoff := s.baseBackoff
	var retryCh <-chan time.Time

	for {
		select {
		case <-s.dirty:
			pending = true
		case <-retryCh:
			retryCh = nil
		case <-s.done:
			if pending {
				if err := s.attempt(); err != nil {
					logrus.Warnf("Final dataset backup attempt failed: %v", err)
				}
			}
			return
		}

		// Collapse any nudge that raced with the retry timer.
		select {
		case <-s.dirty:
			pending = true
		default:
		}

		if !pending || retryCh != nil {
			continue
		}
		if err := s.attempt(); err != nil {
			logrus.Warnf("Dataset backup failed, retrying in %s: %v", backoff, err)
			retryCh = time.After(backoff)
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
			continue
		}
		pending = false
		backoff = s.baseBackoff
		logrus.Infof("Dataset synced to remote store")
	}
}

func (s *Syncer) attempt() error {
	file, err := os.Open(s.file)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.file, err)
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	return s.uploader.Upload(ctx, filepath.Base(s.file), file)
}
