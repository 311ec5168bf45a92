// Package archival ships finalized blocks to cold storage off the
// consensus-critical path. Grounded on original_source/src/libArchival/
// Archival.h (a best-effort async queue of not-yet-persisted block/txn
// hashes, fetched and written to a BaseDB independently of the main
// consensus loop) and the teacher's aws-sdk-go dependency, which the
// teacher itself never wires to a concrete uploader — this package gives
// it one.
package archival

import (
	"bytes"
	"context"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rs/zerolog"
)

// Item is one object queued for upload: a finalized DSBlock or TxBlock's
// RLP encoding, keyed by a content-addressed key under the bucket.
type Item struct {
	Key  string
	Body []byte
}

// Uploader asynchronously drains a bounded queue of Items into an S3
// bucket. Never called synchronously from the hot consensus path — a
// caller enqueues with Submit and moves on; a full queue drops the newly
// submitted item rather than block, since archival is explicitly
// best-effort (§5 "Cancellation": never on the consensus-critical path).
type Uploader struct {
	bucket   string
	uploader *s3manager.Uploader
	logger   zerolog.Logger

	queue chan Item

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// queueDepth bounds how many finalized blocks can be pending upload before
// further submissions are dropped; generous for anything but a sustained outage of
// the archival backend.
const queueDepth = 256

// NewUploader builds an Uploader for bucket in region, starting numWorkers
// background goroutines draining the submit queue.
func NewUploader(bucket, region string, numWorkers int, logger zerolog.Logger) (*Uploader, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	u := &Uploader{
		bucket:   bucket,
		uploader: s3manager.NewUploader(sess),
		logger:   logger,
		queue:    make(chan Item, queueDepth),
		cancel:   cancel,
	}
	for i := 0; i < numWorkers; i++ {
		u.wg.Add(1)
		go u.worker(ctx)
	}
	return u, nil
}

// Submit enqueues item for upload. Non-blocking: if the queue is full, the
// submission is dropped and logged rather than stalling the caller —
// archival never slows down consensus.
func (u *Uploader) Submit(item Item) {
	select {
	case u.queue <- item:
	default:
		u.logger.Warn().Str("key", item.Key).Msg("archival queue full, dropping item")
	}
}

func (u *Uploader) worker(ctx context.Context) {
	defer u.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-u.queue:
			_, err := u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
				Bucket: aws.String(u.bucket),
				Key:    aws.String(item.Key),
				Body:   bytes.NewReader(item.Body),
			})
			if err != nil {
				u.logger.Error().Err(err).Str("key", item.Key).Msg("archival upload failed")
			}
		}
	}
}

// Close stops all workers, waiting for in-flight uploads to finish.
func (u *Uploader) Close() {
	u.cancel()
	u.wg.Wait()
}
