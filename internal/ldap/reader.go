package ldap

import (
	"context"

	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/logging"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/storage"
	"go.uber.org/zap"
)

// Source is the authoritative user list as seen by the reconciler
type Source interface {
	FetchAll(ctx context.Context) (*Snapshot, error)
}

// Snapshot is the result of one fetch. It is owned by the caller for the
// duration of a run and never cached by the reader.
type Snapshot struct {
	Records   []Record
	Malformed []MalformedRecord
}

// Reader fetches the LDAP export from object storage
type Reader struct {
	fetcher storage.ObjectFetcher
	bucket  string
	key     string
	retry   apperrors.RetryConfig
	logger  *logging.Logger
}

// NewReader creates a reader for bucket/key
func NewReader(fetcher storage.ObjectFetcher, bucket, key string, logger *logging.Logger) *Reader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reader{
		fetcher: fetcher,
		bucket:  bucket,
		key:     key,
		retry:   apperrors.NoRetryConfig(),
		logger:  logger,
	}
}

// WithRetry sets the retry policy for the object fetch
func (r *Reader) WithRetry(config apperrors.RetryConfig) *Reader {
	r.retry = config
	return r
}

// FetchAll downloads, decompresses and decodes the export.
// Every call goes back to object storage.
func (r *Reader) FetchAll(ctx context.Context) (*Snapshot, error) {
	var data []byte
	err := apperrors.RetryWithContext(ctx, func() error {
		var fetchErr error
		data, fetchErr = r.fetcher.Fetch(ctx, r.bucket, r.key)
		return fetchErr
	}, r.retry)
	if err != nil {
		return nil, apperrors.NewSourceError("fetch", err).
			WithContext("bucket", r.bucket).
			WithContext("key", r.key)
	}

	codec := CodecForKey(r.key)
	plain, err := Decompress(codec, data)
	if err != nil {
		return nil, apperrors.NewSourceError("decompress", err).WithContext("codec", string(codec))
	}

	records, malformed, err := Decode(plain)
	if err != nil {
		return nil, apperrors.NewSourceError("decode", err)
	}

	for _, m := range malformed {
		r.logger.Structured(logging.WARN, "Dropping malformed record",
			zap.String("record", m.Key),
			zap.String("reason", m.Reason),
		)
	}

	r.logger.Structured(logging.INFO, "Loaded authoritative export",
		zap.String("bucket", r.bucket),
		zap.String("key", r.key),
		zap.String("codec", string(codec)),
		zap.Int("records", len(records)),
		zap.Int("malformed", len(malformed)),
	)

	return &Snapshot{Records: records, Malformed: malformed}, nil
}
