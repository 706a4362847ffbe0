package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"go.etcd.io/bbolt"
)

// CollectionFile is the database file inside each document directory.
const CollectionFile = "collection.db"

var (
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")
	keyDocumentID = []byte("document_id")
)

// BoltStore keeps each collection in {base}/{document_id}/collection.db.
// A new generation is written to a staging directory and swapped in by
// rename.
type BoltStore struct {
	baseDir string
	logger  *slog.Logger
	rename  func(oldpath, newpath string) error

	mu sync.Mutex
}

func NewBoltStore(baseDir string, logger *slog.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, domain.NewStorageError("failed to create vector store directory", err)
	}
	return &BoltStore{
		baseDir: baseDir,
		logger:  logger.With("component", "vectorstore", "backend", "bolt"),
		rename:  os.Rename,
	}, nil
}

// Path returns the collection directory for documentID.
func (s *BoltStore) Path(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *BoltStore) Upsert(ctx context.Context, documentID string, records []Record) (string, error) {
	if err := validateDocumentID(documentID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", domain.NewStorageError("upsert cancelled", err)
	}

	staging, err := os.MkdirTemp(s.baseDir, "."+documentID+".staging-")
	if err != nil {
		return "", domain.NewStorageError("failed to create staging directory", err)
	}
	if err := writeCollection(filepath.Join(staging, CollectionFile), documentID, records); err != nil {
		_ = os.RemoveAll(staging)
		return "", domain.NewStorageError("failed to write collection", err)
	}
	syncDir(staging)

	s.mu.Lock()
	defer s.mu.Unlock()

	final := s.Path(documentID)
	if err := s.swap(staging, final); err != nil {
		_ = os.RemoveAll(staging)
		return "", domain.NewStorageError("failed to commit collection", err)
	}
	syncDir(s.baseDir)

	s.logger.Debug("collection committed", "document_id", documentID, "records", len(records), "path", final)
	return final, nil
}

// swap moves staging into final. An existing final directory is renamed
// aside first and restored if the second rename fails.
func (s *BoltStore) swap(staging, final string) error {
	var aside string
	if _, err := os.Stat(final); err == nil {
		aside = staging + ".old"
		if err := s.rename(final, aside); err != nil {
			return fmt.Errorf("move previous collection aside: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := s.rename(staging, final); err != nil {
		if aside != "" {
			if rerr := s.rename(aside, final); rerr != nil {
				s.logger.Error("failed to restore previous collection", "path", final, "error", rerr)
			}
		}
		return fmt.Errorf("move staging into place: %w", err)
	}

	if aside != "" {
		if err := os.RemoveAll(aside); err != nil {
			s.logger.Warn("failed to remove previous collection", "path", aside, "error", err)
		}
	}
	return nil
}

func writeCollection(path, documentID string, records []Record) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		if err := meta.Put(keyDocumentID, []byte(documentID)); err != nil {
			return err
		}

		b, err := tx.CreateBucket(bucketRecords)
		if err != nil {
			return err
		}
		for i, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put(recordKey(i), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}
	if err := db.Sync(); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

func recordKey(i int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}

func syncDir(dir string) {
	if f, err := os.Open(dir); err == nil {
		_ = f.Sync()
		f.Close()
	}
}

func (s *BoltStore) Load(ctx context.Context, documentID string) ([]Record, error) {
	if err := validateDocumentID(documentID); err != nil {
		return nil, err
	}

	path := filepath.Join(s.Path(documentID), CollectionFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrVectorCollectionAbsent
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, domain.NewStorageError("failed to open collection", err)
	}
	defer db.Close()

	var records []Record
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b == nil {
			return errors.New("records bucket missing")
		}
		return b.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, domain.NewStorageError("failed to read collection", err)
	}
	return records, nil
}

func (s *BoltStore) Delete(_ context.Context, documentID string) error {
	if err := validateDocumentID(documentID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.Path(documentID)); err != nil {
		return domain.NewStorageError("failed to delete collection", err)
	}
	return nil
}
