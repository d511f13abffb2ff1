package store

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// resultTTL bounds how long sheet records and manifests outlive their job.
const resultTTL = 7 * 24 * time.Hour

// SheetRecord points at one rendered sheet on disk.
type SheetRecord struct {
	Number int    `json:"number"`
	Path   string `json:"path"`
	Pages  int    `json:"pages"`
}

// ResultStore keeps rendered-sheet records and the composed manifest per job.
type ResultStore struct {
	client *redis.Client
}

func NewResultStore(redisURL string) (*ResultStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &ResultStore{client: c}, nil
}

func (s *ResultStore) Close() error { return s.client.Close() }

func (s *ResultStore) sheetKey(jobID string, n int) string {
	return fmt.Sprintf("job:%s:sheet:%d", jobID, n)
}

func (s *ResultStore) manifestKey(jobID string) string {
	return fmt.Sprintf("job:%s:manifest", jobID)
}

func (s *ResultStore) SaveSheet(ctx context.Context, jobID string, n int, path string, pages int) error {
	key := s.sheetKey(jobID, n)
	m := map[string]interface{}{"path": path, "pages": pages}
	if err := s.client.HSet(ctx, key, m).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, resultTTL).Err()
}

func (s *ResultStore) GetSheet(ctx context.Context, jobID string, n int) (SheetRecord, bool, error) {
	res, err := s.client.HGetAll(ctx, s.sheetKey(jobID, n)).Result()
	if err != nil {
		return SheetRecord{}, false, err
	}
	if len(res) == 0 {
		return SheetRecord{}, false, nil
	}
	rec := SheetRecord{Number: n, Path: res["path"]}
	fmt.Sscan(res["pages"], &rec.Pages)
	return rec, true, nil
}

// ListSheets returns records for sheets 1..total, skipping gaps.
func (s *ResultStore) ListSheets(ctx context.Context, jobID string, total int) ([]SheetRecord, error) {
	out := make([]SheetRecord, 0, total)
	for i := 1; i <= total; i++ {
		rec, ok, err := s.GetSheet(ctx, jobID, i)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *ResultStore) SaveManifest(ctx context.Context, jobID string, manifest []byte) error {
	return s.client.Set(ctx, s.manifestKey(jobID), manifest, resultTTL).Err()
}

// GetManifest returns the stored manifest, or nil if the job has none.
func (s *ResultStore) GetManifest(ctx context.Context, jobID string) ([]byte, error) {
	res, err := s.client.Get(ctx, s.manifestKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return res, err
}
