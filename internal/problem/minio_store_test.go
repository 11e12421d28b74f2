package problem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"codebattle/internal/battle/model"
	"codebattle/internal/common/storage"

	"github.com/klauspost/compress/zstd"
)

// fakeObjectStorage serves objects from a map keyed by object key.
type fakeObjectStorage struct {
	objects map[string][]byte
}

func (f *fakeObjectStorage) GetObject(ctx context.Context, bucket, objectKey string) (storage.ObjectReader, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectKey)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectKey] = data
	return nil
}

func (f *fakeObjectStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return storage.ObjectStat{}, fmt.Errorf("object %s not found", objectKey)
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func compressPack(t *testing.T, p *Problem) []byte {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal pack: %v", err)
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := enc.Write(raw); err != nil {
		t.Fatalf("compress pack: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	return buf.Bytes()
}

func newFakeStore(t *testing.T, index difficultyIndex) *MinIOStore {
	t.Helper()
	raw, err := json.Marshal(index)
	if err != nil {
		t.Fatalf("marshal index: %v", err)
	}
	objects := &fakeObjectStorage{objects: map[string][]byte{indexObjectKey: raw}}
	store, err := NewMinIOStore(objects, MinIOStoreConfig{Bucket: "problems"})
	if err != nil {
		t.Fatalf("NewMinIOStore: %v", err)
	}
	return store
}

func TestGetProblemLoadsPack(t *testing.T) {
	want := &Problem{
		ID:            "two-sum",
		Title:         "Two Sum",
		Difficulty:    model.DifficultyEasy,
		TimeLimitMs:   1000,
		MemoryLimitMB: 64,
		TestCases:     []TestCase{{Input: "1 2", ExpectedOutput: "3"}},
	}
	store := newFakeStore(t, difficultyIndex{Easy: []string{"two-sum"}})
	fake := store.store.(*fakeObjectStorage)
	fake.objects[packKeyPrefix+"two-sum"+packKeySuffix] = compressPack(t, want)

	got, err := store.GetProblem(context.Background(), "two-sum")
	if err != nil {
		t.Fatalf("GetProblem: %v", err)
	}
	if got.Title != want.Title || len(got.TestCases) != 1 {
		t.Fatalf("problem = %+v, want %+v", got, want)
	}

	if _, err := store.GetProblem(context.Background(), "missing"); err == nil {
		t.Fatal("missing pack must error")
	}
}

func TestPickProblemsFallsBackAcrossDifficulties(t *testing.T) {
	store := newFakeStore(t, difficultyIndex{
		Easy:   []string{"e1", "e2", "e3"},
		Medium: []string{"m1", "m2"},
		Hard:   []string{"h1"},
	})

	picked, err := store.PickProblems(context.Background(), model.DifficultyEasy, 5)
	if err != nil {
		t.Fatalf("PickProblems: %v", err)
	}
	if len(picked) != 5 {
		t.Fatalf("picked %d problems, want 5", len(picked))
	}

	seen := make(map[string]bool)
	for _, id := range picked {
		if seen[id] {
			t.Fatalf("duplicate pick %s", id)
		}
		seen[id] = true
	}
	// The short easy pool must be used in full before topping up.
	for _, id := range []string{"e1", "e2", "e3"} {
		if !seen[id] {
			t.Fatalf("pick %v is missing easy problem %s", picked, id)
		}
	}
}

func TestPickProblemsNotEnoughOverall(t *testing.T) {
	store := newFakeStore(t, difficultyIndex{Easy: []string{"e1"}, Medium: []string{"m1"}})

	if _, err := store.PickProblems(context.Background(), model.DifficultyEasy, 5); err == nil {
		t.Fatal("expected an error when the whole catalogue is too small")
	}
}
