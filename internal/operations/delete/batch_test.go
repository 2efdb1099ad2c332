package delete

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
)

func testGovernor() *retry.Governor {
	return retry.New(retry.DefaultPolicy(), nil,
		retry.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		retry.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
}

func seed(store *testutil.MemoryStore, n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("uploads/object-%05d", i)
		store.Put(keys[i], []byte("x"))
	}
	return keys
}

func TestBatchDeleter_Delete(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.Put("a", []byte("x"))
	d := New(store, testGovernor(), 0)

	require.NoError(t, d.Delete(context.Background(), "a"))
	_, ok := store.Object("a")
	assert.False(t, ok)

	require.NoError(t, d.Delete(context.Background(), "a"), "missing keys delete cleanly")

	err := d.Delete(context.Background(), "../a")
	assert.Equal(t, errors.CodeInvalidKey, errors.CodeOf(err))
}

func TestBatchDeleter_Namespaces(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.Put("tenant-a/x", []byte("x"))
	store.Put("tenant-b/y", []byte("y"))
	d := New(store, testGovernor(), 0, WithNamespaces("tenant-a/"))

	err := d.Delete(context.Background(), "tenant-b/y")
	assert.Equal(t, errors.CodeInvalidKey, errors.CodeOf(err))

	res, err := d.DeleteBatch(context.Background(), []string{"tenant-a/x", "tenant-b/y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a/x"}, res.Deleted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "tenant-b/y", res.Errors[0].Key)
	assert.Equal(t, string(errors.CodeInvalidKey), res.Errors[0].Code)

	_, ok := store.Object("tenant-b/y")
	assert.True(t, ok)
	assert.Zero(t, store.Calls("deleteObject"))
}

func TestBatchDeleter_DeleteBatch(t *testing.T) {
	tests := []struct {
		name  string
		keys  func(store *testutil.MemoryStore) []string
		setup func(store *testutil.MemoryStore)
		want  func(t *testing.T, store *testutil.MemoryStore, deleted []string, failed map[string]string)
	}{
		{
			name: "empty",
			keys: func(*testutil.MemoryStore) []string { return nil },
			want: func(t *testing.T, store *testutil.MemoryStore, deleted []string, failed map[string]string) {
				assert.Empty(t, deleted)
				assert.Empty(t, failed)
				assert.Zero(t, store.Calls("deleteObjects"))
			},
		},
		{
			name: "split at the batch limit",
			keys: func(store *testutil.MemoryStore) []string { return seed(store, 2500) },
			want: func(t *testing.T, store *testutil.MemoryStore, deleted []string, failed map[string]string) {
				assert.Len(t, deleted, 2500)
				assert.Empty(t, failed)
				assert.Equal(t, 3, store.Calls("deleteObjects"))
				assert.True(t, sort.StringsAreSorted(deleted), "input order is kept")
			},
		},
		{
			name: "invalid and duplicate keys",
			keys: func(store *testutil.MemoryStore) []string {
				return append(seed(store, 2), "uploads/object-00000", "bad//key")
			},
			want: func(t *testing.T, _ *testutil.MemoryStore, deleted []string, failed map[string]string) {
				assert.Equal(t, []string{"uploads/object-00000", "uploads/object-00001"}, deleted)
				assert.Equal(t, map[string]string{"bad//key": string(errors.CodeInvalidKey)}, failed)
			},
		},
		{
			name: "per-key refusal",
			keys: func(store *testutil.MemoryStore) []string { return seed(store, 3) },
			setup: func(store *testutil.MemoryStore) {
				store.Inject = func(_ context.Context, call testutil.Call) error {
					if call.Op == "deleteKey" && call.Key == "uploads/object-00001" {
						return errors.NewError(call.Op, errors.CodeAuthentication, stderrors.New("AccessDenied"))
					}
					return nil
				}
			},
			want: func(t *testing.T, store *testutil.MemoryStore, deleted []string, failed map[string]string) {
				assert.Equal(t, []string{"uploads/object-00000", "uploads/object-00002"}, deleted)
				assert.Equal(t, map[string]string{"uploads/object-00001": string(errors.CodeAuthentication)}, failed)
				_, ok := store.Object("uploads/object-00001")
				assert.True(t, ok)
			},
		},
		{
			name: "one batch fails as a whole",
			keys: func(store *testutil.MemoryStore) []string { return seed(store, 1500) },
			setup: func(store *testutil.MemoryStore) {
				store.Inject = func(_ context.Context, call testutil.Call) error {
					if call.Op == "deleteObjects" && call.Key == "uploads/object-01000" {
						return errors.NewError(call.Op, errors.CodeAuthentication, stderrors.New("AccessDenied"))
					}
					return nil
				}
			},
			want: func(t *testing.T, _ *testutil.MemoryStore, deleted []string, failed map[string]string) {
				assert.Len(t, deleted, 1000)
				assert.Len(t, failed, 500)
				assert.Equal(t, string(errors.CodeAuthentication), failed["uploads/object-01499"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMemoryStore()
			keys := tt.keys(store)
			if tt.setup != nil {
				tt.setup(store)
			}

			res, err := New(store, testGovernor(), 2).DeleteBatch(context.Background(), keys)
			require.NoError(t, err)

			failed := make(map[string]string, len(res.Errors))
			for _, e := range res.Errors {
				failed[e.Key] = e.Code
			}
			tt.want(t, store, res.Deleted, failed)
		})
	}
}

func TestBatchDeleter_DeleteBatch_Canceled(t *testing.T) {
	mock := testutil.NewMockTransport()
	keys := seed(mock.Store, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(mock, testGovernor(), 1).DeleteBatch(ctx, keys)
	assert.ErrorIs(t, err, errors.ErrCanceled)
	assert.Len(t, res.Errors, 10)
	assert.Empty(t, res.Deleted)
}

func TestSplitIntoBatches(t *testing.T) {
	d := New(nil, nil, 1)
	keys := make([]string, 2001)
	batches := d.splitIntoBatches(keys, transport.MaxDeleteBatch)
	require.Len(t, batches, 3)
	assert.Len(t, batches[2], 1)
}
