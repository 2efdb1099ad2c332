package testutil

import (
	"context"
	"crypto/md5" //nolint:gosec // S3 entity tags are MD5 based
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// Call describes one request reaching the MemoryStore. Attempt counts calls with
// the same Op, Key and PartNumber, starting at 1.
type Call struct {
	Op         string
	Key        string
	PartNumber int32
	Attempt    int
}

// StoredObject is an object held by the MemoryStore.
type StoredObject struct {
	Data         []byte
	ContentType  string
	CacheControl string
	Encryption   string
	Metadata     map[string]string
	ETag         string
	Modified     time.Time
}

type memUpload struct {
	key          string
	contentType  string
	cacheControl string
	metadata     map[string]string
	parts        map[int32][]byte
}

// MemoryStore is an in-memory transport.Transport following S3 semantics:
// single PUT entity tags are the quoted MD5 of the body, multipart entity tags
// are the MD5 of the concatenated part digests suffixed with the part count.
//
// Inject, when set, runs before every call and can fail it or block it.
type MemoryStore struct {
	Bucket string
	Inject func(ctx context.Context, call Call) error

	mu       sync.Mutex
	objects  map[string]*StoredObject
	uploads  map[string]*memUpload
	attempts map[string]int
	calls    map[string]int

	inFlight    int
	maxInFlight int
}

var _ transport.Transport = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Bucket:   "test-bucket",
		objects:  make(map[string]*StoredObject),
		uploads:  make(map[string]*memUpload),
		attempts: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// Object returns a stored object.
func (m *MemoryStore) Object(key string) (*StoredObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Put stores an object directly, bypassing Inject.
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = &StoredObject{Data: data, ETag: quotedMD5(data), Modified: time.Now()}
}

// OpenUploads returns the number of multipart sessions neither completed nor aborted.
func (m *MemoryStore) OpenUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// Calls returns how many times op was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Attempts returns how many times op was invoked for key and part. Part is zero
// for calls that are not about a single part.
func (m *MemoryStore) Attempts(op, key string, part int32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[fmt.Sprintf("%s/%s/%d", op, key, part)]
}

// MaxConcurrentParts returns the highest number of UploadPart calls seen at once.
func (m *MemoryStore) MaxConcurrentParts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func (m *MemoryStore) enter(ctx context.Context, op, key string, part int32) error {
	m.mu.Lock()
	id := fmt.Sprintf("%s/%s/%d", op, key, part)
	m.attempts[id]++
	m.calls[op]++
	call := Call{Op: op, Key: key, PartNumber: part, Attempt: m.attempts[id]}
	m.mu.Unlock()

	if m.Inject != nil {
		if err := m.Inject(ctx, call); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return errors.NewObjectError(op, key, errors.CodeCanceled, err)
	}
	return nil
}

// Target implements transport.Transport.
func (m *MemoryStore) Target() string {
	return "memory/" + m.Bucket
}

// PutObject implements transport.Transport.
func (m *MemoryStore) PutObject(ctx context.Context, in *transport.PutInput) (*transport.WriteResult, error) {
	if err := m.enter(ctx, "putObject", in.Key, 0); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, errors.NewObjectError("putObject", in.Key, errors.CodeNetwork, err)
	}
	if int64(len(data)) != in.Size {
		return nil, errors.Errorf("putObject", errors.CodeInvalidRequest,
			"content length %d does not match body of %d bytes", in.Size, len(data)).WithKey(in.Key)
	}

	obj := &StoredObject{
		Data:         data,
		ContentType:  in.ContentType,
		CacheControl: in.CacheControl,
		Encryption:   transport.SSEAlgorithm,
		Metadata:     copyMap(in.Metadata),
		ETag:         quotedMD5(data),
		Modified:     time.Now(),
	}
	m.mu.Lock()
	m.objects[in.Key] = obj
	m.mu.Unlock()
	return &transport.WriteResult{ETag: obj.ETag}, nil
}

// CreateMultipartUpload implements transport.Transport.
func (m *MemoryStore) CreateMultipartUpload(ctx context.Context, in *transport.CreateMultipartInput) (string, error) {
	if err := m.enter(ctx, "createMultipartUpload", in.Key, 0); err != nil {
		return "", err
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.uploads[id] = &memUpload{
		key:          in.Key,
		contentType:  in.ContentType,
		cacheControl: in.CacheControl,
		metadata:     copyMap(in.Metadata),
		parts:        make(map[int32][]byte),
	}
	m.mu.Unlock()
	return id, nil
}

// UploadPart implements transport.Transport.
func (m *MemoryStore) UploadPart(ctx context.Context, in *transport.PartInput) (string, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if err := m.enter(ctx, "uploadPart", in.Key, in.PartNumber); err != nil {
		return "", err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return "", errors.NewObjectError("uploadPart", in.Key, errors.CodeNetwork, err)
	}
	if int64(len(data)) != in.Size {
		return "", errors.Errorf("uploadPart", errors.CodeInvalidRequest,
			"part %d: content length %d does not match body of %d bytes", in.PartNumber, in.Size, len(data)).WithKey(in.Key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[in.UploadID]
	if !ok || up.key != in.Key {
		return "", errors.Errorf("uploadPart", errors.CodeNotFound, "no such upload %s", in.UploadID).WithKey(in.Key)
	}
	up.parts[in.PartNumber] = data
	return quotedMD5(data), nil
}

// CompleteMultipartUpload implements transport.Transport. Parts must be listed in
// ascending order with the entity tags returned by UploadPart.
func (m *MemoryStore) CompleteMultipartUpload(
	ctx context.Context,
	key, uploadID string,
	parts []transport.CompletedPart,
) (*transport.WriteResult, error) {
	if err := m.enter(ctx, "completeMultipartUpload", key, 0); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return nil, errors.Errorf("completeMultipartUpload", errors.CodeNotFound, "no such upload %s", uploadID).WithKey(key)
	}
	if len(parts) == 0 {
		return nil, errors.Errorf("completeMultipartUpload", errors.CodeInvalidRequest, "no parts").WithKey(key)
	}

	var (
		data   []byte
		bodies [][]byte
	)
	for i, p := range parts {
		if i > 0 && p.PartNumber <= parts[i-1].PartNumber {
			return nil, errors.Errorf("completeMultipartUpload", errors.CodeInvalidRequest,
				"parts not in ascending order at %d", p.PartNumber).WithKey(key)
		}
		body, ok := up.parts[p.PartNumber]
		if !ok || quotedMD5(body) != p.ETag {
			return nil, errors.Errorf("completeMultipartUpload", errors.CodeInvalidRequest,
				"invalid part %d", p.PartNumber).WithKey(key)
		}
		bodies = append(bodies, body)
		data = append(data, body...)
	}
	etag := MultipartETag(bodies...)

	m.objects[key] = &StoredObject{
		Data:         data,
		ContentType:  up.contentType,
		CacheControl: up.cacheControl,
		Encryption:   transport.SSEAlgorithm,
		Metadata:     up.metadata,
		ETag:         etag,
		Modified:     time.Now(),
	}
	delete(m.uploads, uploadID)
	return &transport.WriteResult{ETag: etag}, nil
}

// AbortMultipartUpload implements transport.Transport.
func (m *MemoryStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := m.enter(ctx, "abortMultipartUpload", key, 0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uploads[uploadID]; !ok {
		return errors.Errorf("abortMultipartUpload", errors.CodeNotFound, "no such upload %s", uploadID).WithKey(key)
	}
	delete(m.uploads, uploadID)
	return nil
}

// HeadObject implements transport.Transport.
func (m *MemoryStore) HeadObject(ctx context.Context, key string) (*transport.ObjectInfo, error) {
	if err := m.enter(ctx, "headObject", key, 0); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, errors.NewObjectError("headObject", key, errors.CodeNotFound, nil).WithStatus(http.StatusNotFound)
	}
	return &transport.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.Data)),
		ContentType:  obj.ContentType,
		ETag:         obj.ETag,
		CacheControl: obj.CacheControl,
		LastModified: obj.Modified,
		Metadata:     copyMap(obj.Metadata),
	}, nil
}

// DeleteObject implements transport.Transport. Deleting a missing key succeeds.
func (m *MemoryStore) DeleteObject(ctx context.Context, key string) error {
	if err := m.enter(ctx, "deleteObject", key, 0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// DeleteObjects implements transport.Transport. Inject sees one "deleteObjects"
// call for the batch, keyed by its first key, and one "deleteKey" call per key;
// a per-key error becomes a DeleteFailure.
func (m *MemoryStore) DeleteObjects(ctx context.Context, keys []string) ([]transport.DeleteFailure, error) {
	if err := transport.ValidateDeleteBatch(keys); err != nil {
		return nil, err
	}
	first := ""
	if len(keys) > 0 {
		first = keys[0]
	}
	if err := m.enter(ctx, "deleteObjects", first, 0); err != nil {
		return nil, err
	}

	var failures []transport.DeleteFailure
	for _, key := range keys {
		if err := m.enter(ctx, "deleteKey", key, 0); err != nil {
			failures = append(failures, transport.DeleteFailure{Key: key, Code: errors.CodeOf(err), Message: err.Error()})
			continue
		}
		m.mu.Lock()
		delete(m.objects, key)
		m.mu.Unlock()
	}
	return failures, nil
}

// ListObjects implements transport.Transport. The continuation token is the
// last key of the previous page.
func (m *MemoryStore) ListObjects(ctx context.Context, prefix, token string, maxKeys int32) (*transport.ListPage, error) {
	if err := m.enter(ctx, "listObjects", prefix, 0); err != nil {
		return nil, err
	}
	if maxKeys <= 0 || maxKeys > transport.MaxListKeys {
		maxKeys = transport.MaxListKeys
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := &transport.ListPage{}
	for i, k := range keys {
		if i == int(maxKeys) {
			page.NextToken = keys[i-1]
			break
		}
		obj := m.objects[k]
		page.Objects = append(page.Objects, transport.ObjectInfo{
			Key:          k,
			Size:         int64(len(obj.Data)),
			ETag:         obj.ETag,
			LastModified: obj.Modified,
		})
	}
	return page, nil
}

// PresignGetObject implements transport.Transport.
func (m *MemoryStore) PresignGetObject(ctx context.Context, key string, expiry time.Duration) (*uploadtypes.PresignedURL, error) {
	if err := m.enter(ctx, "presignGetObject", key, 0); err != nil {
		return nil, err
	}
	expiry = transport.ExpiryOrDefault(expiry)
	return &uploadtypes.PresignedURL{
		URL:     m.url(key, expiry),
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiry),
		Headers: map[string]string{},
	}, nil
}

// PresignPutObject implements transport.Transport.
func (m *MemoryStore) PresignPutObject(
	ctx context.Context,
	key, contentType, cacheControl string,
	expiry time.Duration,
) (*uploadtypes.PresignedURL, error) {
	if err := m.enter(ctx, "presignPutObject", key, 0); err != nil {
		return nil, err
	}
	expiry = transport.ExpiryOrDefault(expiry)
	return &uploadtypes.PresignedURL{
		URL:     m.url(key, expiry),
		Method:  http.MethodPut,
		Expires: time.Now().Add(expiry),
		Headers: transport.WriteHeaders(contentType, cacheControl),
	}, nil
}

// PresignPostPolicy implements transport.Transport. The fields echo the policy
// inputs so tests can inspect them.
func (m *MemoryStore) PresignPostPolicy(ctx context.Context, in *transport.PostPolicyInput) (*uploadtypes.PresignedPost, error) {
	if err := m.enter(ctx, "presignPostPolicy", in.Key, 0); err != nil {
		return nil, err
	}
	expiry := transport.ExpiryOrDefault(in.Expiry)
	fields := map[string]string{
		"key":                          in.Key,
		"x-amz-server-side-encryption": transport.SSEAlgorithm,
		"policy-max-size":              fmt.Sprint(in.MaxSize),
	}
	if in.ContentType != "" {
		fields["Content-Type"] = in.ContentType
	}
	if in.CacheControl != "" {
		fields["Cache-Control"] = in.CacheControl
	}
	for _, c := range in.Conditions {
		fields["policy-"+c.Match+"-"+c.Field] = c.Value
	}
	return &uploadtypes.PresignedPost{
		URL:     "memory://" + m.Bucket,
		Fields:  fields,
		Expires: time.Now().Add(expiry),
	}, nil
}

func (m *MemoryStore) url(key string, expiry time.Duration) string {
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.Bucket, key, int(expiry.Seconds()))
}

func quotedMD5(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // entity tag
	return fmt.Sprintf("%q", hex.EncodeToString(sum[:]))
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MultipartETag computes the entity tag S3 assigns to an object uploaded in parts.
func MultipartETag(parts ...[]byte) string {
	var digests []byte
	for _, p := range parts {
		sum := md5.Sum(p) //nolint:gosec // entity tag
		digests = append(digests, sum[:]...)
	}
	sum := md5.Sum(digests) //nolint:gosec // entity tag
	return fmt.Sprintf("%q", fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:]), len(parts)))
}
