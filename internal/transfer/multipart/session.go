package multipart

import (
	"fmt"
	"sort"
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
)

// State is the lifecycle state of a multipart session.
type State int

// Session states. Open leads to Completing then Completed, or to Aborting then
// Aborted. Completed and Aborted are terminal.
const (
	StateOpen State = iota
	StateCompleting
	StateCompleted
	StateAborting
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCompleting:
		return "completing"
	case StateCompleted:
		return "completed"
	case StateAborting:
		return "aborting"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one remote multipart upload. It is owned by a single Upload call
// and discarded when that call returns.
type Session struct {
	key      string
	uploadID string
	planned  int

	mu    sync.Mutex
	state State
	parts map[int32]string
}

func newSession(key, uploadID string, planned int) *Session {
	return &Session{
		key:      key,
		uploadID: uploadID,
		planned:  planned,
		parts:    make(map[int32]string, planned),
	}
}

// Key returns the object key.
func (s *Session) Key() string { return s.key }

// UploadID returns the store's identifier for the session.
func (s *Session) UploadID() string { return s.uploadID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddPart records an uploaded part. Parts can only be added while the session is open.
func (s *Session) AddPart(partNumber int32, etag string) error {
	if etag == "" {
		return fmt.Errorf("part %d has no entity tag", partNumber)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return fmt.Errorf("session is %s", s.state)
	}
	if partNumber < 1 || int(partNumber) > s.planned {
		return fmt.Errorf("part %d outside the plan of %d parts", partNumber, s.planned)
	}
	s.parts[partNumber] = etag
	return nil
}

// Parts returns the recorded parts in ascending part number order.
func (s *Session) Parts() []transport.CompletedPart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partsLocked()
}

func (s *Session) partsLocked() []transport.CompletedPart {
	parts := make([]transport.CompletedPart, 0, len(s.parts))
	for n, etag := range s.parts {
		parts = append(parts, transport.CompletedPart{PartNumber: n, ETag: etag})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts
}

// beginComplete moves Open to Completing and returns the ordered parts. It
// fails unless every planned part has an entity tag.
func (s *Session) beginComplete() ([]transport.CompletedPart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return nil, fmt.Errorf("cannot complete a %s session", s.state)
	}
	if len(s.parts) != s.planned {
		return nil, fmt.Errorf("%d of %d parts recorded", len(s.parts), s.planned)
	}
	s.state = StateCompleting
	return s.partsLocked(), nil
}

func (s *Session) finishComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCompleting {
		s.state = StateCompleted
	}
}

// beginAbort moves an open or completing session to Aborting. It returns false
// when the session already finished or an abort is under way, so the remote
// abort is issued at most once.
func (s *Session) beginAbort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateOpen, StateCompleting:
		s.state = StateAborting
		return true
	default:
		return false
	}
}

func (s *Session) finishAbort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateAborted
}

// live reports whether the session still holds a remote upload that nobody has
// completed or aborted.
func (s *Session) live() bool {
	st := s.State()
	return st == StateOpen || st == StateCompleting
}
