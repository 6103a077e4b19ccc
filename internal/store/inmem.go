// Package store provides storage backends for CoachPipe.
//
// This file implements a mutex-guarded in-memory store used by tests and
// zero-config runs. It enforces the same uniqueness semantics as the SQL
// backends, including ErrEnrollmentExists on duplicate (user, sequence)
// pairs and idempotent tag upserts.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

type InMemoryStore struct {
	mu              sync.RWMutex
	users           map[string]models.User
	progress        map[string][]models.ProgressRecord // keyed by user ID
	sequences       map[string]models.Sequence         // keyed by sequence ID
	sequenceBySlug  map[string]string                  // slug -> sequence ID
	steps           map[string][]models.SequenceStep   // keyed by sequence ID
	enrollments     map[string]models.Enrollment       // keyed by enrollment ID
	enrollmentByKey map[string]string                  // userID+"\x00"+sequenceID -> enrollment ID
	tags            map[string]map[string]models.Tag   // userID -> tag -> record
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:           make(map[string]models.User),
		progress:        make(map[string][]models.ProgressRecord),
		sequences:       make(map[string]models.Sequence),
		sequenceBySlug:  make(map[string]string),
		steps:           make(map[string][]models.SequenceStep),
		enrollments:     make(map[string]models.Enrollment),
		enrollmentByKey: make(map[string]string),
		tags:            make(map[string]map[string]models.Tag),
	}
}

func enrollmentKey(userID, sequenceID string) string {
	return userID + "\x00" + sequenceID
}

// SaveUser stores or updates a user record.
func (s *InMemoryStore) SaveUser(u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// GetUser retrieves a user by ID.
func (s *InMemoryStore) GetUser(id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// evaluable mirrors the SQL backends' candidate filter.
func evaluable(u models.User) bool {
	return u.IsActive && !u.IsTest && !u.SignupAt.IsZero()
}

// ListUsersNeverLoggedIn returns evaluable users who have never logged in and
// signed up at or before signupBefore.
func (s *InMemoryStore) ListUsersNeverLoggedIn(signupBefore time.Time) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []models.User
	for _, u := range s.users {
		if evaluable(u) && u.LastLoginAt == nil && !u.SignupAt.After(signupBefore) {
			users = append(users, u)
		}
	}
	sortUsers(users)
	return users, nil
}

// ListUsersNeverStarted returns evaluable users whose last login is at or
// before loginBefore and who have no progress records at all.
func (s *InMemoryStore) ListUsersNeverStarted(loginBefore time.Time) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []models.User
	for _, u := range s.users {
		if evaluable(u) && u.LastLoginAt != nil && !u.LastLoginAt.After(loginBefore) && len(s.progress[u.ID]) == 0 {
			users = append(users, u)
		}
	}
	sortUsers(users)
	return users, nil
}

// ListUsersAbandoned returns evaluable users with progress whose latest
// learning activity is at or before activityBefore.
func (s *InMemoryStore) ListUsersAbandoned(activityBefore time.Time) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []models.User
	for _, u := range s.users {
		if !evaluable(u) || len(s.progress[u.ID]) == 0 {
			continue
		}
		at := s.latestActivityLocked(u)
		if at != nil && !at.After(activityBefore) {
			users = append(users, u)
		}
	}
	sortUsers(users)
	return users, nil
}

func sortUsers(users []models.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}

func (s *InMemoryStore) latestActivityLocked(u models.User) *time.Time {
	var latest *time.Time
	for _, rec := range s.progress[u.ID] {
		t := rec.UpdatedAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	if latest == nil {
		return u.LastLoginAt
	}
	return latest
}

// LatestActivityAt returns the user's most recent learning activity, falling
// back to the last login when no progress records exist.
func (s *InMemoryStore) LatestActivityAt(userID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return s.latestActivityLocked(u), nil
}

// AddProgressRecord stores a lesson progress record.
func (s *InMemoryStore) AddProgressRecord(rec models.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.progress[rec.UserID] {
		if existing.ID == rec.ID {
			s.progress[rec.UserID][i] = rec
			return nil
		}
	}
	s.progress[rec.UserID] = append(s.progress[rec.UserID], rec)
	return nil
}

// ListProgressRecords retrieves all progress records for a user.
func (s *InMemoryStore) ListProgressRecords(userID string) ([]models.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]models.ProgressRecord, len(s.progress[userID]))
	copy(records, s.progress[userID])
	sort.Slice(records, func(i, j int) bool { return records[i].UpdatedAt.After(records[j].UpdatedAt) })
	return records, nil
}

// CountProgressRecords returns the number of progress records for a user.
func (s *InMemoryStore) CountProgressRecords(userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.progress[userID]), nil
}

// SaveSequence stores or updates a sequence. Counters are preserved on
// update; they only move via the increment methods.
func (s *InMemoryStore) SaveSequence(seq models.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.sequenceBySlug[seq.Slug]; ok {
		existing := s.sequences[existingID]
		existing.Name = seq.Name
		existing.IsActive = seq.IsActive
		existing.UpdatedAt = seq.UpdatedAt
		s.sequences[existingID] = existing
		return nil
	}
	s.sequences[seq.ID] = seq
	s.sequenceBySlug[seq.Slug] = seq.ID
	return nil
}

// GetSequence retrieves a sequence by ID.
func (s *InMemoryStore) GetSequence(id string) (*models.Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok := s.sequences[id]
	if !ok {
		return nil, nil
	}
	return &seq, nil
}

// GetSequenceBySlug retrieves a sequence by its slug.
func (s *InMemoryStore) GetSequenceBySlug(slug string) (*models.Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sequenceBySlug[slug]
	if !ok {
		return nil, nil
	}
	seq := s.sequences[id]
	return &seq, nil
}

// ListSequences retrieves all sequences.
func (s *InMemoryStore) ListSequences() ([]models.Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sequences := make([]models.Sequence, 0, len(s.sequences))
	for _, seq := range s.sequences {
		sequences = append(sequences, seq)
	}
	sort.Slice(sequences, func(i, j int) bool { return sequences[i].CreatedAt.Before(sequences[j].CreatedAt) })
	return sequences, nil
}

// SaveSequenceStep stores or updates one step of a sequence.
func (s *InMemoryStore) SaveSequenceStep(step models.SequenceStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.steps[step.SequenceID]
	for i, existing := range steps {
		if existing.StepIndex == step.StepIndex {
			steps[i] = step
			return nil
		}
	}
	s.steps[step.SequenceID] = append(steps, step)
	return nil
}

// ListSequenceSteps retrieves a sequence's steps ordered by step index.
func (s *InMemoryStore) ListSequenceSteps(sequenceID string) ([]models.SequenceStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := make([]models.SequenceStep, len(s.steps[sequenceID]))
	copy(steps, s.steps[sequenceID])
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepIndex < steps[j].StepIndex })
	return steps, nil
}

// IncrementSequenceEnrolled atomically increments a sequence's enrolled counter.
func (s *InMemoryStore) IncrementSequenceEnrolled(sequenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sequences[sequenceID]
	if !ok {
		return models.ErrSequenceNotFound
	}
	seq.TotalEnrolled++
	seq.UpdatedAt = time.Now().UTC()
	s.sequences[sequenceID] = seq
	return nil
}

// IncrementSequenceExited atomically increments a sequence's exited counter.
func (s *InMemoryStore) IncrementSequenceExited(sequenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sequences[sequenceID]
	if !ok {
		return models.ErrSequenceNotFound
	}
	seq.TotalExited++
	seq.UpdatedAt = time.Now().UTC()
	s.sequences[sequenceID] = seq
	return nil
}

// CreateEnrollment inserts a new enrollment, enforcing the (user, sequence)
// uniqueness under the store lock the way the SQL schema constraint does.
func (s *InMemoryStore) CreateEnrollment(e models.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := enrollmentKey(e.UserID, e.SequenceID)
	if _, ok := s.enrollmentByKey[key]; ok {
		return ErrEnrollmentExists
	}
	s.enrollments[e.ID] = e
	s.enrollmentByKey[key] = e.ID
	return nil
}

// GetEnrollment retrieves an enrollment by ID.
func (s *InMemoryStore) GetEnrollment(id string) (*models.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enrollments[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// GetEnrollmentByUserAndSequence looks up the (user, sequence) pair
// regardless of status.
func (s *InMemoryStore) GetEnrollmentByUserAndSequence(userID, sequenceID string) (*models.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.enrollmentByKey[enrollmentKey(userID, sequenceID)]
	if !ok {
		return nil, nil
	}
	e := s.enrollments[id]
	return &e, nil
}

// ListActiveEnrollments retrieves all active enrollments under a sequence.
func (s *InMemoryStore) ListActiveEnrollments(sequenceID string) ([]models.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var enrollments []models.Enrollment
	for _, e := range s.enrollments {
		if e.SequenceID == sequenceID && e.Status == models.EnrollmentStatusActive {
			enrollments = append(enrollments, e)
		}
	}
	sortEnrollments(enrollments)
	return enrollments, nil
}

// ListDueEnrollments retrieves active enrollments whose next send time has
// arrived.
func (s *InMemoryStore) ListDueEnrollments(now time.Time) ([]models.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var enrollments []models.Enrollment
	for _, e := range s.enrollments {
		if e.Status == models.EnrollmentStatusActive && !e.NextSendAt.After(now) {
			enrollments = append(enrollments, e)
		}
	}
	sortEnrollments(enrollments)
	return enrollments, nil
}

func sortEnrollments(enrollments []models.Enrollment) {
	sort.Slice(enrollments, func(i, j int) bool { return enrollments[i].ID < enrollments[j].ID })
}

// MarkEnrollmentExited transitions an active enrollment to exited. Repeated
// calls are no-ops and report false.
func (s *InMemoryStore) MarkEnrollmentExited(id, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusActive {
		return false, nil
	}
	exitedAt := at
	e.Status = models.EnrollmentStatusExited
	e.ExitedAt = &exitedAt
	e.ExitReason = reason
	e.UpdatedAt = at
	s.enrollments[id] = e
	return true, nil
}

// AdvanceEnrollment moves an active enrollment to its next step and send time.
func (s *InMemoryStore) AdvanceEnrollment(id string, nextStepIndex int, nextSendAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return models.ErrEnrollmentNotFound
	}
	if e.Status != models.EnrollmentStatusActive {
		return nil
	}
	e.CurrentStepIndex = nextStepIndex
	e.NextSendAt = nextSendAt
	e.UpdatedAt = time.Now().UTC()
	s.enrollments[id] = e
	return nil
}

// AddUserTag upserts a tag on a user. Adding an existing tag is a no-op.
func (s *InMemoryStore) AddUserTag(userID, tag string) error {
	if err := models.ValidateTag(tag); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	userTags, ok := s.tags[userID]
	if !ok {
		userTags = make(map[string]models.Tag)
		s.tags[userID] = userTags
	}
	if _, exists := userTags[tag]; exists {
		return nil
	}
	userTags[tag] = models.Tag{UserID: userID, Tag: tag, CreatedAt: time.Now().UTC()}
	return nil
}

// ListUserTags retrieves all tags attached to a user.
func (s *InMemoryStore) ListUserTags(userID string) ([]models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tags []models.Tag
	for _, t := range s.tags[userID] {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Tag < tags[j].Tag })
	return tags, nil
}

// UserHasTag reports whether the user carries the given tag.
func (s *InMemoryStore) UserHasTag(userID, tag string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tags[userID][tag]
	return ok, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
