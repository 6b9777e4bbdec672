package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edukita/center-ops-api/internal/dto"
	"github.com/edukita/center-ops-api/internal/models"
	"github.com/edukita/center-ops-api/internal/repository"
	appErrors "github.com/edukita/center-ops-api/pkg/errors"
)

// fakeState is an in-memory stand-in for the database. The fake unit of work
// clones it per transaction and commits the clone back only on success, so
// atomicity behaves like the real thing.
type fakeState struct {
	requests    map[string]models.ChangeRequest
	sessions    map[string]models.SessionDetail
	assignments map[string]models.TeachingAssignment
	resources   map[string]models.Resource
	timeslots   map[string]models.Timeslot
	users       map[string]models.User
}

func newFakeState() *fakeState {
	return &fakeState{
		requests:    map[string]models.ChangeRequest{},
		sessions:    map[string]models.SessionDetail{},
		assignments: map[string]models.TeachingAssignment{},
		resources:   map[string]models.Resource{},
		timeslots:   map[string]models.Timeslot{},
		users:       map[string]models.User{},
	}
}

func (s *fakeState) clone() *fakeState {
	out := newFakeState()
	for k, v := range s.requests {
		out.requests[k] = v
	}
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	for k, v := range s.assignments {
		out.assignments[k] = v
	}
	out.resources = s.resources
	out.timeslots = s.timeslots
	out.users = s.users
	return out
}

func assignmentKey(sessionID, teacherID string) string {
	return sessionID + "|" + teacherID
}

type fakeRequestStore struct {
	state     *fakeState
	createErr error
}

func (f *fakeRequestStore) Create(_ context.Context, request *models.ChangeRequest) error {
	if f.createErr != nil {
		return f.createErr
	}
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.RequestPending
	}
	if request.SubmittedAt.IsZero() {
		request.SubmittedAt = time.Now().UTC()
	}
	f.state.requests[request.ID] = *request
	return nil
}

func (f *fakeRequestStore) GetByID(_ context.Context, id string) (*models.ChangeRequest, error) {
	request, ok := f.state.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &request, nil
}

func (f *fakeRequestStore) GetForDecision(ctx context.Context, id string) (*models.ChangeRequest, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRequestStore) List(_ context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	var out []models.ChangeRequest
	for _, request := range f.state.requests {
		if filter.TeacherID != "" && request.TeacherID != filter.TeacherID {
			continue
		}
		if filter.ReplacementTeacherID != "" &&
			(request.ReplacementTeacherID == nil || *request.ReplacementTeacherID != filter.ReplacementTeacherID) {
			continue
		}
		if filter.SessionID != "" && request.SessionID != filter.SessionID {
			continue
		}
		if filter.Kind != "" && request.Kind != filter.Kind {
			continue
		}
		if len(filter.Status) > 0 {
			matched := false
			for _, status := range filter.Status {
				if request.Status == status {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeRequestStore) UpdateDecision(_ context.Context, params repository.DecisionParams) error {
	request, ok := f.state.requests[params.ID]
	if !ok || request.Status != params.FromStatus {
		return sql.ErrNoRows
	}
	request.Status = params.Status
	if params.DecidedBy != nil {
		request.DecidedBy = params.DecidedBy
	}
	if params.DecidedAt != nil {
		request.DecidedAt = params.DecidedAt
	}
	if params.Note != nil {
		request.Note = params.Note
	}
	if params.NewSessionID != nil {
		request.NewSessionID = params.NewSessionID
	}
	if params.ClearReplacement {
		request.ReplacementTeacherID = nil
	} else if params.SetReplacement != nil {
		request.ReplacementTeacherID = params.SetReplacement
	}
	f.state.requests[params.ID] = request
	return nil
}

type fakeSessionStore struct{ state *fakeState }

func (f *fakeSessionStore) GetByID(_ context.Context, id string) (*models.SessionDetail, error) {
	session, ok := f.state.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &session, nil
}

func (f *fakeSessionStore) GetForUpdate(ctx context.Context, id string) (*models.SessionDetail, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeSessionStore) Create(_ context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.SessionPlanned
	}
	// Enforce the same occupancy uniqueness the partial index does.
	if session.ResourceID != nil {
		for _, existing := range f.state.sessions {
			if existing.Status == models.SessionCancelled || existing.ResourceID == nil {
				continue
			}
			if *existing.ResourceID == *session.ResourceID &&
				existing.Date.Equal(session.Date) && existing.TimeslotID == session.TimeslotID {
				return &pq.Error{Code: "23505", Constraint: occupancyConstraint}
			}
		}
	}
	f.state.sessions[session.ID] = models.SessionDetail{Session: *session, BranchID: "branch-1"}
	return nil
}

func (f *fakeSessionStore) Cancel(_ context.Context, id string) error {
	session, ok := f.state.sessions[id]
	if !ok || session.Status != models.SessionPlanned {
		return sql.ErrNoRows
	}
	session.Status = models.SessionCancelled
	f.state.sessions[id] = session
	return nil
}

func (f *fakeSessionStore) ReassignResource(_ context.Context, sessionID, resourceID string, modality models.Modality) error {
	session, ok := f.state.sessions[sessionID]
	if !ok || session.Status != models.SessionPlanned {
		return sql.ErrNoRows
	}
	session.ResourceID = &resourceID
	session.Modality = modality
	f.state.sessions[sessionID] = session
	return nil
}

type fakeAssignmentStore struct{ state *fakeState }

func (f *fakeAssignmentStore) ActiveBySession(_ context.Context, sessionID string) (*models.TeachingAssignment, error) {
	for _, assignment := range f.state.assignments {
		if assignment.SessionID == sessionID && assignment.Status.Active() {
			match := assignment
			return &match, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAssignmentStore) UpsertStatus(_ context.Context, sessionID, teacherID string, status models.AssignmentStatus) error {
	key := assignmentKey(sessionID, teacherID)
	assignment, ok := f.state.assignments[key]
	if !ok {
		assignment = models.TeachingAssignment{ID: uuid.NewString(), SessionID: sessionID, TeacherID: teacherID}
	}
	assignment.Status = status
	f.state.assignments[key] = assignment
	return nil
}

type fakeLedgerStore struct{ state *fakeState }

func (f *fakeLedgerStore) Holder(_ context.Context, probe repository.OccupancyProbe) (*models.Occupancy, error) {
	for _, session := range f.state.sessions {
		if session.ID == probe.ExcludeSessionID {
			continue
		}
		if session.Status == models.SessionCancelled {
			continue
		}
		if session.ResourceID == nil || *session.ResourceID != probe.ResourceID {
			continue
		}
		if !session.Date.Equal(probe.Date) || session.TimeslotID != probe.TimeslotID {
			continue
		}
		return &models.Occupancy{
			ResourceID: probe.ResourceID,
			Date:       session.Date,
			TimeslotID: session.TimeslotID,
			SessionID:  session.ID,
		}, nil
	}
	return nil, nil
}

type fakeCatalog struct{ state *fakeState }

func (f *fakeCatalog) ResourceByID(_ context.Context, id string) (*models.Resource, error) {
	resource, ok := f.state.resources[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &resource, nil
}

func (f *fakeCatalog) TimeslotByID(_ context.Context, id string) (*models.Timeslot, error) {
	slot, ok := f.state.timeslots[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &slot, nil
}

type fakeUsers struct{ state *fakeState }

func (f *fakeUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	user, ok := f.state.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &user, nil
}

// fakeTx commits the cloned state only when fn succeeds. The error fields
// model storage failures the in-memory stores cannot produce on their own.
type fakeTx struct {
	state            *fakeState
	sessionCreateErr error
	commitErr        error
}

func (f *fakeTx) Within(_ context.Context, fn func(s repository.Stores) error) error {
	work := f.state.clone()
	sessions := repository.SessionStore(&fakeSessionStore{state: work})
	if f.sessionCreateErr != nil {
		sessions = &failingSessionStore{SessionStore: sessions, createErr: f.sessionCreateErr}
	}
	stores := repository.Stores{
		Requests:    &fakeRequestStore{state: work},
		Sessions:    sessions,
		Assignments: &fakeAssignmentStore{state: work},
		Ledger:      &fakeLedgerStore{state: work},
	}
	if err := fn(stores); err != nil {
		return err
	}
	if f.commitErr != nil {
		return f.commitErr
	}
	*f.state = *work
	return nil
}

type failingSessionStore struct {
	repository.SessionStore
	createErr error
}

func (s *failingSessionStore) Create(context.Context, *models.Session) error {
	return s.createErr
}

type workflowFixture struct {
	state    *fakeState
	tx       *fakeTx
	requests *fakeRequestStore
	service  *RequestWorkflowService

	teacher     *models.JWTClaims
	substitute  *models.JWTClaims
	staff       *models.JWTClaims
	sessionID   string
	futureDate  time.Time
	roomA       string
	roomB       string
	virtualRoom string
	slotA       string
	slotB       string
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	state := newFakeState()

	f := &workflowFixture{
		state:       state,
		teacher:     &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher},
		substitute:  &models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher},
		staff:       &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff},
		sessionID:   "session-1",
		futureDate:  time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 7),
		roomA:       "room-a",
		roomB:       "room-b",
		virtualRoom: "meet-1",
		slotA:       "slot-a",
		slotB:       "slot-b",
	}

	state.users["teacher-1"] = models.User{ID: "teacher-1", Role: models.RoleTeacher, Active: true}
	state.users["teacher-2"] = models.User{ID: "teacher-2", Role: models.RoleTeacher, Active: true}
	state.users["teacher-3"] = models.User{ID: "teacher-3", Role: models.RoleTeacher, Active: true}
	state.users["staff-1"] = models.User{ID: "staff-1", Role: models.RoleStaff, Active: true}

	state.resources[f.roomA] = models.Resource{ID: f.roomA, BranchID: "branch-1", Kind: models.ResourcePhysical, Active: true}
	state.resources[f.roomB] = models.Resource{ID: f.roomB, BranchID: "branch-1", Kind: models.ResourcePhysical, Active: true}
	state.resources[f.virtualRoom] = models.Resource{ID: f.virtualRoom, BranchID: "branch-1", Kind: models.ResourceVirtual, Active: true}
	state.timeslots[f.slotA] = models.Timeslot{ID: f.slotA, BranchID: "branch-1"}
	state.timeslots[f.slotB] = models.Timeslot{ID: f.slotB, BranchID: "branch-1"}

	roomA := f.roomA
	state.sessions[f.sessionID] = models.SessionDetail{
		Session: models.Session{
			ID:         f.sessionID,
			ClassID:    "class-1",
			Date:       f.futureDate,
			TimeslotID: f.slotA,
			ResourceID: &roomA,
			Modality:   models.ModalityInPerson,
			Status:     models.SessionPlanned,
		},
		BranchID: "branch-1",
	}
	state.assignments[assignmentKey(f.sessionID, "teacher-1")] = models.TeachingAssignment{
		ID: uuid.NewString(), SessionID: f.sessionID, TeacherID: "teacher-1", Status: models.AssignmentScheduled,
	}

	f.tx = &fakeTx{state: state}
	f.requests = &fakeRequestStore{state: state}
	f.service = NewRequestWorkflowService(RequestWorkflowDeps{
		Tx:          f.tx,
		Requests:    f.requests,
		Sessions:    &fakeSessionStore{state: state},
		Assignments: &fakeAssignmentStore{state: state},
		Catalog:     &fakeCatalog{state: state},
		Users:       &fakeUsers{state: state},
	})
	return f
}

func (f *workflowFixture) submitReschedule(t *testing.T) *models.ChangeRequest {
	t.Helper()
	request, err := f.service.Submit(context.Background(), f.teacher, dto.SubmitChangeRequest{
		SessionID: f.sessionID,
		Kind:      models.KindReschedule,
		Reason:    "room double booked",
		Reschedule: &dto.ReschedulePayload{
			Date:       f.futureDate.AddDate(0, 0, 1).Format(dto.DateLayout),
			TimeslotID: f.slotB,
			ResourceID: f.roomB,
		},
	})
	require.NoError(t, err)
	return request
}

func (f *workflowFixture) submitSwap(t *testing.T) *models.ChangeRequest {
	t.Helper()
	request, err := f.service.Submit(context.Background(), f.teacher, dto.SubmitChangeRequest{
		SessionID: f.sessionID,
		Kind:      models.KindSwap,
		Swap:      &dto.SwapPayload{ReplacementTeacherID: "teacher-2"},
	})
	require.NoError(t, err)
	return request
}

func requireErrCode(t *testing.T, err error, code string) *appErrors.Error {
	t.Helper()
	require.Error(t, err)
	var typed *appErrors.Error
	require.True(t, errors.As(err, &typed), "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code)
	return typed
}

func TestSubmitReschedule(t *testing.T) {
	f := newWorkflowFixture(t)

	request := f.submitReschedule(t)

	assert.Equal(t, models.RequestPending, request.Status)
	assert.Equal(t, "teacher-1", request.TeacherID)
	require.NotNil(t, request.ProposedDate)
	require.NotNil(t, request.ProposedTimeslotID)
	assert.Equal(t, f.slotB, *request.ProposedTimeslotID)
	require.NotNil(t, request.Note)
	assert.Contains(t, *request.Note, "room double booked")
}

func TestSubmitRequiresAssignedTeacher(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.service.Submit(context.Background(), f.substitute, dto.SubmitChangeRequest{
		SessionID: f.sessionID,
		Kind:      models.KindSwap,
		Swap:      &dto.SwapPayload{ReplacementTeacherID: "teacher-3"},
	})
	requireErrCode(t, err, appErrors.ErrForbidden.Code)
}

func TestSubmitRejectsSecondOpenRequest(t *testing.T) {
	f := newWorkflowFixture(t)
	f.submitReschedule(t)

	_, err := f.service.Submit(context.Background(), f.teacher, dto.SubmitChangeRequest{
		SessionID: f.sessionID,
		Kind:      models.KindSwap,
		Swap:      &dto.SwapPayload{ReplacementTeacherID: "teacher-2"},
	})
	requireErrCode(t, err, appErrors.ErrStateConflict.Code)
}

func TestSubmitModalityChangeMustChangeModality(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.service.Submit(context.Background(), f.teacher, dto.SubmitChangeRequest{
		SessionID:      f.sessionID,
		Kind:           models.KindModalityChange,
		ModalityChange: &dto.ModalityChangePayload{ResourceID: f.roomB},
	})
	requireErrCode(t, err, appErrors.ErrValidation.Code)

	request, err := f.service.Submit(context.Background(), f.teacher, dto.SubmitChangeRequest{
		SessionID:      f.sessionID,
		Kind:           models.KindModalityChange,
		ModalityChange: &dto.ModalityChangePayload{ResourceID: f.virtualRoom},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, request.Status)
}

func TestApproveRescheduleAppliesTimetable(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitReschedule(t)

	updated, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{Note: "ok"})
	require.NoError(t, err)

	assert.Equal(t, models.RequestApproved, updated.Status)
	require.NotNil(t, updated.NewSessionID)
	require.NotNil(t, updated.DecidedBy)
	assert.Equal(t, "staff-1", *updated.DecidedBy)
	assert.NotNil(t, updated.DecidedAt)

	old := f.state.sessions[f.sessionID]
	assert.Equal(t, models.SessionCancelled, old.Status)

	created := f.state.sessions[*updated.NewSessionID]
	assert.Equal(t, models.SessionPlanned, created.Status)
	assert.Equal(t, f.slotB, created.TimeslotID)
	require.NotNil(t, created.ResourceID)
	assert.Equal(t, f.roomB, *created.ResourceID)
	assert.Equal(t, "class-1", created.ClassID)

	moved := f.state.assignments[assignmentKey(*updated.NewSessionID, "teacher-1")]
	assert.Equal(t, models.AssignmentScheduled, moved.Status)
}

func TestApproveRescheduleConflictLeavesStateUntouched(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitReschedule(t)

	// Another session already holds the target (resource, date, timeslot).
	roomB := f.roomB
	f.state.sessions["session-2"] = models.SessionDetail{
		Session: models.Session{
			ID:         "session-2",
			ClassID:    "class-2",
			Date:       f.futureDate.AddDate(0, 0, 1),
			TimeslotID: f.slotB,
			ResourceID: &roomB,
			Modality:   models.ModalityInPerson,
			Status:     models.SessionPlanned,
		},
		BranchID: "branch-1",
	}

	_, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	typed := requireErrCode(t, err, appErrors.ErrResourceConflict.Code)

	conflict, ok := typed.Detail.(models.OccupancyConflict)
	require.True(t, ok)
	assert.Equal(t, f.roomB, conflict.ResourceID)
	assert.Equal(t, "session-2", conflict.HeldBySessionID)

	// nothing committed
	assert.Equal(t, models.RequestPending, f.state.requests[request.ID].Status)
	assert.Equal(t, models.SessionPlanned, f.state.sessions[f.sessionID].Status)
	assert.Len(t, f.state.sessions, 2)
}

func TestApproveRescheduleKeepsOwnSlot(t *testing.T) {
	f := newWorkflowFixture(t)

	// Same room, same slot, same date: the replacement must not collide with
	// the row it cancels.
	request, err := f.service.Submit(context.Background(), f.teacher, dto.SubmitChangeRequest{
		SessionID: f.sessionID,
		Kind:      models.KindReschedule,
		Reason:    "keep the room, shift nothing else",
		Reschedule: &dto.ReschedulePayload{
			Date:       f.futureDate.Format(dto.DateLayout),
			TimeslotID: f.slotA,
			ResourceID: f.roomA,
		},
	})
	require.NoError(t, err)

	updated, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, updated.Status)

	old := f.state.sessions[f.sessionID]
	assert.Equal(t, models.SessionCancelled, old.Status)

	require.NotNil(t, updated.NewSessionID)
	created := f.state.sessions[*updated.NewSessionID]
	assert.Equal(t, models.SessionPlanned, created.Status)
	assert.Equal(t, f.slotA, created.TimeslotID)
	require.NotNil(t, created.ResourceID)
	assert.Equal(t, f.roomA, *created.ResourceID)
}

func TestApproveSurfacesOccupancyIndexViolation(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitReschedule(t)

	// The pre-flight probe passes but the insert trips the index, as when a
	// competing transaction claimed the slot in between.
	f.tx.sessionCreateErr = &pq.Error{Code: "23505", Constraint: occupancyConstraint}

	_, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	typed := requireErrCode(t, err, appErrors.ErrResourceConflict.Code)

	conflict, ok := typed.Detail.(models.OccupancyConflict)
	require.True(t, ok)
	assert.Equal(t, f.roomB, conflict.ResourceID)
	assert.Equal(t, f.slotB, conflict.TimeslotID)

	// nothing committed
	assert.Equal(t, models.RequestPending, f.state.requests[request.ID].Status)
	assert.Equal(t, models.SessionPlanned, f.state.sessions[f.sessionID].Status)
	assert.Len(t, f.state.sessions, 1)
}

func TestApproveSerializationFailureIsRetryable(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitReschedule(t)

	f.tx.commitErr = &pq.Error{Code: "40001"}

	_, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	typed := requireErrCode(t, err, appErrors.ErrStateConflict.Code)
	assert.Contains(t, typed.Message, "retry")

	assert.Equal(t, models.RequestPending, f.state.requests[request.ID].Status)
	assert.Equal(t, models.SessionPlanned, f.state.sessions[f.sessionID].Status)
}

func TestSubmitMapsOpenRequestConstraint(t *testing.T) {
	f := newWorkflowFixture(t)

	// Concurrent submit landed first; the partial index rejects ours.
	f.requests.createErr = &pq.Error{Code: "23505", Constraint: openRequestConstraint}

	_, err := f.service.Submit(context.Background(), f.teacher, dto.SubmitChangeRequest{
		SessionID: f.sessionID,
		Kind:      models.KindSwap,
		Swap:      &dto.SwapPayload{ReplacementTeacherID: "teacher-2"},
	})
	typed := requireErrCode(t, err, appErrors.ErrStateConflict.Code)
	assert.Contains(t, typed.Message, "open change request")
}

func TestApproveValidatesOverriddenTimeslot(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitReschedule(t)

	unknown := "slot-ghost"
	_, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{
		Override: &dto.OverridePayload{TimeslotID: &unknown},
	})
	requireErrCode(t, err, appErrors.ErrValidation.Code)

	f.state.timeslots["slot-other"] = models.Timeslot{ID: "slot-other", BranchID: "branch-2"}
	other := "slot-other"
	_, err = f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{
		Override: &dto.OverridePayload{TimeslotID: &other},
	})
	requireErrCode(t, err, appErrors.ErrValidation.Code)

	assert.Equal(t, models.RequestPending, f.state.requests[request.ID].Status)
}

func TestApproveOnlyPending(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitReschedule(t)

	_, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	require.NoError(t, err)

	_, err = f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	requireErrCode(t, err, appErrors.ErrStateConflict.Code)
}

func TestApproveSwapWaitsForConfirmation(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitSwap(t)

	updated, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.RequestWaitingConfirm, updated.Status)
	require.NotNil(t, updated.ReplacementTeacherID)
	assert.Equal(t, "teacher-2", *updated.ReplacementTeacherID)
	assert.Nil(t, updated.DecidedAt)

	// timetable untouched until the nominee confirms
	active := f.state.assignments[assignmentKey(f.sessionID, "teacher-1")]
	assert.Equal(t, models.AssignmentScheduled, active.Status)
}

func TestConfirmSwap(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitSwap(t)
	_, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	require.NoError(t, err)

	updated, err := f.service.ConfirmSwap(context.Background(), f.substitute, request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RequestApproved, updated.Status)
	assert.NotNil(t, updated.DecidedAt)

	original := f.state.assignments[assignmentKey(f.sessionID, "teacher-1")]
	replacement := f.state.assignments[assignmentKey(f.sessionID, "teacher-2")]
	assert.Equal(t, models.AssignmentOnLeave, original.Status)
	assert.Equal(t, models.AssignmentSubstituted, replacement.Status)
}

func TestConfirmSwapOnlyNominee(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitSwap(t)
	_, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	require.NoError(t, err)

	intruder := &models.JWTClaims{UserID: "teacher-3", Role: models.RoleTeacher}
	_, err = f.service.ConfirmSwap(context.Background(), intruder, request.ID)
	requireErrCode(t, err, appErrors.ErrForbidden.Code)
}

func TestDeclineSwapReturnsToPending(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitSwap(t)
	_, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	require.NoError(t, err)

	declined, err := f.service.DeclineSwap(context.Background(), f.substitute, request.ID, dto.DeclineSwapRequest{Reason: "on holiday"})
	require.NoError(t, err)

	assert.Equal(t, models.RequestPending, declined.Status)
	assert.Nil(t, declined.ReplacementTeacherID)
	require.NotNil(t, declined.Note)
	assert.Contains(t, *declined.Note, "on holiday")
	assert.True(t, strings.Contains(*declined.Note, "[declined_by:teacher-2"))

	// staff nominate someone else on the next approval
	nominee := "teacher-3"
	updated, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{
		Override: &dto.OverridePayload{ReplacementTeacherID: &nominee},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestWaitingConfirm, updated.Status)
	require.NotNil(t, updated.ReplacementTeacherID)
	assert.Equal(t, "teacher-3", *updated.ReplacementTeacherID)
}

func TestRejectRequiresPending(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitReschedule(t)

	updated, err := f.service.Reject(context.Background(), f.staff, request.ID, dto.RejectRequest{Reason: "no rooms that week"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, updated.Status)
	require.NotNil(t, updated.Note)
	assert.Contains(t, *updated.Note, "no rooms that week")

	_, err = f.service.Reject(context.Background(), f.staff, request.ID, dto.RejectRequest{Reason: "again"})
	requireErrCode(t, err, appErrors.ErrStateConflict.Code)
}

func TestApproveModalityChange(t *testing.T) {
	f := newWorkflowFixture(t)

	request, err := f.service.Submit(context.Background(), f.teacher, dto.SubmitChangeRequest{
		SessionID:      f.sessionID,
		Kind:           models.KindModalityChange,
		ModalityChange: &dto.ModalityChangePayload{ResourceID: f.virtualRoom},
	})
	require.NoError(t, err)

	updated, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, updated.Status)

	session := f.state.sessions[f.sessionID]
	assert.Equal(t, models.SessionPlanned, session.Status)
	assert.Equal(t, models.ModalityVirtual, session.Modality)
	require.NotNil(t, session.ResourceID)
	assert.Equal(t, f.virtualRoom, *session.ResourceID)
	assert.Equal(t, f.slotA, session.TimeslotID)
}

func TestListTeacherScope(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitSwap(t)
	_, err := f.service.Approve(context.Background(), f.staff, request.ID, dto.ApproveRequest{})
	require.NoError(t, err)

	// requester sees their own submission
	own, err := f.service.List(context.Background(), f.teacher, dto.ChangeRequestQuery{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, request.ID, own[0].ID)

	// nominee sees the swap they are named on
	incoming, err := f.service.List(context.Background(), f.substitute, dto.ChangeRequestQuery{})
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, request.ID, incoming[0].ID)

	// an unrelated teacher sees nothing
	outsider := &models.JWTClaims{UserID: "teacher-3", Role: models.RoleTeacher}
	none, err := f.service.List(context.Background(), outsider, dto.ChangeRequestQuery{})
	require.NoError(t, err)
	assert.Empty(t, none)

	// staff see everything
	all, err := f.service.List(context.Background(), f.staff, dto.ChangeRequestQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetVisibility(t *testing.T) {
	f := newWorkflowFixture(t)
	request := f.submitSwap(t)

	outsider := &models.JWTClaims{UserID: "teacher-3", Role: models.RoleTeacher}
	_, err := f.service.Get(context.Background(), outsider, request.ID)
	requireErrCode(t, err, appErrors.ErrForbidden.Code)

	got, err := f.service.Get(context.Background(), f.staff, request.ID)
	require.NoError(t, err)
	assert.Equal(t, request.ID, got.ID)
}
