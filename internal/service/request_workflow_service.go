package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edukita/center-ops-api/internal/dto"
	"github.com/edukita/center-ops-api/internal/models"
	"github.com/edukita/center-ops-api/internal/repository"
	appErrors "github.com/edukita/center-ops-api/pkg/errors"
)

// occupancyConstraint is the partial unique index arbitrating session
// occupancy at the database level.
const occupancyConstraint = "uq_session_occupancy"

// openRequestConstraint caps a session at one PENDING or WAITING_CONFIRM
// request at a time.
const openRequestConstraint = "uq_open_request"

const listCachePrefix = "schedule_requests:"

// TxRunner executes a function against tx-scoped stores atomically.
type TxRunner interface {
	Within(ctx context.Context, fn func(s repository.Stores) error) error
}

// ChangeRequestReader is the pool-scoped request surface used outside
// decision transactions.
type ChangeRequestReader interface {
	Create(ctx context.Context, request *models.ChangeRequest) error
	GetByID(ctx context.Context, id string) (*models.ChangeRequest, error)
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error)
}

// SessionReader reads session details outside decision transactions.
type SessionReader interface {
	GetByID(ctx context.Context, id string) (*models.SessionDetail, error)
}

// AssignmentReader reads teaching assignments outside decision transactions.
type AssignmentReader interface {
	ActiveBySession(ctx context.Context, sessionID string) (*models.TeachingAssignment, error)
}

// CatalogReader resolves reference data referenced by request payloads.
type CatalogReader interface {
	ResourceByID(ctx context.Context, id string) (*models.Resource, error)
	TimeslotByID(ctx context.Context, id string) (*models.Timeslot, error)
}

// UserReader resolves users referenced by request payloads.
type UserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// DecisionCache caches the read-only listing surface.
type DecisionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// AuditWriter records workflow transitions for the audit trail.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Notifier delivers best-effort notifications about workflow transitions.
type Notifier interface {
	Notify(userID string, kind models.NotificationKind, requestID, body string)
}

// WorkflowMetrics counts workflow outcomes and cache effectiveness.
type WorkflowMetrics interface {
	RecordDecision(kind, outcome string)
	RecordOccupancyConflict()
	RecordCacheHit()
	RecordCacheMiss()
}

// RequestWorkflowDeps bundles the collaborators of the workflow service.
// Cache, Notifier, and Audit are optional.
type RequestWorkflowDeps struct {
	Tx          TxRunner
	Requests    ChangeRequestReader
	Sessions    SessionReader
	Assignments AssignmentReader
	Catalog     CatalogReader
	Users       UserReader
	Arbiter     *ConflictArbiter
	Cache       DecisionCache
	Notifier    Notifier
	Audit       AuditWriter
	Metrics     WorkflowMetrics
	CacheTTL    time.Duration
	Logger      *zap.Logger
}

// RequestWorkflowService drives the schedule-change request lifecycle:
// submission by teachers, approval or rejection by staff, and swap
// confirmation by the nominated teacher. Every decision that mutates the
// timetable runs inside one serializable transaction so the conflict check
// and the mutation it gates land together or not at all.
type RequestWorkflowService struct {
	tx          TxRunner
	requests    ChangeRequestReader
	sessions    SessionReader
	assignments AssignmentReader
	catalog     CatalogReader
	users       UserReader
	arbiter     *ConflictArbiter
	cache       DecisionCache
	notifier    Notifier
	auditor     AuditWriter
	metrics     WorkflowMetrics
	cacheTTL    time.Duration
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewRequestWorkflowService constructs the workflow service.
func NewRequestWorkflowService(deps RequestWorkflowDeps) *RequestWorkflowService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Arbiter == nil {
		deps.Arbiter = NewConflictArbiter(deps.Logger)
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 2 * time.Minute
	}
	return &RequestWorkflowService{
		tx:          deps.Tx,
		requests:    deps.Requests,
		sessions:    deps.Sessions,
		assignments: deps.Assignments,
		catalog:     deps.Catalog,
		users:       deps.Users,
		arbiter:     deps.Arbiter,
		cache:       deps.Cache,
		notifier:    deps.Notifier,
		auditor:     deps.Audit,
		metrics:     deps.Metrics,
		cacheTTL:    deps.CacheTTL,
		validate:    validator.New(),
		logger:      deps.Logger,
	}
}

// Submit records a new change request from the teacher assigned to the
// session. The request starts in PENDING.
func (s *RequestWorkflowService) Submit(ctx context.Context, claims *models.JWTClaims, req dto.SubmitChangeRequest) (*models.ChangeRequest, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	session, err := s.sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.Status != models.SessionPlanned {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, "session is not open for changes")
	}

	assignment, err := s.assignments.ActiveBySession(ctx, session.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "session has no active teacher")
		}
		return nil, fmt.Errorf("load session assignment: %w", err)
	}
	if assignment.TeacherID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned teacher can request changes to this session")
	}

	open, err := s.requests.List(ctx, models.ChangeRequestFilter{
		SessionID: session.ID,
		Status:    []models.ChangeRequestStatus{models.RequestPending, models.RequestWaitingConfirm},
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("check open requests: %w", err)
	}
	if len(open) > 0 {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, "session already has an open change request")
	}

	request := &models.ChangeRequest{
		TeacherID: claims.UserID,
		SessionID: session.ID,
		Kind:      req.Kind,
		Status:    models.RequestPending,
		Note:      models.AppendNote(nil, req.Reason),
	}

	switch req.Kind {
	case models.KindReschedule:
		if err := s.fillReschedule(ctx, session, req.Reschedule, request); err != nil {
			return nil, err
		}
	case models.KindModalityChange:
		if err := s.fillModalityChange(ctx, session, req.ModalityChange, request); err != nil {
			return nil, err
		}
	case models.KindSwap:
		if err := s.fillSwap(ctx, claims.UserID, req.Swap, request); err != nil {
			return nil, err
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported request kind %q", req.Kind))
	}

	if err := s.requests.Create(ctx, request); err != nil {
		if repository.IsUniqueViolation(err, openRequestConstraint) {
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "session already has an open change request")
		}
		return nil, fmt.Errorf("create change request: %w", err)
	}

	s.invalidateListCache(ctx)
	s.recordAudit(ctx, claims.UserID, models.AuditActionRequestSubmit, request.ID, nil, request)
	s.notify(claims.UserID, models.NotifyRequestSubmitted, request.ID,
		fmt.Sprintf("Your %s request for session %s was submitted", request.Kind, request.SessionID))

	s.logger.Info("change request submitted",
		zap.String("request_id", request.ID),
		zap.String("teacher_id", claims.UserID),
		zap.String("session_id", session.ID),
		zap.String("kind", string(request.Kind)))

	return request, nil
}

func (s *RequestWorkflowService) fillReschedule(ctx context.Context, session *models.SessionDetail, payload *dto.ReschedulePayload, request *models.ChangeRequest) error {
	if payload == nil {
		return appErrors.Clone(appErrors.ErrValidation, "reschedule payload is required")
	}
	date, err := dto.ParseDate(payload.Date)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if date.Before(today) {
		return appErrors.Clone(appErrors.ErrValidation, "proposed date is in the past")
	}

	timeslot, err := s.lookupTimeslot(ctx, session.BranchID, payload.TimeslotID)
	if err != nil {
		return err
	}

	resource, err := s.lookupResource(ctx, session.BranchID, payload.ResourceID)
	if err != nil {
		return err
	}

	request.ProposedDate = &date
	request.ProposedTimeslotID = &timeslot.ID
	request.ProposedResourceID = &resource.ID
	return nil
}

func (s *RequestWorkflowService) fillModalityChange(ctx context.Context, session *models.SessionDetail, payload *dto.ModalityChangePayload, request *models.ChangeRequest) error {
	if payload == nil {
		return appErrors.Clone(appErrors.ErrValidation, "modality_change payload is required")
	}
	resource, err := s.lookupResource(ctx, session.BranchID, payload.ResourceID)
	if err != nil {
		return err
	}
	if models.ModalityForResource(resource.Kind) == session.Modality {
		return appErrors.Clone(appErrors.ErrValidation, "resource does not change the session modality")
	}
	request.ProposedResourceID = &resource.ID
	return nil
}

func (s *RequestWorkflowService) fillSwap(ctx context.Context, requesterID string, payload *dto.SwapPayload, request *models.ChangeRequest) error {
	if payload == nil {
		return appErrors.Clone(appErrors.ErrValidation, "swap payload is required")
	}
	if payload.ReplacementTeacherID == requesterID {
		return appErrors.Clone(appErrors.ErrValidation, "cannot nominate yourself as replacement")
	}
	if err := s.checkReplacementTeacher(ctx, payload.ReplacementTeacherID); err != nil {
		return err
	}
	request.ReplacementTeacherID = &payload.ReplacementTeacherID
	return nil
}

func (s *RequestWorkflowService) lookupResource(ctx context.Context, branchID, resourceID string) (*models.Resource, error) {
	resource, err := s.catalog.ResourceByID(ctx, resourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown resource")
		}
		return nil, fmt.Errorf("load resource: %w", err)
	}
	if resource.BranchID != branchID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "resource belongs to another branch")
	}
	if !resource.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "resource is inactive")
	}
	return resource, nil
}

func (s *RequestWorkflowService) lookupTimeslot(ctx context.Context, branchID, timeslotID string) (*models.Timeslot, error) {
	timeslot, err := s.catalog.TimeslotByID(ctx, timeslotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown timeslot")
		}
		return nil, fmt.Errorf("load timeslot: %w", err)
	}
	if timeslot.BranchID != branchID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "timeslot belongs to another branch")
	}
	return timeslot, nil
}

func (s *RequestWorkflowService) checkReplacementTeacher(ctx context.Context, teacherID string) error {
	user, err := s.users.FindByID(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "unknown replacement teacher")
		}
		return fmt.Errorf("load replacement teacher: %w", err)
	}
	if user.Role != models.RoleTeacher {
		return appErrors.Clone(appErrors.ErrValidation, "replacement must be a teacher")
	}
	if !user.Active {
		return appErrors.Clone(appErrors.ErrValidation, "replacement teacher is inactive")
	}
	return nil
}

// Approve decides a PENDING request. RESCHEDULE and MODALITY_CHANGE are
// applied to the timetable immediately; SWAP moves to WAITING_CONFIRM until
// the nominated teacher responds. Staff may override parts of the proposal.
func (s *RequestWorkflowService) Approve(ctx context.Context, claims *models.JWTClaims, requestID string, req dto.ApproveRequest) (*models.ChangeRequest, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	var (
		conflictProbe *repository.OccupancyProbe
		nomineeID     string
		teacherID     string
	)

	var kind models.ChangeRequestKind
	err := s.tx.Within(ctx, func(st repository.Stores) error {
		request, err := st.Requests.GetForDecision(ctx, requestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "change request not found")
			}
			return fmt.Errorf("load change request: %w", err)
		}
		if request.Status != models.RequestPending {
			return appErrors.Clone(appErrors.ErrStateConflict,
				fmt.Sprintf("request is %s, only PENDING requests can be approved", request.Status))
		}
		kind = request.Kind
		if err := applyOverride(request, req.Override); err != nil {
			return err
		}
		teacherID = request.TeacherID

		session, err := st.Sessions.GetForUpdate(ctx, request.SessionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrStateConflict, "session no longer exists")
			}
			return fmt.Errorf("lock session: %w", err)
		}
		if session.Status != models.SessionPlanned {
			return appErrors.Clone(appErrors.ErrStateConflict, "session is no longer planned")
		}

		now := time.Now().UTC()
		note := models.AppendNote(request.Note, req.Note)

		switch request.Kind {
		case models.KindReschedule:
			details, err := request.Reschedule()
			if err != nil {
				return appErrors.Clone(appErrors.ErrValidation, err.Error())
			}
			resource, err := s.lookupResource(ctx, session.BranchID, details.ResourceID)
			if err != nil {
				return err
			}
			if _, err := s.lookupTimeslot(ctx, session.BranchID, details.TimeslotID); err != nil {
				return err
			}

			probe := repository.OccupancyProbe{
				ResourceID:       details.ResourceID,
				Date:             details.Date,
				TimeslotID:       details.TimeslotID,
				ExcludeSessionID: request.SessionID,
			}
			conflictProbe = &probe
			if err := s.arbiter.Check(ctx, st.Ledger, probe); err != nil {
				return err
			}

			assignment, err := st.Assignments.ActiveBySession(ctx, request.SessionID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("load session assignment: %w", err)
			}

			// Cancel first: a reschedule may keep the session's own slot, and
			// the occupancy index would reject the replacement while the old
			// row is still PLANNED.
			if err := st.Sessions.Cancel(ctx, request.SessionID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Clone(appErrors.ErrStateConflict, "session is no longer planned")
				}
				return err
			}
			replacement := models.Session{
				ClassID:    session.ClassID,
				Date:       details.Date,
				TimeslotID: details.TimeslotID,
				ResourceID: &details.ResourceID,
				Modality:   models.ModalityForResource(resource.Kind),
				Status:     models.SessionPlanned,
			}
			if err := st.Sessions.Create(ctx, &replacement); err != nil {
				return err
			}
			if assignment != nil {
				if err := st.Assignments.UpsertStatus(ctx, replacement.ID, assignment.TeacherID, models.AssignmentScheduled); err != nil {
					return err
				}
			}
			return guardDecision(st.Requests.UpdateDecision(ctx, repository.DecisionParams{
				ID:           request.ID,
				FromStatus:   models.RequestPending,
				Status:       models.RequestApproved,
				DecidedBy:    &claims.UserID,
				DecidedAt:    &now,
				Note:         note,
				NewSessionID: &replacement.ID,
			}))

		case models.KindModalityChange:
			details, err := request.ModalityChange()
			if err != nil {
				return appErrors.Clone(appErrors.ErrValidation, err.Error())
			}
			resource, err := s.lookupResource(ctx, session.BranchID, details.ResourceID)
			if err != nil {
				return err
			}

			probe := repository.OccupancyProbe{
				ResourceID:       details.ResourceID,
				Date:             session.Date,
				TimeslotID:       session.TimeslotID,
				ExcludeSessionID: session.ID,
			}
			conflictProbe = &probe
			if err := s.arbiter.Check(ctx, st.Ledger, probe); err != nil {
				return err
			}

			if err := st.Sessions.ReassignResource(ctx, session.ID, resource.ID, models.ModalityForResource(resource.Kind)); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Clone(appErrors.ErrStateConflict, "session is no longer planned")
				}
				return err
			}
			return guardDecision(st.Requests.UpdateDecision(ctx, repository.DecisionParams{
				ID:         request.ID,
				FromStatus: models.RequestPending,
				Status:     models.RequestApproved,
				DecidedBy:  &claims.UserID,
				DecidedAt:  &now,
				Note:       note,
			}))

		case models.KindSwap:
			details, err := request.Swap()
			if err != nil {
				return appErrors.Clone(appErrors.ErrValidation, err.Error())
			}
			if details.ReplacementTeacherID == request.TeacherID {
				return appErrors.Clone(appErrors.ErrValidation, "replacement matches the requesting teacher")
			}
			if err := s.checkReplacementTeacher(ctx, details.ReplacementTeacherID); err != nil {
				return err
			}
			nomineeID = details.ReplacementTeacherID
			return guardDecision(st.Requests.UpdateDecision(ctx, repository.DecisionParams{
				ID:             request.ID,
				FromStatus:     models.RequestPending,
				Status:         models.RequestWaitingConfirm,
				DecidedBy:      &claims.UserID,
				Note:           note,
				SetReplacement: &details.ReplacementTeacherID,
			}))

		default:
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported request kind %q", request.Kind))
		}
	})
	if err != nil {
		mapped := s.mapDecisionError(err, conflictProbe)
		if s.metrics != nil {
			var typed *appErrors.Error
			if errors.As(mapped, &typed) && typed.Code == appErrors.ErrResourceConflict.Code {
				s.metrics.RecordOccupancyConflict()
				s.metrics.RecordDecision(string(kind), "CONFLICT")
			}
		}
		return nil, mapped
	}

	updated, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("reload change request: %w", err)
	}

	s.invalidateListCache(ctx)
	if s.metrics != nil {
		s.metrics.RecordDecision(string(updated.Kind), string(updated.Status))
	}
	s.recordAudit(ctx, claims.UserID, models.AuditActionRequestApprove, requestID, nil, updated)
	switch updated.Status {
	case models.RequestApproved:
		s.notify(teacherID, models.NotifyRequestApproved, requestID,
			fmt.Sprintf("Your %s request was approved", updated.Kind))
	case models.RequestWaitingConfirm:
		s.notify(nomineeID, models.NotifySwapNominated, requestID,
			"You have been nominated as a replacement teacher, please confirm")
	}

	s.logger.Info("change request approved",
		zap.String("request_id", requestID),
		zap.String("decided_by", claims.UserID),
		zap.String("status", string(updated.Status)))

	return updated, nil
}

// Reject moves a PENDING request to REJECTED without touching the timetable.
func (s *RequestWorkflowService) Reject(ctx context.Context, claims *models.JWTClaims, requestID string, req dto.RejectRequest) (*models.ChangeRequest, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	var teacherID string
	err := s.tx.Within(ctx, func(st repository.Stores) error {
		request, err := st.Requests.GetForDecision(ctx, requestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "change request not found")
			}
			return fmt.Errorf("load change request: %w", err)
		}
		if request.Status != models.RequestPending {
			return appErrors.Clone(appErrors.ErrStateConflict,
				fmt.Sprintf("request is %s, only PENDING requests can be rejected", request.Status))
		}
		teacherID = request.TeacherID

		now := time.Now().UTC()
		return guardDecision(st.Requests.UpdateDecision(ctx, repository.DecisionParams{
			ID:         request.ID,
			FromStatus: models.RequestPending,
			Status:     models.RequestRejected,
			DecidedBy:  &claims.UserID,
			DecidedAt:  &now,
			Note:       models.AppendNote(request.Note, req.Reason),
		}))
	})
	if err != nil {
		return nil, s.mapDecisionError(err, nil)
	}

	updated, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("reload change request: %w", err)
	}

	s.invalidateListCache(ctx)
	if s.metrics != nil {
		s.metrics.RecordDecision(string(updated.Kind), string(updated.Status))
	}
	s.recordAudit(ctx, claims.UserID, models.AuditActionRequestReject, requestID, nil, updated)
	s.notify(teacherID, models.NotifyRequestRejected, requestID,
		fmt.Sprintf("Your %s request was rejected: %s", updated.Kind, req.Reason))

	return updated, nil
}

// ConfirmSwap lets the nominated teacher accept a swap. The requesting
// teacher goes ON_LEAVE, the nominee becomes SUBSTITUTED, and the request
// reaches APPROVED.
func (s *RequestWorkflowService) ConfirmSwap(ctx context.Context, claims *models.JWTClaims, requestID string) (*models.ChangeRequest, error) {
	var teacherID string
	err := s.tx.Within(ctx, func(st repository.Stores) error {
		request, err := st.Requests.GetForDecision(ctx, requestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "change request not found")
			}
			return fmt.Errorf("load change request: %w", err)
		}
		if request.Status != models.RequestWaitingConfirm {
			return appErrors.Clone(appErrors.ErrStateConflict,
				fmt.Sprintf("request is %s, only WAITING_CONFIRM swaps can be confirmed", request.Status))
		}
		details, err := request.Swap()
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		if details.ReplacementTeacherID != claims.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the nominated teacher can confirm this swap")
		}
		teacherID = request.TeacherID

		session, err := st.Sessions.GetForUpdate(ctx, request.SessionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrStateConflict, "session no longer exists")
			}
			return fmt.Errorf("lock session: %w", err)
		}
		if session.Status != models.SessionPlanned {
			return appErrors.Clone(appErrors.ErrStateConflict, "session is no longer planned")
		}

		if err := st.Assignments.UpsertStatus(ctx, session.ID, request.TeacherID, models.AssignmentOnLeave); err != nil {
			return err
		}
		if err := st.Assignments.UpsertStatus(ctx, session.ID, details.ReplacementTeacherID, models.AssignmentSubstituted); err != nil {
			return err
		}

		now := time.Now().UTC()
		return guardDecision(st.Requests.UpdateDecision(ctx, repository.DecisionParams{
			ID:         request.ID,
			FromStatus: models.RequestWaitingConfirm,
			Status:     models.RequestApproved,
			DecidedAt:  &now,
		}))
	})
	if err != nil {
		return nil, s.mapDecisionError(err, nil)
	}

	updated, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("reload change request: %w", err)
	}

	s.invalidateListCache(ctx)
	if s.metrics != nil {
		s.metrics.RecordDecision(string(updated.Kind), string(updated.Status))
	}
	s.recordAudit(ctx, claims.UserID, models.AuditActionSwapConfirm, requestID, nil, updated)
	s.notify(teacherID, models.NotifySwapConfirmed, requestID, "Your swap request was confirmed by the replacement teacher")

	return updated, nil
}

// DeclineSwap lets the nominated teacher decline. The nomination is cleared,
// a decline marker is appended to the note, and the request returns to
// PENDING so staff can nominate someone else on the next approval.
func (s *RequestWorkflowService) DeclineSwap(ctx context.Context, claims *models.JWTClaims, requestID string, req dto.DeclineSwapRequest) (*models.ChangeRequest, error) {
	var teacherID string
	err := s.tx.Within(ctx, func(st repository.Stores) error {
		request, err := st.Requests.GetForDecision(ctx, requestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "change request not found")
			}
			return fmt.Errorf("load change request: %w", err)
		}
		if request.Status != models.RequestWaitingConfirm {
			return appErrors.Clone(appErrors.ErrStateConflict,
				fmt.Sprintf("request is %s, only WAITING_CONFIRM swaps can be declined", request.Status))
		}
		details, err := request.Swap()
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		if details.ReplacementTeacherID != claims.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the nominated teacher can decline this swap")
		}
		teacherID = request.TeacherID

		note := models.AppendNote(request.Note, strings.TrimSpace(req.Reason))
		note = models.AppendNote(note, models.DeclineMarker(claims.UserID, time.Now().UTC()))
		return guardDecision(st.Requests.UpdateDecision(ctx, repository.DecisionParams{
			ID:               request.ID,
			FromStatus:       models.RequestWaitingConfirm,
			Status:           models.RequestPending,
			Note:             note,
			ClearReplacement: true,
		}))
	})
	if err != nil {
		return nil, s.mapDecisionError(err, nil)
	}

	updated, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("reload change request: %w", err)
	}

	s.invalidateListCache(ctx)
	if s.metrics != nil {
		s.metrics.RecordDecision(string(updated.Kind), "DECLINED")
	}
	s.recordAudit(ctx, claims.UserID, models.AuditActionSwapDecline, requestID, nil, updated)
	s.notify(teacherID, models.NotifySwapDeclined, requestID, "The nominated teacher declined your swap request")

	return updated, nil
}

// List returns requests visible to the caller. Teachers see their own
// submissions plus swaps they are nominated on; staff and admins see all.
func (s *RequestWorkflowService) List(ctx context.Context, claims *models.JWTClaims, query dto.ChangeRequestQuery) ([]models.ChangeRequest, error) {
	key := s.listCacheKey(claims, query)
	if s.cache != nil {
		var cached []models.ChangeRequest
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheHit()
			}
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Debug("request list cache read failed", zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCacheMiss()
		}
	}

	filter := models.ChangeRequestFilter{
		Status:    query.Status,
		Kind:      query.Kind,
		SessionID: query.SessionID,
		Limit:     query.Limit,
		Offset:    query.Offset,
	}

	var results []models.ChangeRequest
	if claims.Role == models.RoleTeacher {
		own := filter
		own.TeacherID = claims.UserID
		submitted, err := s.requests.List(ctx, own)
		if err != nil {
			return nil, err
		}
		nominated := filter
		nominated.ReplacementTeacherID = claims.UserID
		incoming, err := s.requests.List(ctx, nominated)
		if err != nil {
			return nil, err
		}
		results = mergeRequests(submitted, incoming, filter.Limit)
	} else {
		var err error
		results, err = s.requests.List(ctx, filter)
		if err != nil {
			return nil, err
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, results, s.cacheTTL); err != nil {
			s.logger.Debug("request list cache write failed", zap.Error(err))
		}
	}
	return results, nil
}

// Get returns one request, enforcing teacher visibility.
func (s *RequestWorkflowService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.ChangeRequest, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, fmt.Errorf("load change request: %w", err)
	}
	if claims.Role == models.RoleTeacher && request.TeacherID != claims.UserID {
		if request.ReplacementTeacherID == nil || *request.ReplacementTeacherID != claims.UserID {
			return nil, appErrors.ErrForbidden
		}
	}
	return request, nil
}

func applyOverride(request *models.ChangeRequest, override *dto.OverridePayload) error {
	if override == nil {
		return nil
	}
	if override.Date != nil {
		parsed, err := dto.ParseDate(*override.Date)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "invalid override date, expected YYYY-MM-DD")
		}
		request.ProposedDate = &parsed
	}
	if override.TimeslotID != nil {
		request.ProposedTimeslotID = override.TimeslotID
	}
	if override.ResourceID != nil {
		request.ProposedResourceID = override.ResourceID
	}
	if override.ReplacementTeacherID != nil {
		request.ReplacementTeacherID = override.ReplacementTeacherID
	}
	return nil
}

// guardDecision maps the zero-rows outcome of a guarded UPDATE to a state
// conflict: some other decision landed first.
func guardDecision(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrStateConflict, "request was decided concurrently")
	}
	return err
}

func (s *RequestWorkflowService) mapDecisionError(err error, probe *repository.OccupancyProbe) error {
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	if repository.IsUniqueViolation(err, occupancyConstraint) {
		if probe != nil {
			return appErrors.WithDetail(appErrors.ErrResourceConflict, models.OccupancyConflict{
				ResourceID: probe.ResourceID,
				Date:       probe.Date,
				TimeslotID: probe.TimeslotID,
			})
		}
		return appErrors.ErrResourceConflict
	}
	if repository.IsSerializationFailure(err) {
		return appErrors.Clone(appErrors.ErrStateConflict, "concurrent decision in progress, retry")
	}
	return err
}

func (s *RequestWorkflowService) listCacheKey(claims *models.JWTClaims, query dto.ChangeRequestQuery) string {
	statuses := make([]string, len(query.Status))
	for i, status := range query.Status {
		statuses[i] = string(status)
	}
	return fmt.Sprintf("%s%s:%s:%s:%s:%s:%d:%d",
		listCachePrefix, claims.Role, claims.UserID,
		strings.Join(statuses, ","), query.Kind, query.SessionID,
		query.Limit, query.Offset)
}

func (s *RequestWorkflowService) invalidateListCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, listCachePrefix+"*"); err != nil {
		s.logger.Warn("failed to invalidate request list cache", zap.Error(err))
	}
}

func (s *RequestWorkflowService) notify(userID string, kind models.NotificationKind, requestID, body string) {
	if s.notifier == nil || userID == "" {
		return
	}
	s.notifier.Notify(userID, kind, requestID, body)
}

func (s *RequestWorkflowService) recordAudit(ctx context.Context, actorID, action, requestID string, oldValue, newValue interface{}) {
	if s.auditor == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "schedule_change_request",
		ResourceID: &requestID,
	}
	if oldValue != nil {
		entry.OldValues, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		entry.NewValues, _ = json.Marshal(newValue)
	}
	if err := s.auditor.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

func mergeRequests(a, b []models.ChangeRequest, limit int) []models.ChangeRequest {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]models.ChangeRequest, 0, len(a)+len(b))
	for _, list := range [][]models.ChangeRequest{a, b} {
		for _, request := range list {
			if _, ok := seen[request.ID]; ok {
				continue
			}
			seen[request.ID] = struct{}{}
			merged = append(merged, request)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].SubmittedAt.After(merged[j].SubmittedAt)
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
