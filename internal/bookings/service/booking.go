package service

import (
	"context"
	"errors"
	"time"

	bookingserrors "bonzai/internal/bookings/errors"
	"bonzai/internal/bookings/events"
	"bonzai/internal/bookings/nights"
	"bonzai/internal/bookings/repository"
	"bonzai/internal/bookings/selector"
	"bonzai/internal/bookings/txbuilder"
	"bonzai/internal/bookings/validator"
	"bonzai/pkg/config"
	apperrors "bonzai/pkg/errors"
	"bonzai/pkg/metrics"
	"bonzai/pkg/model"
	"bonzai/pkg/sanitizer"
	"bonzai/pkg/store"

	"github.com/google/uuid"
)

const (
	opCreate = "create"
	opCancel = "cancel"
	opModify = "modify"

	// maxReleaseAttempts bounds the re-reads compensation makes on top of one
	// attempt per claimed lock.
	maxReleaseAttempts = 3
)

type BookingService interface {
	Create(ctx context.Context, req *model.CreateBookingRequest) (*model.BookingDetails, error)
	GetByID(ctx context.Context, id string) (*model.BookingDetails, error)
	GetAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error)
	// GetByDate returns the bookings holding a room on night date.
	GetByDate(ctx context.Context, date string) ([]*model.Booking, error)
	// GetByInterval returns the bookings holding a room on any night of
	// [from, to).
	GetByInterval(ctx context.Context, from, to string) ([]*model.Booking, error)
	Modify(ctx context.Context, id string, patch *model.BookingPatch) (*model.BookingDetails, error)
	Cancel(ctx context.Context, id string) (*model.Booking, error)
}

type RoomCatalog interface {
	FindAll(ctx context.Context) ([]model.Room, error)
}

type RoomSelector interface {
	Select(ctx context.Context, req selector.Request, catalog []model.Room) (*selector.Selection, error)
}

type bookingService struct {
	repo      repository.BookingRepository
	rooms     RoomCatalog
	selector  RoomSelector
	validator *validator.BookingValidator
	publisher events.Publisher
	metrics   *metrics.BookingMetrics
	cfg       *config.Config

	now   func() time.Time
	newID func() string
}

type Option func(*bookingService)

func WithClock(now func() time.Time) Option {
	return func(s *bookingService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *bookingService) { s.newID = newID }
}

// NewBookingService wires the lifecycle coordinator. publisher and metrics
// may be nil.
func NewBookingService(
	repo repository.BookingRepository,
	rooms RoomCatalog,
	selector RoomSelector,
	validator *validator.BookingValidator,
	publisher events.Publisher,
	metrics *metrics.BookingMetrics,
	cfg *config.Config,
	opts ...Option,
) BookingService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	s := &bookingService{
		repo:      repo,
		rooms:     rooms,
		selector:  selector,
		validator: validator,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *bookingService) Create(ctx context.Context, req *model.CreateBookingRequest) (*model.BookingDetails, error) {
	log := s.cfg.Log.FromContext(ctx)

	s.sanitize(req)
	if err := s.validator.Validate(req); err != nil {
		log.Warn("Booking validation failed", "error", err)
		return nil, apperrors.Validation("Booking validation failed", map[string]any{"errors": err})
	}

	stay, err := nights.Enumerate(req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, s.reject(opCreate, err, "")
	}
	catalog, err := s.rooms.FindAll(ctx)
	if err != nil {
		log.Error("Failed to load room catalog", "error", err)
		return nil, apperrors.Internal("Failed to load room catalog", err)
	}

	draft := txbuilder.Draft{
		BookingID: s.newID(),
		CheckIn:   req.CheckIn,
		CheckOut:  req.CheckOut,
		Guests:    req.Guests,
		Name:      req.Name,
		Email:     req.Email,
		Note:      req.Note,
		CreatedAt: s.timestamp(),
	}

	// A conflict means the advisory probe went stale. Each retry selects
	// again from scratch rather than resubmitting the same rooms.
	var plan *txbuilder.Plan
	for attempt := 0; ; attempt++ {
		sel, err := s.selector.Select(ctx, selector.Request{
			RoomTypes: req.RoomTypes,
			Guests:    req.Guests,
			Nights:    stay,
		}, catalog)
		if err != nil {
			return nil, s.reject(opCreate, err, "")
		}

		plan, err = txbuilder.Create(draft, sel.Rooms, stay)
		if err != nil {
			return nil, s.reject(opCreate, err, "")
		}

		err = s.commit(ctx, opCreate, plan.Ops)
		if err == nil {
			break
		}
		if errors.Is(err, bookingserrors.ErrConcurrentConflict) && attempt < s.cfg.BookingConflictRetries {
			log.Warn("Booking lost a race for its rooms, retrying",
				"id", draft.BookingID,
				"attempt", attempt+1,
				"rooms", sel.RoomNumbers(),
			)
			continue
		}
		log.Warn("Failed to create booking", "id", draft.BookingID, "error", err)
		return nil, s.reject(opCreate, err, draft.BookingID)
	}

	s.metrics.Operation(opCreate, metrics.ResultSuccess)
	s.metrics.LocksAcquired(len(plan.Booking.ReservedRooms) * len(stay))
	s.publish(ctx, events.TypeBookingCreated, plan.Booking)

	log.Info("Booking created successfully",
		"id", plan.Booking.BookingID,
		"check_in", plan.Booking.CheckIn,
		"check_out", plan.Booking.CheckOut,
		"rooms", plan.Booking.ReservedRooms,
		"total_price", plan.Booking.TotalPrice,
	)
	return &model.BookingDetails{Booking: *plan.Booking, Lines: plan.Lines}, nil
}

func (s *bookingService) GetByID(ctx context.Context, id string) (*model.BookingDetails, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}

	booking, lines, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, bookingserrors.ErrNotFound) {
			s.cfg.Log.FromContext(ctx).Error("Failed to retrieve booking", "id", id, "error", err)
		}
		return nil, mapDomainError(err, id)
	}
	return &model.BookingDetails{Booking: *booking, Lines: lines}, nil
}

func (s *bookingService) GetAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error) {
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	bookings, total, err := s.repo.FindAll(ctx, limit, offset)
	if err != nil {
		s.cfg.Log.FromContext(ctx).Error("Failed to list bookings", "error", err)
		return nil, 0, apperrors.Internal("Failed to retrieve bookings", err)
	}
	return bookings, total, nil
}

func (s *bookingService) GetByDate(ctx context.Context, date string) ([]*model.Booking, error) {
	if _, err := nights.Parse(date); err != nil {
		return nil, mapDomainError(err, "")
	}
	return s.findByNights(ctx, []string{date})
}

func (s *bookingService) GetByInterval(ctx context.Context, from, to string) ([]*model.Booking, error) {
	span, err := nights.Enumerate(from, to)
	if err != nil {
		return nil, mapDomainError(err, "")
	}
	return s.findByNights(ctx, span)
}

func (s *bookingService) findByNights(ctx context.Context, span []string) ([]*model.Booking, error) {
	bookings, err := s.repo.FindByNights(ctx, span)
	if err != nil {
		s.cfg.Log.FromContext(ctx).Error("Failed to search bookings by night", "nights", len(span), "error", err)
		return nil, apperrors.Internal("Failed to search bookings", err)
	}
	s.cfg.Log.FromContext(ctx).Debug("Booking search completed", "nights", len(span), "count", len(bookings))
	return bookings, nil
}

func (s *bookingService) Cancel(ctx context.Context, id string) (*model.Booking, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}
	log := s.cfg.Log.FromContext(ctx)

	booking, lines, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.reject(opCancel, err, id)
	}
	if booking.Status == model.BookingStatusCancelled {
		return nil, s.reject(opCancel, bookingserrors.ErrAlreadyCancelled, id)
	}

	checkIn, err := nights.Parse(booking.CheckIn)
	if err != nil {
		log.Error("Stored booking has an unreadable check-in", "id", id, "check_in", booking.CheckIn)
		return nil, s.reject(opCancel, err, id)
	}
	now := s.now()
	if checkIn.Sub(now) < s.cfg.CancellationCutoff {
		s.metrics.Operation(opCancel, metrics.ResultRejected)
		return nil, mapDomainError(bookingserrors.ErrCancellationWindow, id).WithDetails(map[string]any{
			"check_in": booking.CheckIn,
			"cutoff":   s.cfg.CancellationCutoff.String(),
		})
	}

	stay, err := nights.Enumerate(booking.CheckIn, booking.CheckOut)
	if err != nil {
		return nil, s.reject(opCancel, err, id)
	}
	plan, err := txbuilder.Cancel(booking, len(lines), stay, s.timestamp())
	if err != nil {
		log.Error("Refusing to cancel booking without rooms", "id", id, "error", err)
		return nil, s.reject(opCancel, err, id)
	}

	if err := s.commit(ctx, opCancel, plan.Ops); err != nil {
		err = s.explainConflict(ctx, id, err)
		log.Warn("Failed to cancel booking", "id", id, "error", err)
		return nil, s.reject(opCancel, err, id)
	}

	s.metrics.Operation(opCancel, metrics.ResultSuccess)
	s.metrics.LocksReleased(len(booking.ReservedRooms) * len(stay))
	s.publish(ctx, events.TypeBookingCancelled, plan.Booking)

	log.Info("Booking cancelled successfully", "id", id, "rooms", booking.ReservedRooms)
	return plan.Booking, nil
}

func (s *bookingService) Modify(ctx context.Context, id string, patch *model.BookingPatch) (*model.BookingDetails, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}
	log := s.cfg.Log.FromContext(ctx)

	s.sanitizePatch(patch)
	if patch.IsEmpty() {
		return nil, mapDomainError(bookingserrors.ErrEmptyPatch, id)
	}
	if err := s.validator.ValidatePatch(patch); err != nil {
		log.Warn("Booking patch validation failed", "id", id, "error", err)
		return nil, apperrors.Validation("Invalid modification input", map[string]any{"errors": err})
	}

	old, oldLines, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.reject(opModify, err, id)
	}
	if old.Status == model.BookingStatusCancelled {
		return nil, s.reject(opModify, bookingserrors.ErrAlreadyCancelled, id)
	}

	var details *model.BookingDetails
	if patch.IsStructural() {
		details, err = s.move(ctx, old, oldLines, patch)
	} else {
		details, err = s.rewrite(ctx, old, oldLines, patch)
	}
	if err != nil {
		return nil, s.reject(opModify, err, id)
	}

	s.metrics.Operation(opModify, metrics.ResultSuccess)
	s.publish(ctx, events.TypeBookingModified, &details.Booking)

	log.Info("Booking modified successfully",
		"id", id,
		"structural", patch.IsStructural(),
		"check_in", details.CheckIn,
		"check_out", details.CheckOut,
		"rooms", details.ReservedRooms,
	)
	return details, nil
}

// rewrite applies a patch that leaves rooms and nights untouched.
func (s *bookingService) rewrite(ctx context.Context, old *model.Booking, lines []model.BookingLine, patch *model.BookingPatch) (*model.BookingDetails, error) {
	updated := *old
	updated.Name = pick(patch.Name, old.Name)
	updated.Email = pick(patch.Email, old.Email)
	updated.Note = pick(patch.Note, old.Note)
	at := s.timestamp()
	updated.ModifiedAt = &at

	written, ops, err := txbuilder.Rewrite(&updated)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, opModify, ops); err != nil {
		return nil, s.explainConflict(ctx, old.BookingID, err)
	}
	return &model.BookingDetails{Booking: *written, Lines: lines}, nil
}

// move re-selects rooms for the patched stay and switches the booking over in
// two steps: claim every new night, then drop the old-only nights while
// writing the new records. Nights kept by both states stay locked throughout.
func (s *bookingService) move(ctx context.Context, old *model.Booking, oldLines []model.BookingLine, patch *model.BookingPatch) (*model.BookingDetails, error) {
	log := s.cfg.Log.FromContext(ctx)

	roomTypes := patch.RoomTypes
	if roomTypes == nil {
		roomTypes = model.RoomTypeCounts(oldLines)
	}
	draft := txbuilder.Draft{
		CheckIn:  pick(patch.CheckIn, old.CheckIn),
		CheckOut: pick(patch.CheckOut, old.CheckOut),
		Guests:   pick(patch.Guests, old.Guests),
		Name:     pick(patch.Name, old.Name),
		Email:    pick(patch.Email, old.Email),
		Note:     pick(patch.Note, old.Note),
	}
	at := s.timestamp()
	draft.ModifiedAt = &at

	newStay, err := nights.Enumerate(draft.CheckIn, draft.CheckOut)
	if err != nil {
		return nil, err
	}
	oldStay, err := nights.Enumerate(old.CheckIn, old.CheckOut)
	if err != nil {
		return nil, err
	}

	catalog, err := s.rooms.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	sel, err := s.selector.Select(ctx, selector.Request{
		RoomTypes: roomTypes,
		Guests:    draft.Guests,
		Nights:    newStay,
		Owner:     old.BookingID,
	}, catalog)
	if err != nil {
		return nil, err
	}

	plan, err := txbuilder.Modify(old, len(oldLines), oldStay, draft, sel.Rooms, newStay)
	if err != nil {
		return nil, err
	}

	if err := s.commit(ctx, opModify, plan.Lock); err != nil {
		return nil, s.explainConflict(ctx, old.BookingID, err)
	}
	if err := s.commit(ctx, opModify, plan.Swap); err != nil {
		log.Warn("Booking swap rejected, releasing newly claimed nights", "id", old.BookingID, "error", err)
		s.compensate(ctx, old.BookingID, plan.Claimed)
		return nil, s.explainConflict(ctx, old.BookingID, err)
	}

	s.metrics.LocksAcquired(len(plan.Lock) - plan.Kept)
	s.metrics.LocksReleased(len(old.ReservedRooms)*len(oldStay) - plan.Kept)

	return &model.BookingDetails{Booking: *plan.Booking, Lines: plan.Lines}, nil
}

// compensate gives back the locks the first modify step claimed. It runs
// even if the request context is done. Each attempt plans against the booking
// as stored now; a rejected attempt either drops a lock that is no longer
// ours or re-reads the booking after it moved.
func (s *bookingService) compensate(ctx context.Context, id string, claimed []store.Key) {
	if len(claimed) == 0 {
		return
	}
	log := s.cfg.Log.FromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	pending := claimed
	for attempt := 0; attempt < len(claimed)+maxReleaseAttempts; attempt++ {
		current, _, err := s.repo.FindByID(ctx, id)
		if err != nil {
			log.Error("Failed to read booking for release", "id", id, "error", err)
			break
		}
		stay, err := nights.Enumerate(current.CheckIn, current.CheckOut)
		if err != nil {
			log.Error("Stored booking has an unreadable stay", "id", id, "error", err)
			break
		}
		ops, err := txbuilder.Release(current, stay, pending)
		if err != nil {
			log.Error("Failed to plan release", "id", id, "error", err)
			break
		}
		if len(ops) == 0 {
			s.metrics.Compensation(metrics.ResultSuccess)
			return
		}

		err = s.repo.ExecuteTransaction(ctx, ops)
		if err == nil {
			s.metrics.Compensation(metrics.ResultSuccess)
			return
		}
		var tce *store.TransactionCanceledError
		if !errors.As(err, &tce) {
			log.Error("Failed to release claimed night locks", "id", id, "error", err)
			break
		}
		for _, i := range tce.FailedIndexes() {
			if i > 0 {
				pending = without(pending, ops[i].Item.Key)
			}
		}
		log.Warn("Release rejected, retrying against the stored booking", "id", id, "attempt", attempt+1, "error", err)
	}

	s.metrics.Compensation(metrics.ResultError)
	log.Error("Giving up releasing claimed night locks", "id", id, "remaining", len(pending))
}

func without(keys []store.Key, drop store.Key) []store.Key {
	out := make([]store.Key, 0, len(keys))
	for _, k := range keys {
		if k != drop {
			out = append(out, k)
		}
	}
	return out
}

// explainConflict turns a rejected write on an existing booking into
// ErrAlreadyCancelled when the booking turns out to have been cancelled in the
// meantime.
func (s *bookingService) explainConflict(ctx context.Context, id string, err error) error {
	if !errors.Is(err, bookingserrors.ErrConcurrentConflict) {
		return err
	}
	current, _, findErr := s.repo.FindByID(ctx, id)
	if findErr == nil && current.Status == model.BookingStatusCancelled {
		return bookingserrors.ErrAlreadyCancelled
	}
	return err
}

func (s *bookingService) commit(ctx context.Context, op string, ops []store.Op) error {
	start := time.Now()
	err := s.repo.ExecuteTransaction(ctx, ops)
	s.metrics.Transaction(op, time.Since(start))
	return err
}

// reject records the outcome of a failed operation and maps err for the
// caller.
func (s *bookingService) reject(op string, err error, id string) error {
	switch {
	case errors.Is(err, bookingserrors.ErrConcurrentConflict):
		s.metrics.Operation(op, metrics.ResultConflict)
	case isDomainError(err):
		s.metrics.Operation(op, metrics.ResultRejected)
	default:
		s.metrics.Operation(op, metrics.ResultError)
	}
	return mapDomainError(err, id)
}

func (s *bookingService) publish(ctx context.Context, eventType string, booking *model.Booking) {
	if err := s.publisher.Publish(ctx, eventType, booking); err != nil {
		s.cfg.Log.FromContext(ctx).Warn("Failed to publish booking event",
			"id", booking.BookingID,
			"event_type", eventType,
			"error", err,
		)
	}
}

func (s *bookingService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *bookingService) sanitize(req *model.CreateBookingRequest) {
	req.Name = sanitizer.SanitizeGuestName(req.Name)
	req.Email = sanitizer.SanitizeEmail(req.Email)
	req.Note = sanitizer.SanitizeNote(req.Note)
}

func (s *bookingService) sanitizePatch(patch *model.BookingPatch) {
	if patch.Name != nil {
		*patch.Name = sanitizer.SanitizeGuestName(*patch.Name)
	}
	if patch.Email != nil {
		*patch.Email = sanitizer.SanitizeEmail(*patch.Email)
	}
	if patch.Note != nil {
		*patch.Note = sanitizer.SanitizeNote(*patch.Note)
	}
}

func pick[T any](patched *T, stored T) T {
	if patched != nil {
		return *patched
	}
	return stored
}
