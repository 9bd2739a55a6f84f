package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bonzai/internal/bookings/availability"
	bookingserrors "bonzai/internal/bookings/errors"
	"bonzai/internal/bookings/events"
	"bonzai/internal/bookings/nights"
	"bonzai/internal/bookings/records"
	"bonzai/internal/bookings/repository"
	"bonzai/internal/bookings/selector"
	"bonzai/internal/bookings/validator"
	roomsrepository "bonzai/internal/rooms/repository"
	"bonzai/pkg/config"
	apperrors "bonzai/pkg/errors"
	"bonzai/pkg/logger"
	"bonzai/pkg/model"
	"bonzai/pkg/store"
	"bonzai/pkg/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A check-in of 2025-09-18 is 24h after now and 2025-09-20 is 72h after.
var now = time.Date(2025, 9, 17, 0, 0, 0, 0, time.UTC)

var catalog = []model.Room{
	{RoomNo: 101, RoomName: "Garden Single", RoomType: model.RoomTypeSingle, GuestsAllowed: 1, Price: 80, IsAvailable: true},
	{RoomNo: 102, RoomName: "Court Single", RoomType: model.RoomTypeSingle, GuestsAllowed: 1, Price: 90, IsAvailable: true},
	{RoomNo: 201, RoomName: "Garden Double", RoomType: model.RoomTypeDouble, GuestsAllowed: 2, Price: 120, IsAvailable: true},
	{RoomNo: 202, RoomName: "Court Double", RoomType: model.RoomTypeDouble, GuestsAllowed: 2, Price: 130, IsAvailable: true},
	{RoomNo: 301, RoomName: "Tower Suite", RoomType: model.RoomTypeSuite, GuestsAllowed: 4, Price: 300, IsAvailable: true},
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ *model.Booking) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	return p.err
}

// gatedStore holds the first n transactions until all n have arrived, so
// every participant has finished its advisory selection before any commit.
type gatedStore struct {
	store.Store
	arrivals  sync.WaitGroup
	remaining atomic.Int32
}

func newGatedStore(inner store.Store, n int) *gatedStore {
	g := &gatedStore{Store: inner}
	g.arm(n)
	return g
}

// arm gates the next n transactions. It must not race with TransactWrite.
func (g *gatedStore) arm(n int) {
	g.arrivals.Add(n)
	g.remaining.Store(int32(n))
}

func (g *gatedStore) TransactWrite(ctx context.Context, ops []store.Op) error {
	if g.remaining.Add(-1) >= 0 {
		g.arrivals.Done()
		g.arrivals.Wait()
	}
	return g.Store.TransactWrite(ctx, ops)
}

// failingStore rejects the transaction with the given 1-based call number.
type failingStore struct {
	store.Store
	failOn int32
	calls  atomic.Int32
}

func (f *failingStore) TransactWrite(ctx context.Context, ops []store.Op) error {
	if f.calls.Add(1) == f.failOn {
		return store.Canceled(len(ops), len(ops)-1)
	}
	return f.Store.TransactWrite(ctx, ops)
}

// interleavingStore runs hook right before the n-th transaction after it is
// armed, so another operation can commit between a read and its writes.
// Transactions made by the hook itself are not counted.
type interleavingStore struct {
	store.Store
	mu    sync.Mutex
	calls int
	at    int
	hook  func()
}

func (s *interleavingStore) before(n int, hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls, s.at, s.hook = 0, n, hook
}

func (s *interleavingStore) TransactWrite(ctx context.Context, ops []store.Op) error {
	s.mu.Lock()
	var hook func()
	if s.hook != nil {
		s.calls++
		if s.calls == s.at {
			hook, s.hook = s.hook, nil
		}
	}
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return s.Store.TransactWrite(ctx, ops)
}

type fixture struct {
	svc       BookingService
	store     *memory.Store
	publisher *recordingPublisher
}

func newFixture(t *testing.T, wrap func(store.Store) store.Store, retries int) *fixture {
	t.Helper()
	mem := memory.New()
	require.NoError(t, roomsrepository.NewRoomRepository(mem).Upsert(context.Background(), catalog))

	var s store.Store = mem
	if wrap != nil {
		s = wrap(mem)
	}

	log := logger.Discard()
	cfg := &config.Config{
		Log:                    log,
		CancellationCutoff:     48 * time.Hour,
		BookingConflictRetries: retries,
	}
	publisher := &recordingPublisher{}
	var seq atomic.Int32
	svc := NewBookingService(
		repository.NewBookingRepository(s),
		roomsrepository.NewRoomRepository(s),
		selector.New(availability.NewProber(s)),
		validator.NewBookingValidator(log),
		publisher,
		nil,
		cfg,
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return fmt.Sprintf("b-%d", seq.Add(1)) }),
	)
	return &fixture{svc: svc, store: mem, publisher: publisher}
}

func request(types map[model.RoomType]int, guests int, checkIn, checkOut string) *model.CreateBookingRequest {
	return &model.CreateBookingRequest{
		RoomTypes: types,
		Guests:    guests,
		CheckIn:   checkIn,
		CheckOut:  checkOut,
		Name:      "  Ada   Lovelace ",
		Email:     "Ada@Example.com",
	}
}

func ptr[T any](v T) *T { return &v }

func requireCode(t *testing.T, err error, code string, status int) {
	t.Helper()
	require.Error(t, err)
	appErr := apperrors.AsAppError(err)
	assert.Equal(t, code, appErr.Code, err.Error())
	assert.Equal(t, status, appErr.StatusCode())
}

// lockOwners returns every lock for rooms over the given nights, keyed by
// lock key, with its owner.
func (f *fixture) lockOwners(t *testing.T, rooms []int, span []string) map[store.Key]string {
	t.Helper()
	out := make(map[store.Key]string)
	for _, key := range records.LockKeys(rooms, span) {
		item, err := f.store.Get(context.Background(), key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		require.NoError(t, err)
		out[key] = item.Owner
	}
	return out
}

func allRooms() []int {
	out := make([]int, len(catalog))
	for i, r := range catalog {
		out[i] = r.RoomNo
	}
	return out
}

func mustNights(t *testing.T, checkIn, checkOut string) []string {
	t.Helper()
	span, err := nights.Enumerate(checkIn, checkOut)
	require.NoError(t, err)
	return span
}

func assertHoldsExactly(t *testing.T, f *fixture, b *model.Booking, window []string) {
	t.Helper()
	want := make(map[store.Key]string)
	for _, key := range records.LockKeys(b.ReservedRooms, mustNights(t, b.CheckIn, b.CheckOut)) {
		want[key] = b.BookingID
	}
	got := make(map[store.Key]string)
	for key, owner := range f.lockOwners(t, allRooms(), window) {
		if owner == b.BookingID {
			got[key] = owner
		}
	}
	assert.Equal(t, want, got)
}

func TestCreate_LocksEqualRoomsTimesNights(t *testing.T) {
	f := newFixture(t, nil, 0)

	details, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeSingle: 1, model.RoomTypeDouble: 1}, 3, "2025-09-20", "2025-09-22"))
	require.NoError(t, err)

	assert.Equal(t, "b-1", details.BookingID)
	assert.Equal(t, model.BookingStatusConfirmed, details.Status)
	assert.Equal(t, []int{101, 201}, details.ReservedRooms)
	assert.Equal(t, 2, details.RoomsCount)
	assert.Equal(t, 3, details.TotalCapacity)
	assert.Equal(t, 400.0, details.TotalPrice)
	assert.Equal(t, "Ada Lovelace", details.Name)
	assert.Equal(t, "ada@example.com", details.Email)
	require.Len(t, details.Lines, 2)
	assert.Equal(t, 160.0, details.Lines[0].LineTotal)

	assertHoldsExactly(t, f, &details.Booking, mustNights(t, "2025-09-19", "2025-09-24"))
	assert.Equal(t, []string{events.TypeBookingCreated}, f.publisher.types)

	stored, err := f.svc.GetByID(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, details.ReservedRooms, stored.ReservedRooms)
	assert.Equal(t, details.Lines, stored.Lines)
}

func TestCreate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		req    *model.CreateBookingRequest
		code   string
		status int
	}{
		{
			name:   "one single for three guests",
			req:    request(map[model.RoomType]int{model.RoomTypeSingle: 1}, 3, "2025-09-20", "2025-09-22"),
			code:   bookingserrors.CodeInsufficientCapacity,
			status: http.StatusConflict,
		},
		{
			name:   "more suites than exist",
			req:    request(map[model.RoomType]int{model.RoomTypeSuite: 2}, 2, "2025-09-20", "2025-09-22"),
			code:   bookingserrors.CodeInsufficientInventory,
			status: http.StatusConflict,
		},
		{
			name:   "check-out before check-in",
			req:    request(map[model.RoomType]int{model.RoomTypeSingle: 1}, 1, "2025-09-22", "2025-09-20"),
			code:   bookingserrors.CodeInvalidRange,
			status: http.StatusBadRequest,
		},
		{
			name:   "zero nights",
			req:    request(map[model.RoomType]int{model.RoomTypeSingle: 1}, 1, "2025-09-20", "2025-09-20"),
			code:   bookingserrors.CodeInvalidRange,
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown room type",
			req:    request(map[model.RoomType]int{"penthouse": 1}, 1, "2025-09-20", "2025-09-22"),
			code:   bookingserrors.CodeInvalidRoomType,
			status: http.StatusBadRequest,
		},
		{
			name:   "nothing requested",
			req:    request(map[model.RoomType]int{model.RoomTypeSingle: 0}, 1, "2025-09-20", "2025-09-22"),
			code:   apperrors.CodeInvalidInput,
			status: http.StatusBadRequest,
		},
		{
			name:   "malformed email",
			req:    &model.CreateBookingRequest{RoomTypes: map[model.RoomType]int{model.RoomTypeSingle: 1}, Guests: 1, CheckIn: "2025-09-20", CheckOut: "2025-09-21", Name: "Ada", Email: "nope"},
			code:   apperrors.CodeValidation,
			status: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, 0)
			before := f.store.Len()

			_, err := f.svc.Create(context.Background(), tt.req)
			requireCode(t, err, tt.code, tt.status)
			assert.Equal(t, before, f.store.Len(), "a rejected create must not write anything")
			assert.Empty(t, f.publisher.types)
		})
	}
}

func TestCreate_ConcurrentRequestsForSoleRoom(t *testing.T) {
	f := newFixture(t, func(s store.Store) store.Store { return newGatedStore(s, 2) }, 0)

	var wg sync.WaitGroup
	results := make([]error, 2)
	ids := make([]string, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			details, err := f.svc.Create(context.Background(), request(
				map[model.RoomType]int{model.RoomTypeSuite: 1}, 2, "2025-09-20", "2025-09-23"))
			results[i] = err
			if details != nil {
				ids[i] = details.BookingID
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	var winner string
	for i, err := range results {
		if err == nil {
			winners++
			winner = ids[i]
			continue
		}
		requireCode(t, err, bookingserrors.CodeConcurrentConflict, http.StatusConflict)
	}
	require.Equal(t, 1, winners)

	span := mustNights(t, "2025-09-20", "2025-09-23")
	owners := f.lockOwners(t, []int{301}, span)
	require.Len(t, owners, len(span))
	for key, owner := range owners {
		assert.Equal(t, winner, owner, key.String())
	}
}

func TestCreate_RetriesWithFreshSelection(t *testing.T) {
	f := newFixture(t, func(s store.Store) store.Store { return newGatedStore(s, 2) }, 1)

	var wg sync.WaitGroup
	results := make([]*model.BookingDetails, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Create(context.Background(), request(
				map[model.RoomType]int{model.RoomTypeDouble: 1}, 2, "2025-09-20", "2025-09-22"))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.ElementsMatch(t, []int{201, 202}, []int{results[0].ReservedRooms[0], results[1].ReservedRooms[0]})
}

func TestCreate_NoDoubleLockUnderContention(t *testing.T) {
	f := newFixture(t, nil, 2)

	stays := [][2]string{
		{"2025-09-20", "2025-09-23"},
		{"2025-09-21", "2025-09-22"},
		{"2025-09-22", "2025-09-25"},
		{"2025-09-19", "2025-09-21"},
		{"2025-09-20", "2025-09-21"},
		{"2025-09-23", "2025-09-24"},
		{"2025-09-21", "2025-09-24"},
		{"2025-09-20", "2025-09-25"},
	}

	var mu sync.Mutex
	var created []*model.Booking
	var wg sync.WaitGroup
	for _, stay := range stays {
		wg.Add(1)
		go func(checkIn, checkOut string) {
			defer wg.Done()
			details, err := f.svc.Create(context.Background(), request(
				map[model.RoomType]int{model.RoomTypeDouble: 1}, 2, checkIn, checkOut))
			if err != nil {
				appErr := apperrors.AsAppError(err)
				assert.Contains(t, []string{bookingserrors.CodeConcurrentConflict, bookingserrors.CodeInsufficientInventory}, appErr.Code)
				return
			}
			mu.Lock()
			created = append(created, &details.Booking)
			mu.Unlock()
		}(stay[0], stay[1])
	}
	wg.Wait()

	require.NotEmpty(t, created)
	window := mustNights(t, "2025-09-18", "2025-09-26")
	total := 0
	for _, b := range created {
		assertHoldsExactly(t, f, b, window)
		total += len(b.ReservedRooms) * len(mustNights(t, b.CheckIn, b.CheckOut))
	}
	assert.Len(t, f.lockOwners(t, allRooms(), window), total)
}

func TestCancel_Window(t *testing.T) {
	tests := []struct {
		name    string
		checkIn string
		wantErr string
	}{
		{name: "24h before check-in", checkIn: "2025-09-18", wantErr: bookingserrors.CodeCancellationWindow},
		{name: "exactly the cutoff", checkIn: "2025-09-19"},
		{name: "72h before check-in", checkIn: "2025-09-20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, 0)
			created, err := f.svc.Create(context.Background(), request(
				map[model.RoomType]int{model.RoomTypeSingle: 1}, 1, tt.checkIn, "2025-09-26"))
			require.NoError(t, err)

			_, err = f.svc.Cancel(context.Background(), created.BookingID)
			if tt.wantErr != "" {
				requireCode(t, err, tt.wantErr, http.StatusConflict)
				assertHoldsExactly(t, f, &created.Booking, mustNights(t, "2025-09-17", "2025-09-27"))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCancel_TeardownIsCompleteAndNotRepeatable(t *testing.T) {
	f := newFixture(t, nil, 0)
	created, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeSingle: 2, model.RoomTypeSuite: 1}, 4, "2025-09-20", "2025-09-23"))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), created.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.ModifiedAt)
	assert.Equal(t, created.ReservedRooms, cancelled.ReservedRooms)

	assert.Empty(t, f.lockOwners(t, allRooms(), mustNights(t, "2025-09-19", "2025-09-24")))

	stored, err := f.svc.GetByID(context.Background(), created.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, stored.Status)
	assert.Empty(t, stored.Lines)

	_, err = f.svc.Cancel(context.Background(), created.BookingID)
	requireCode(t, err, bookingserrors.CodeAlreadyCancelled, http.StatusConflict)
	assert.Equal(t, []string{events.TypeBookingCreated, events.TypeBookingCancelled}, f.publisher.types)
}

func TestCancel_ConcurrentCancellationsHaveOneWinner(t *testing.T) {
	var gated *gatedStore
	f := newFixture(t, func(s store.Store) store.Store {
		gated = newGatedStore(s, 0)
		return gated
	}, 0)

	created, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeSingle: 1}, 1, "2025-09-20", "2025-09-22"))
	require.NoError(t, err)

	// Both cancellations read the booking as CONFIRMED before either commits.
	gated.arm(2)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Cancel(context.Background(), created.BookingID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		requireCode(t, err, bookingserrors.CodeAlreadyCancelled, http.StatusConflict)
	}
	assert.Equal(t, 1, successes)
	assert.Empty(t, f.lockOwners(t, []int{101}, mustNights(t, "2025-09-20", "2025-09-22")))
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t, nil, 0)
	_, err := f.svc.Cancel(context.Background(), "missing")
	requireCode(t, err, apperrors.CodeNotFound, http.StatusNotFound)
}

func TestModify_MovesLocksToNewStay(t *testing.T) {
	f := newFixture(t, nil, 0)
	created, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeSingle: 1, model.RoomTypeDouble: 1}, 3, "2025-09-20", "2025-09-22"))
	require.NoError(t, err)

	modified, err := f.svc.Modify(context.Background(), created.BookingID, &model.BookingPatch{
		CheckIn:  ptr("2025-09-21"),
		CheckOut: ptr("2025-09-24"),
	})
	require.NoError(t, err)

	assert.Equal(t, created.BookingID, modified.BookingID)
	assert.Equal(t, created.CreatedAt, modified.CreatedAt)
	assert.Equal(t, []int{101, 201}, modified.ReservedRooms, "self-held nights must not block re-selecting the same rooms")
	assert.Equal(t, 600.0, modified.TotalPrice)
	require.NotNil(t, modified.ModifiedAt)

	window := mustNights(t, "2025-09-19", "2025-09-25")
	assertHoldsExactly(t, f, &modified.Booking, window)
	assert.Len(t, f.lockOwners(t, allRooms(), window), 6)
	assert.Equal(t, []string{events.TypeBookingCreated, events.TypeBookingModified}, f.publisher.types)
}

func TestModify_DroppedRoomLeavesNoLocks(t *testing.T) {
	f := newFixture(t, nil, 0)
	created, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeSingle: 1, model.RoomTypeDouble: 1, model.RoomTypeSuite: 1}, 2, "2025-09-20", "2025-09-22"))
	require.NoError(t, err)

	modified, err := f.svc.Modify(context.Background(), created.BookingID, &model.BookingPatch{
		RoomTypes: map[model.RoomType]int{model.RoomTypeDouble: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{201}, modified.ReservedRooms)
	require.Len(t, modified.Lines, 1)

	window := mustNights(t, "2025-09-20", "2025-09-22")
	assert.Empty(t, f.lockOwners(t, []int{101, 301}, window))
	assertHoldsExactly(t, f, &modified.Booking, window)

	stored, err := f.svc.GetByID(context.Background(), created.BookingID)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 1, "stale lines must be removed")
}

func TestModify_KeepsExistingRoomTypesByDefault(t *testing.T) {
	f := newFixture(t, nil, 0)
	created, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeSingle: 2}, 2, "2025-09-20", "2025-09-22"))
	require.NoError(t, err)

	_, err = f.svc.Modify(context.Background(), created.BookingID, &model.BookingPatch{Guests: ptr(3)})
	requireCode(t, err, bookingserrors.CodeInsufficientCapacity, http.StatusConflict)

	modified, err := f.svc.Modify(context.Background(), created.BookingID, &model.BookingPatch{CheckOut: ptr("2025-09-23")})
	require.NoError(t, err)
	assert.Equal(t, []int{101, 102}, modified.ReservedRooms)
	assert.Equal(t, 2, modified.Guests)
}

func TestModify_BlockedByAnotherBooking(t *testing.T) {
	f := newFixture(t, nil, 0)
	other, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeSuite: 1}, 2, "2025-09-22", "2025-09-24"))
	require.NoError(t, err)
	mine, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeSingle: 1}, 1, "2025-09-20", "2025-09-22"))
	require.NoError(t, err)

	_, err = f.svc.Modify(context.Background(), mine.BookingID, &model.BookingPatch{
		RoomTypes: map[model.RoomType]int{model.RoomTypeSuite: 1},
		CheckOut:  ptr("2025-09-23"),
	})
	requireCode(t, err, bookingserrors.CodeInsufficientInventory, http.StatusConflict)

	window := mustNights(t, "2025-09-19", "2025-09-25")
	assertHoldsExactly(t, f, &other.Booking, window)
	assertHoldsExactly(t, f, &mine.Booking, window)
}

func TestModify_RejectedSwapReleasesNewLocks(t *testing.T) {
	// Calls: 1 create, 2 lock, 3 swap (rejected), 4 release.
	f := newFixture(t, func(s store.Store) store.Store { return &failingStore{Store: s, failOn: 3} }, 0)
	created, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeSingle: 1}, 1, "2025-09-20", "2025-09-22"))
	require.NoError(t, err)

	_, err = f.svc.Modify(context.Background(), created.BookingID, &model.BookingPatch{
		RoomTypes: map[model.RoomType]int{model.RoomTypeSingle: 2},
		Guests:    ptr(2),
		CheckOut:  ptr("2025-09-23"),
	})
	requireCode(t, err, bookingserrors.CodeConcurrentConflict, http.StatusConflict)

	window := mustNights(t, "2025-09-19", "2025-09-24")
	assertHoldsExactly(t, f, &created.Booking, window)
	assert.Len(t, f.lockOwners(t, allRooms(), window), 2)

	stored, err := f.svc.GetByID(context.Background(), created.BookingID)
	require.NoError(t, err)
	assert.Equal(t, created.CheckOut, stored.CheckOut)
	assert.Equal(t, []int{101}, stored.ReservedRooms)
}

func TestModify_ContactDetailsOnly(t *testing.T) {
	f := newFixture(t, nil, 0)
	created, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeDouble: 1}, 2, "2025-09-20", "2025-09-22"))
	require.NoError(t, err)
	before := f.lockOwners(t, allRooms(), mustNights(t, "2025-09-20", "2025-09-22"))

	modified, err := f.svc.Modify(context.Background(), created.BookingID, &model.BookingPatch{
		Name: ptr(" Grace  Hopper "),
		Note: ptr("late arrival"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Grace Hopper", modified.Name)
	assert.Equal(t, "late arrival", modified.Note)
	assert.Equal(t, created.Email, modified.Email)
	assert.Equal(t, created.Lines, modified.Lines)
	require.NotNil(t, modified.ModifiedAt)
	assert.Equal(t, before, f.lockOwners(t, allRooms(), mustNights(t, "2025-09-20", "2025-09-22")))
}

func TestModify_Rejections(t *testing.T) {
	f := newFixture(t, nil, 0)
	created, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeDouble: 1}, 2, "2025-09-20", "2025-09-22"))
	require.NoError(t, err)

	_, err = f.svc.Modify(context.Background(), created.BookingID, &model.BookingPatch{})
	requireCode(t, err, apperrors.CodeInvalidInput, http.StatusBadRequest)

	_, err = f.svc.Modify(context.Background(), created.BookingID, &model.BookingPatch{CheckIn: ptr("2025-09-22")})
	requireCode(t, err, bookingserrors.CodeInvalidRange, http.StatusBadRequest)

	_, err = f.svc.Modify(context.Background(), "missing", &model.BookingPatch{Note: ptr("hi")})
	requireCode(t, err, apperrors.CodeNotFound, http.StatusNotFound)

	_, err = f.svc.Cancel(context.Background(), created.BookingID)
	require.NoError(t, err)
	_, err = f.svc.Modify(context.Background(), created.BookingID, &model.BookingPatch{Note: ptr("hi")})
	requireCode(t, err, bookingserrors.CodeAlreadyCancelled, http.StatusConflict)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.publisher.err = errors.New("broker down")

	_, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeSingle: 1}, 1, "2025-09-20", "2025-09-22"))
	assert.NoError(t, err)
}

func TestReadPaths(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	early, err := f.svc.Create(ctx, request(map[model.RoomType]int{model.RoomTypeSingle: 1}, 1, "2025-09-20", "2025-09-22"))
	require.NoError(t, err)
	late, err := f.svc.Create(ctx, request(map[model.RoomType]int{model.RoomTypeDouble: 1}, 2, "2025-09-21", "2025-09-25"))
	require.NoError(t, err)
	cancelled, err := f.svc.Create(ctx, request(map[model.RoomType]int{model.RoomTypeSuite: 1}, 2, "2025-09-21", "2025-09-22"))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, cancelled.BookingID)
	require.NoError(t, err)

	ids := func(bs []*model.Booking) []string {
		out := make([]string, len(bs))
		for i, b := range bs {
			out[i] = b.BookingID
		}
		return out
	}

	onDate, err := f.svc.GetByDate(ctx, "2025-09-21")
	require.NoError(t, err)
	assert.Equal(t, []string{early.BookingID, late.BookingID}, ids(onDate))

	onDate, err = f.svc.GetByDate(ctx, "2025-09-22")
	require.NoError(t, err)
	assert.Equal(t, []string{late.BookingID}, ids(onDate), "check-out day is not a night")

	inRange, err := f.svc.GetByInterval(ctx, "2025-09-18", "2025-09-21")
	require.NoError(t, err)
	assert.Equal(t, []string{early.BookingID}, ids(inRange))

	all, total, err := f.svc.GetAll(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 3)

	_, err = f.svc.GetByDate(ctx, "21-09-2025")
	requireCode(t, err, bookingserrors.CodeInvalidRange, http.StatusBadRequest)
	_, err = f.svc.GetByID(ctx, "missing")
	requireCode(t, err, apperrors.CodeNotFound, http.StatusNotFound)
}

func newInterleavedFixture(t *testing.T) (*fixture, *interleavingStore) {
	t.Helper()
	var inter *interleavingStore
	f := newFixture(t, func(s store.Store) store.Store {
		inter = &interleavingStore{Store: s}
		return inter
	}, 0)
	return f, inter
}

// assertStoredState checks the round-trip invariant on what is stored now:
// a live booking holds exactly its rooms x nights, a cancelled one nothing.
func assertStoredState(t *testing.T, f *fixture, id string, window []string) *model.BookingDetails {
	t.Helper()
	stored, err := f.svc.GetByID(context.Background(), id)
	require.NoError(t, err)

	if stored.Status == model.BookingStatusCancelled {
		assert.Empty(t, f.lockOwners(t, allRooms(), window), "a cancelled booking holds no nights")
		return stored
	}
	assertHoldsExactly(t, f, &stored.Booking, window)
	assert.Len(t, f.lockOwners(t, allRooms(), window), len(stored.ReservedRooms)*len(mustNights(t, stored.CheckIn, stored.CheckOut)))
	return stored
}

func TestInterleavedOperationsOnOneBooking(t *testing.T) {
	window := mustNights(t, "2025-09-19", "2025-09-30")
	moveTo := func(checkIn, checkOut string) *model.BookingPatch {
		return &model.BookingPatch{CheckIn: ptr(checkIn), CheckOut: ptr(checkOut)}
	}

	tests := []struct {
		name string
		// at is the transaction of the outer operation the inner one runs
		// before: 1 is its first write, 2 the swap of a structural modify.
		at       int
		inner    func(svc BookingService, id string) error
		outer    func(svc BookingService, id string) error
		wantCode string
		check    func(t *testing.T, stored *model.BookingDetails)
	}{
		{
			name: "modify commits between cancel read and write",
			at:   1,
			inner: func(svc BookingService, id string) error {
				_, err := svc.Modify(context.Background(), id, moveTo("2025-09-25", "2025-09-27"))
				return err
			},
			outer: func(svc BookingService, id string) error {
				_, err := svc.Cancel(context.Background(), id)
				return err
			},
			wantCode: bookingserrors.CodeConcurrentConflict,
			check: func(t *testing.T, stored *model.BookingDetails) {
				assert.Equal(t, model.BookingStatusConfirmed, stored.Status)
				assert.Equal(t, "2025-09-25", stored.CheckIn)
			},
		},
		{
			name: "modify commits before another modify claims",
			at:   1,
			inner: func(svc BookingService, id string) error {
				_, err := svc.Modify(context.Background(), id, moveTo("2025-09-25", "2025-09-27"))
				return err
			},
			outer: func(svc BookingService, id string) error {
				_, err := svc.Modify(context.Background(), id, moveTo("2025-09-28", "2025-09-29"))
				return err
			},
			wantCode: bookingserrors.CodeConcurrentConflict,
			check: func(t *testing.T, stored *model.BookingDetails) {
				assert.Equal(t, "2025-09-25", stored.CheckIn)
				assert.Equal(t, "2025-09-27", stored.CheckOut)
			},
		},
		{
			name: "modify commits between another modify claim and swap",
			at:   2,
			inner: func(svc BookingService, id string) error {
				_, err := svc.Modify(context.Background(), id, moveTo("2025-09-21", "2025-09-24"))
				return err
			},
			outer: func(svc BookingService, id string) error {
				_, err := svc.Modify(context.Background(), id, moveTo("2025-09-21", "2025-09-23"))
				return err
			},
			wantCode: bookingserrors.CodeConcurrentConflict,
			check: func(t *testing.T, stored *model.BookingDetails) {
				assert.Equal(t, "2025-09-24", stored.CheckOut)
			},
		},
		{
			name: "cancel commits before modify claims overlapping nights",
			at:   1,
			inner: func(svc BookingService, id string) error {
				_, err := svc.Cancel(context.Background(), id)
				return err
			},
			outer: func(svc BookingService, id string) error {
				_, err := svc.Modify(context.Background(), id, moveTo("2025-09-21", "2025-09-24"))
				return err
			},
			wantCode: bookingserrors.CodeAlreadyCancelled,
			check: func(t *testing.T, stored *model.BookingDetails) {
				assert.Equal(t, model.BookingStatusCancelled, stored.Status)
			},
		},
		{
			name: "cancel commits between modify claim and swap",
			at:   2,
			inner: func(svc BookingService, id string) error {
				_, err := svc.Cancel(context.Background(), id)
				return err
			},
			outer: func(svc BookingService, id string) error {
				_, err := svc.Modify(context.Background(), id, moveTo("2025-09-25", "2025-09-27"))
				return err
			},
			wantCode: bookingserrors.CodeAlreadyCancelled,
			check: func(t *testing.T, stored *model.BookingDetails) {
				assert.Equal(t, model.BookingStatusCancelled, stored.Status)
				assert.Equal(t, "2025-09-20", stored.CheckIn)
			},
		},
		{
			name: "modify commits between contact rewrite read and write",
			at:   1,
			inner: func(svc BookingService, id string) error {
				_, err := svc.Modify(context.Background(), id, moveTo("2025-09-25", "2025-09-27"))
				return err
			},
			outer: func(svc BookingService, id string) error {
				_, err := svc.Modify(context.Background(), id, &model.BookingPatch{Name: ptr("Grace Hopper")})
				return err
			},
			wantCode: bookingserrors.CodeConcurrentConflict,
			check: func(t *testing.T, stored *model.BookingDetails) {
				assert.Equal(t, "2025-09-25", stored.CheckIn, "the move must not be reverted")
				assert.Equal(t, "Ada Lovelace", stored.Name)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, inter := newInterleavedFixture(t)
			created, err := f.svc.Create(context.Background(), request(
				map[model.RoomType]int{model.RoomTypeSingle: 1}, 1, "2025-09-20", "2025-09-22"))
			require.NoError(t, err)
			id := created.BookingID

			inter.before(tt.at, func() {
				require.NoError(t, tt.inner(f.svc, id))
			})
			err = tt.outer(f.svc, id)
			requireCode(t, err, tt.wantCode, http.StatusConflict)

			stored := assertStoredState(t, f, id, window)
			tt.check(t, stored)
		})
	}
}

func TestInterleavedModify_CancelAfterwardsClearsEverything(t *testing.T) {
	window := mustNights(t, "2025-09-19", "2025-09-30")
	f, inter := newInterleavedFixture(t)
	created, err := f.svc.Create(context.Background(), request(
		map[model.RoomType]int{model.RoomTypeSingle: 1}, 1, "2025-09-20", "2025-09-22"))
	require.NoError(t, err)

	inter.before(1, func() {
		_, err := f.svc.Modify(context.Background(), created.BookingID, &model.BookingPatch{
			CheckIn:  ptr("2025-09-25"),
			CheckOut: ptr("2025-09-27"),
		})
		require.NoError(t, err)
	})
	_, err = f.svc.Cancel(context.Background(), created.BookingID)
	requireCode(t, err, bookingserrors.CodeConcurrentConflict, http.StatusConflict)

	// Retrying from scratch sees the moved stay and tears all of it down.
	cancelled, err := f.svc.Cancel(context.Background(), created.BookingID)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-25", cancelled.CheckIn)
	assert.Empty(t, f.lockOwners(t, allRooms(), window))
}
