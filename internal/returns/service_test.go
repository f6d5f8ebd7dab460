package returns

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type memoryRepo struct {
	returns   map[uuid.UUID]Return
	balances  map[string]inventory.Balance
	movements []inventory.Movement
	failOn    string
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{returns: make(map[uuid.UUID]Return), balances: make(map[string]inventory.Balance)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	returns := make(map[uuid.UUID]Return, len(r.returns))
	for k, v := range r.returns {
		returns[k] = v
	}
	balances := make(map[string]inventory.Balance, len(r.balances))
	for k, v := range r.balances {
		balances[k] = v
	}
	movements := append([]inventory.Movement(nil), r.movements...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.returns, r.balances, r.movements = returns, balances, movements
		return err
	}
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id uuid.UUID) (Return, error) {
	ret, ok := r.returns[id]
	if !ok {
		return Return{}, ErrNotFound
	}
	return ret, nil
}

func (r *memoryRepo) List(_ context.Context, filter ListFilter) ([]Return, error) {
	var out []Return
	for _, ret := range r.returns {
		if filter.Status == "" || ret.Status == filter.Status {
			out = append(out, ret)
		}
	}
	return out, nil
}

func (tx *memoryTx) NextNumber(_ context.Context, at time.Time) (string, error) {
	return shared.FormatDocNumber(shared.DocPrefixReturn, at, len(tx.repo.returns)+1), nil
}

func (tx *memoryTx) Insert(_ context.Context, ret Return) error {
	tx.repo.returns[ret.ID] = ret
	return nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id uuid.UUID) (Return, error) {
	return tx.repo.Get(ctx, id)
}

func (tx *memoryTx) UpdateDecision(_ context.Context, ret Return) error {
	tx.repo.returns[ret.ID] = ret
	return nil
}

func (tx *memoryTx) Ledger() inventory.TxRepository {
	return memoryLedger{repo: tx.repo}
}

type memoryLedger struct {
	repo *memoryRepo
}

func (l memoryLedger) GetBalanceForUpdate(_ context.Context, code string) (inventory.Balance, error) {
	if b, ok := l.repo.balances[code]; ok {
		return b, nil
	}
	return inventory.Balance{}, inventory.ErrBalanceNotFound
}

func (l memoryLedger) UpsertBalance(_ context.Context, b inventory.Balance) error {
	if b.ProductCode == l.repo.failOn {
		return errLedgerDown
	}
	l.repo.balances[b.ProductCode] = b
	return nil
}

func (l memoryLedger) InsertMovement(_ context.Context, m inventory.Movement) (int64, error) {
	l.repo.movements = append(l.repo.movements, m)
	return int64(len(l.repo.movements)), nil
}

var errLedgerDown = errors.New("ledger unavailable")

var (
	staff   = shared.Actor{ID: "store-1", Role: shared.RoleStore}
	manager = shared.Actor{ID: "mgr-1", Role: shared.RoleManager}
)

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, inventory.NewService(nil, nil, nil, nil, nil), rbac.NewService(nil, nil), nil, nil, nil, nil, nil)
}

func submitReturn(t *testing.T, svc *Service) Return {
	t.Helper()
	ret, err := svc.Submit(context.Background(), staff, SubmitInput{
		Reason: " damaged box ",
		Items: []ItemInput{
			{ProductCode: "P-1", Qty: 2},
			{ProductCode: "P-2", Qty: 1.5},
		},
	})
	require.NoError(t, err)
	return ret
}

func TestApproveRestocksEveryLine(t *testing.T) {
	repo := newMemoryRepo()
	repo.balances["P-1"] = inventory.Balance{ProductCode: "P-1", OnHand: 3, Reserved: 1}
	svc := newTestService(repo)
	ret := submitReturn(t, svc)
	require.Equal(t, StatusPending, ret.Status)
	require.Equal(t, "damaged box", ret.Reason)
	require.True(t, strings.HasPrefix(ret.Number, "RET-"))

	approved, err := svc.Approve(context.Background(), manager, ret.ID, "")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, manager.ID, approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	require.Equal(t, 5.0, repo.balances["P-1"].OnHand)
	require.Equal(t, 1.0, repo.balances["P-1"].Reserved)
	require.Equal(t, 1.5, repo.balances["P-2"].OnHand)
	require.Len(t, repo.movements, 2)
	require.Equal(t, ret.Number, repo.movements[0].RefID)

	_, err = svc.Approve(context.Background(), manager, ret.ID, "")
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Len(t, repo.movements, 2)
}

func TestApproveFailureLeavesNothingApplied(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ret := submitReturn(t, svc)
	repo.failOn = "P-2"

	_, err := svc.Approve(context.Background(), manager, ret.ID, "")
	require.Error(t, err)
	require.Empty(t, repo.movements)
	require.Empty(t, repo.balances)
	require.Equal(t, StatusPending, repo.returns[ret.ID].Status)
}

func TestRejectHasNoLedgerEffect(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ret := submitReturn(t, svc)

	rejected, err := svc.Reject(context.Background(), manager, ret.ID, "not ours", "")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Empty(t, repo.movements)

	_, err = svc.Approve(context.Background(), manager, ret.ID, "")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDecisionsRequireApprover(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ret := submitReturn(t, svc)

	_, err := svc.Approve(context.Background(), staff, ret.ID, "")
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Reject(context.Background(), shared.Actor{ID: "p", Role: shared.RolePicker}, ret.ID, "", "")
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.Equal(t, StatusPending, repo.returns[ret.ID].Status)
}

func TestSubmitValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.Submit(context.Background(), staff, SubmitInput{Items: []ItemInput{{ProductCode: " ", Qty: 0}}})
	var verrs shared.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Contains(t, verrs.Fields(), "items[0].product_code")
	require.Contains(t, verrs.Fields(), "items[0].qty")

	_, err = svc.Submit(context.Background(), staff, SubmitInput{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestHandlerApproveFlow(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ret := submitReturn(t, svc)
	router := chi.NewRouter()
	NewHandler(slog.Default(), svc).MountRoutes(router)

	do := func(actor *shared.Actor, method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if actor != nil {
			req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusUnauthorized, do(nil, http.MethodPost, "/"+ret.ID.String()+"/approve").Code)
	require.Equal(t, http.StatusBadRequest, do(&manager, http.MethodPost, "/not-a-uuid/approve").Code)
	require.Equal(t, http.StatusForbidden, do(&staff, http.MethodPost, "/"+ret.ID.String()+"/approve").Code)
	require.Equal(t, http.StatusNotFound, do(&manager, http.MethodGet, "/"+uuid.NewString()).Code)

	rec := do(&manager, http.MethodPost, "/"+ret.ID.String()+"/approve")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"approved"`)
	require.Equal(t, http.StatusConflict, do(&manager, http.MethodPost, "/"+ret.ID.String()+"/approve").Code)
}

type memoryApprovals struct {
	logs []shared.ApprovalLog
}

func (m *memoryApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	log.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryApprovals) History(_ context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, l := range m.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

func TestHistoryFollowsDecisions(t *testing.T) {
	repo := newMemoryRepo()
	approvals := &memoryApprovals{}
	svc := NewService(repo, inventory.NewService(nil, nil, nil, nil, nil), rbac.NewService(nil, nil), approvals, nil, nil, nil, nil)
	ret := submitReturn(t, svc)

	_, err := svc.Reject(context.Background(), manager, ret.ID, "not ours", "")
	require.NoError(t, err)

	history, err := svc.History(context.Background(), staff, ret.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, shared.ApprovalSubmit, history[0].Action)
	require.Equal(t, staff.ID, history[0].ActorID)
	require.Equal(t, shared.ApprovalReject, history[1].Action)
	require.Equal(t, manager.Role, history[1].ActorRole)
	require.Equal(t, "not ours", history[1].Note)

	_, err = svc.History(context.Background(), staff, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApproveRestocksInProductOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ret, err := svc.Submit(context.Background(), staff, SubmitInput{
		Reason: "wrong size",
		Items: []ItemInput{
			{ProductCode: "P-9", Qty: 1},
			{ProductCode: "P-1", Qty: 1},
			{ProductCode: "P-5", Qty: 1},
		},
	})
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), manager, ret.ID, "")
	require.NoError(t, err)

	require.Len(t, repo.movements, 3)
	require.Equal(t, "P-1", repo.movements[0].ProductCode)
	require.Equal(t, "P-5", repo.movements[1].ProductCode)
	require.Equal(t, "P-9", repo.movements[2].ProductCode)
}
