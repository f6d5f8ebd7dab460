package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type staticStore map[shared.Role][]string

func (s staticStore) PermissionsForRole(_ context.Context, role shared.Role) ([]string, error) {
	return s[role], nil
}

type failingStore struct{}

func (failingStore) PermissionsForRole(context.Context, shared.Role) ([]string, error) {
	return nil, errors.New("db down")
}

func TestAuthorizeDefaultPolicy(t *testing.T) {
	svc := NewService(nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, shared.Actor{ID: "u1", Role: shared.RoleManager}, shared.PermBorrowApprove))
	require.NoError(t, svc.Authorize(ctx, shared.Actor{ID: "u2", Role: shared.RolePicker}, shared.PermFulfillmentPick))
	require.ErrorIs(t, svc.Authorize(ctx, shared.Actor{ID: "u2", Role: shared.RolePicker}, shared.PermRequisitionApprove), shared.ErrForbidden)
	require.ErrorIs(t, svc.Authorize(ctx, shared.Actor{ID: "u3", Role: shared.RoleProduction}, shared.PermBorrowWriteOff), shared.ErrForbidden)
	require.ErrorIs(t, svc.Authorize(ctx, shared.Actor{}, shared.PermBorrowView), shared.ErrForbidden)
}

func TestAuthorizeStoredGrantsOverrideDefaults(t *testing.T) {
	svc := NewService(staticStore{shared.RolePicker: {shared.PermRequisitionApprove}}, nil)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, shared.Actor{ID: "p", Role: shared.RolePicker}, shared.PermRequisitionApprove))
	require.ErrorIs(t, svc.Authorize(ctx, shared.Actor{ID: "p", Role: shared.RolePicker}, shared.PermFulfillmentPick), shared.ErrForbidden)
	// no stored rows: default policy applies
	require.NoError(t, svc.Authorize(ctx, shared.Actor{ID: "a", Role: shared.RoleAdmin}, shared.PermBorrowApprove))
}

func TestSuperAdminBypassesStore(t *testing.T) {
	svc := NewService(failingStore{}, nil)
	require.NoError(t, svc.Authorize(context.Background(), shared.Actor{ID: "root", Role: shared.RoleSuperAdmin}, shared.PermInventoryAdjust))
}

func TestMiddlewareRequireAny(t *testing.T) {
	mw := Middleware{Service: NewService(nil, nil)}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := mw.RequireAny(shared.PermFulfillmentInspect)(next)

	cases := []struct {
		name   string
		actor  *shared.Actor
		status int
	}{
		{name: "missing actor", status: http.StatusUnauthorized},
		{name: "picker", actor: &shared.Actor{ID: "p", Role: shared.RolePicker}, status: http.StatusForbidden},
		{name: "qc", actor: &shared.Actor{ID: "q", Role: shared.RoleQCStaff}, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.actor != nil {
				req = req.WithContext(shared.ContextWithActor(req.Context(), *tc.actor))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			require.Equal(t, tc.status, rr.Code)
		})
	}
}
