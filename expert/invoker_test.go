package expert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juniperhq/juniper/types"
)

func TestLocalInvokerSuccess(t *testing.T) {
	inv := NewLocalInvoker(nil)
	inv.Handle("echo", func(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
		return &types.ExpertResponse{Status: types.ExpertSuccess, Output: req.Input}, nil
	})

	resp, err := inv.Invoke(context.Background(), &types.ExpertRequest{
		ExpertID: "echo",
		Input:    map[string]any{"text": "hi"},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "hi", resp.Output["text"])
}

func TestLocalInvokerMissingHandler(t *testing.T) {
	inv := NewLocalInvoker(nil)

	_, err := inv.Invoke(context.Background(), &types.ExpertRequest{ExpertID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, types.ErrExpertNotFound, types.GetErrorCode(err))
}

func TestLocalInvokerTimeout(t *testing.T) {
	inv := NewLocalInvoker(nil)
	inv.Handle("slow", func(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
		select {
		case <-time.After(5 * time.Second):
			return &types.ExpertResponse{Status: types.ExpertSuccess}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := inv.Invoke(ctx, &types.ExpertRequest{ExpertID: "slow"})
	require.Error(t, err)
	assert.Equal(t, types.ErrExpertTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestLocalInvokerHandlerError(t *testing.T) {
	inv := NewLocalInvoker(nil)
	inv.Handle("broken", func(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
		return nil, errors.New("boom")
	})

	_, err := inv.Invoke(context.Background(), &types.ExpertRequest{ExpertID: "broken"})
	require.Error(t, err)
	assert.Equal(t, types.ErrExpertInvocation, types.GetErrorCode(err))
}

func TestHTTPInvokerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.ExpertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "weather", req.ExpertID)

		json.NewEncoder(w).Encode(types.ExpertResponse{
			Status: types.ExpertSuccess,
			Output: map[string]any{"forecast": "sunny"},
		})
	}))
	defer srv.Close()

	reg := NewRegistry(nil)
	reg.Register(Descriptor{ID: "weather", Endpoint: srv.URL})

	inv := NewHTTPInvoker(reg, nil)
	resp, err := inv.Invoke(context.Background(), &types.ExpertRequest{ExpertID: "weather"})
	require.NoError(t, err)
	assert.Equal(t, "sunny", resp.Output["forecast"])
}

func TestHTTPInvokerNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := NewRegistry(nil)
	reg.Register(Descriptor{ID: "weather", Endpoint: srv.URL})

	inv := NewHTTPInvoker(reg, nil)
	_, err := inv.Invoke(context.Background(), &types.ExpertRequest{ExpertID: "weather"})
	require.Error(t, err)
	assert.Equal(t, types.ErrExpertInvocation, types.GetErrorCode(err))
}

func TestHTTPInvokerDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	reg := NewRegistry(nil)
	reg.Register(Descriptor{ID: "slow", Endpoint: srv.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	inv := NewHTTPInvoker(reg, nil)
	_, err := inv.Invoke(ctx, &types.ExpertRequest{ExpertID: "slow"})
	require.Error(t, err)
	assert.Equal(t, types.ErrExpertTimeout, types.GetErrorCode(err))
}

func TestRateLimitedInvokerThrottles(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(Descriptor{ID: "limited", RateLimit: 100})

	var calls int
	local := NewLocalInvoker(nil)
	local.Handle("limited", func(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
		calls++
		return &types.ExpertResponse{Status: types.ExpertSuccess}, nil
	})

	inv := NewRateLimitedInvoker(local, reg)
	for i := 0; i < 3; i++ {
		_, err := inv.Invoke(context.Background(), &types.ExpertRequest{ExpertID: "limited"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

func TestRateLimitedInvokerPassThroughUnlimited(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(Descriptor{ID: "free"})

	local := NewLocalInvoker(nil)
	local.Handle("free", func(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
		return &types.ExpertResponse{Status: types.ExpertSuccess}, nil
	})

	inv := NewRateLimitedInvoker(local, reg)
	_, err := inv.Invoke(context.Background(), &types.ExpertRequest{ExpertID: "free"})
	require.NoError(t, err)
}
