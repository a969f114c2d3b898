package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwatch/rentwatch/api"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "test-key")
	require.NoError(t, err)
	c.sleep = noSleep
	return c
}

func TestListMachines(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/machines", r.URL.Path)
		w.Write([]byte(`{"machines": [
			{"machine_id": 42, "num_gpus": 4, "gpu_occupancy": "D D x x", "listed_gpu_cost": 0.5},
			{"machine_id": 43, "num_gpus": 2, "gpu_occupancy": "x x"}
		]}`))
	})

	machines, err := c.ListMachines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	require.Len(t, machines, 2)
	assert.Equal(t, int64(42), machines[0].MachineID)
	assert.Equal(t, "D D x x", machines[0].GPUOccupancy)
	assert.Equal(t, 0.5, machines[0].ListedGPUCost)
}

func TestMachinesFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"machines": [
			{"machine_id": 1}, {"machine_id": 2}, {"machine_id": 3}
		]}`))
	})

	machines, err := c.Machines(context.Background(), []int64{1, 3})
	require.NoError(t, err)
	require.Len(t, machines, 2)
	assert.Equal(t, int64(1), machines[0].MachineID)
	assert.Equal(t, int64(3), machines[1].MachineID)
}

func TestRetryOnServerError(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"msg": "upstream down"}`))
			return
		}
		w.Write([]byte(`{"machines": [{"machine_id": 7}]}`))
	})

	machines, err := c.ListMachines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, machines, 1)
}

func TestRetryExhaustion(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"msg": "boom"}`))
	})

	_, err := c.ListMachines(context.Background())
	require.Error(t, err)
	assert.Equal(t, retryAttempts, calls)
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"msg": "bad key"}`))
	})

	_, err := c.ListMachines(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	apiErr, ok := err.(api.Error)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Code)
	assert.Equal(t, "bad key", apiErr.Message)
}

func TestBackoffBounds(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, 30*time.Second, backoff(6))
}

func TestNewClientRejectsBadAddress(t *testing.T) {
	_, err := NewClient("https://host?query=1", "k")
	assert.Error(t, err)

	c, err := NewClient("market.example.com", "k")
	require.NoError(t, err)
	assert.Equal(t, "https://market.example.com", c.Address())
}
