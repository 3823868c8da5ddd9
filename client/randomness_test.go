package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSeed    = "8idEGechCUrKWm5TSQG8NJMN1iXCYZ2pTHsZVsqDmmUu"
	testAddress = "5kdHknoWrLXgpvmqGNcYJzJkLN2YQNMe7L5qbzmTbRgv"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestRequest_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/randomness", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testSeed, body["seed"])

		writeJSON(w, http.StatusAccepted, map[string]string{
			"seed":        testSeed,
			"network":     "devnet",
			"address":     testAddress,
			"workflow_id": "randomness-devnet-" + testSeed,
		})
	}))
	defer server.Close()

	res, err := NewClient(server.URL, nil, nil).Request(context.Background(), testSeed)
	require.NoError(t, err)
	assert.Equal(t, testSeed, res.Seed)
	assert.Equal(t, testAddress, res.Address)
	assert.Equal(t, "randomness-devnet-"+testSeed, res.WorkflowID)
}

func TestRequest_EmptySeedOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, ok := body["seed"]
		assert.False(t, ok, "seed must be omitted so the server draws one")
		writeJSON(w, http.StatusAccepted, map[string]string{"seed": testSeed})
	}))
	defer server.Close()

	res, err := NewClient(server.URL, nil, nil).Request(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, testSeed, res.Seed)
}

func TestRequest_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid seed"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Request(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid seed")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGet_Success(t *testing.T) {
	value := uint64(42)
	now := time.Now().UTC().Truncate(time.Second)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/randomness/"+testSeed, r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"seed":       testSeed,
			"network":    "devnet",
			"address":    testAddress,
			"on_chain":   true,
			"status":     "fulfilled",
			"randomness": "sig",
			"value":      value,
			"record": map[string]interface{}{
				"status":     "fulfilled",
				"verified":   true,
				"created_at": now,
				"updated_at": now,
			},
		})
	}))
	defer server.Close()

	rnd, err := NewClient(server.URL, nil, nil).Get(context.Background(), testSeed)
	require.NoError(t, err)
	assert.True(t, rnd.OnChain)
	assert.True(t, rnd.Fulfilled())
	require.NotNil(t, rnd.Value)
	assert.Equal(t, value, *rnd.Value)
	require.NotNil(t, rnd.Record)
	assert.True(t, rnd.Record.Verified)
	assert.True(t, now.Equal(rnd.Record.CreatedAt))
}

func TestGet_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "randomness request not found"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Get(context.Background(), testSeed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "randomness request not found")
}

func TestGet_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Get(context.Background(), testSeed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "bad gateway")
}

func TestList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/randomness", r.URL.Path)
		assert.Equal(t, "pending", r.URL.Query().Get("status"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "", r.URL.Query().Get("offset"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"requests": []map[string]interface{}{
				{"seed": "a", "network": "devnet", "address": "x", "status": "pending"},
				{"seed": "b", "network": "devnet", "address": "y", "status": "pending"},
			},
			"limit":  10,
			"offset": 0,
		})
	}))
	defer server.Close()

	records, err := NewClient(server.URL, nil, nil).List(context.Background(), ListOptions{Status: "pending", Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Seed)
	assert.Equal(t, "pending", records[1].Status)
}

func TestVerify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/randomness/"+testSeed+"/verify", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"seed":      testSeed,
			"verified":  true,
			"authority": "oracle",
			"trusted":   true,
			"slot":      77,
		})
	}))
	defer server.Close()

	v, err := NewClient(server.URL, nil, nil).Verify(context.Background(), testSeed)
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.True(t, v.Trusted)
	assert.Equal(t, uint64(77), v.Slot)
}

func TestVerify_Unprocessable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "verify randomness: signature mismatch"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Verify(context.Background(), testSeed)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
}

func TestAddressConfigWorkflow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/address/" + testSeed:
			writeJSON(w, http.StatusOK, map[string]string{"seed": testSeed, "address": testAddress})
		case "/api/v1/config":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"treasury":                "t",
				"request_fee":             1000,
				"fulfillment_authorities": []string{"a", "b"},
			})
		case "/api/v1/workflows/wf-1":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"workflow_id": "wf-1",
				"status":      "completed",
				"result":      map[string]interface{}{"status": "verified", "polls": 3},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	c := NewClient(server.URL+"/", nil, nil)

	addr, err := c.Address(context.Background(), testSeed)
	require.NoError(t, err)
	assert.Equal(t, testAddress, addr.Address)

	cfg, err := c.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), cfg.RequestFee)
	assert.Equal(t, []string{"a", "b"}, cfg.FulfillmentAuthorities)

	wf, err := c.Workflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", wf.Status)
	require.NotNil(t, wf.Result)
	assert.Equal(t, "verified", wf.Result.Status)
	assert.Equal(t, 3, wf.Result.Polls)

	_, err = c.Workflow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		"event: connected",
		`data: {"subject":"vrf.*.*"}`,
		"",
		": keepalive",
		"",
		"event: fulfilled",
		`data: {"type":"fulfilled","seed":"s"}`,
		"",
		`data: {"type":"other"}`,
		"",
		"",
	}, "\n")

	var got []string
	err := readSSE(strings.NewReader(stream), func(event, data string) error {
		got = append(got, event)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"connected", "fulfilled", "message"}, got)
}

// fulfillmentServer serves the randomness state for testSeed and an event
// stream. The state flips to fulfilled after fulfillAfter reads.
type fulfillmentServer struct {
	reads        atomic.Int32
	fulfillAfter int32
	stream       http.HandlerFunc
}

func (s *fulfillmentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/randomness/"+testSeed:
		n := s.reads.Add(1)
		resp := map[string]interface{}{
			"seed":     testSeed,
			"address":  testAddress,
			"on_chain": true,
			"status":   "pending",
		}
		if n > s.fulfillAfter {
			resp["status"] = "fulfilled"
			resp["randomness"] = "sig"
		}
		writeJSON(w, http.StatusOK, resp)
	case strings.HasPrefix(r.URL.Path, "/api/v1/stream/randomness/") && s.stream != nil:
		s.stream(w, r)
	default:
		http.NotFound(w, r)
	}
}

func sseHeaders(w http.ResponseWriter) http.Flusher {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher := w.(http.Flusher)
	flusher.Flush()
	return flusher
}

func TestAwait_AlreadyFulfilled(t *testing.T) {
	fs := &fulfillmentServer{fulfillAfter: 0}
	server := httptest.NewServer(fs)
	defer server.Close()

	rnd, err := NewClient(server.URL, nil, nil).Await(context.Background(), testSeed, AwaitOptions{})
	require.NoError(t, err)
	assert.True(t, rnd.Fulfilled())
	assert.Equal(t, int32(1), fs.reads.Load())
}

func TestAwait_StreamEvent(t *testing.T) {
	fs := &fulfillmentServer{fulfillAfter: 2}
	fs.stream = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/randomness/"+testAddress, r.URL.Path)
		assert.Equal(t, "fulfilled", r.URL.Query().Get("type"))
		flusher := sseHeaders(w)

		fmt.Fprintf(w, "event: connected\ndata: {\"subject\":\"vrf.fulfilled.%s\"}\n\n", testAddress)
		flusher.Flush()
		time.Sleep(50 * time.Millisecond)

		fmt.Fprintf(w, "event: fulfilled\ndata: {\"type\":\"fulfilled\",\"address\":\"other\"}\n\n")
		fmt.Fprintf(w, "event: fulfilled\ndata: {\"type\":\"fulfilled\",\"seed\":%q,\"address\":%q}\n\n", testSeed, testAddress)
		flusher.Flush()
		<-r.Context().Done()
	}
	server := httptest.NewServer(fs)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rnd, err := NewClient(server.URL, nil, nil).Await(ctx, testSeed, AwaitOptions{})
	require.NoError(t, err)
	assert.True(t, rnd.Fulfilled())
	// initial read, read on connect, read on the matching event
	assert.Equal(t, int32(3), fs.reads.Load())
}

func TestAwait_FulfilledBeforeSubscription(t *testing.T) {
	fs := &fulfillmentServer{fulfillAfter: 1}
	fs.stream = func(w http.ResponseWriter, r *http.Request) {
		flusher := sseHeaders(w)
		fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}
	server := httptest.NewServer(fs)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rnd, err := NewClient(server.URL, nil, nil).Await(ctx, testSeed, AwaitOptions{})
	require.NoError(t, err)
	assert.True(t, rnd.Fulfilled())
}

func TestAwait_FallsBackToPolling(t *testing.T) {
	fs := &fulfillmentServer{fulfillAfter: 3}
	server := httptest.NewServer(fs)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rnd, err := NewClient(server.URL, nil, nil).Await(ctx, testSeed, AwaitOptions{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, rnd.Fulfilled())
	assert.Equal(t, int32(4), fs.reads.Load())
}

func TestAwait_StreamEndsBeforeFulfillment(t *testing.T) {
	tests := []struct {
		name         string
		fulfillAfter int32
		wantReads    int32
		end          func()
	}{
		// initial read, read on connect, re-check after the stream ends
		{"closed, fulfilled on re-check", 2, 3, func() {}},
		// two more reads while polling
		{"closed, fulfilled while polling", 4, 5, func() {}},
		{"aborted mid-stream", 2, 3, func() { panic(http.ErrAbortHandler) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fulfillmentServer{fulfillAfter: tt.fulfillAfter}
			fs.stream = func(w http.ResponseWriter, r *http.Request) {
				flusher := sseHeaders(w)
				fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
				flusher.Flush()
				time.Sleep(100 * time.Millisecond)
				tt.end()
			}
			server := httptest.NewServer(fs)
			defer server.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			rnd, err := NewClient(server.URL, nil, nil).Await(ctx, testSeed, AwaitOptions{PollInterval: 10 * time.Millisecond})
			require.NoError(t, err)
			assert.True(t, rnd.Fulfilled())
			assert.Equal(t, tt.wantReads, fs.reads.Load())
		})
	}
}

func TestAwait_Timeout(t *testing.T) {
	fs := &fulfillmentServer{fulfillAfter: 1 << 20}
	fs.stream = func(w http.ResponseWriter, r *http.Request) {
		flusher := sseHeaders(w)
		fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}
	server := httptest.NewServer(fs)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	rnd, err := NewClient(server.URL, nil, nil).Await(ctx, testSeed, AwaitOptions{})
	require.Error(t, err)
	assert.Nil(t, rnd)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAwait_UnknownSeedUsesDerivedAddress(t *testing.T) {
	var streamed atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/randomness/" + testSeed:
			if !streamed.Load() {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "randomness request not found"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "fulfilled", "randomness": "sig", "address": testAddress})
		case "/api/v1/address/" + testSeed:
			writeJSON(w, http.StatusOK, map[string]string{"address": testAddress})
		case "/api/v1/stream/randomness/" + testAddress:
			flusher := sseHeaders(w)
			fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
			flusher.Flush()
			streamed.Store(true)
			fmt.Fprintf(w, "event: fulfilled\ndata: {\"type\":\"fulfilled\",\"address\":%q}\n\n", testAddress)
			flusher.Flush()
			<-r.Context().Done()
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rnd, err := NewClient(server.URL, nil, nil).Await(ctx, testSeed, AwaitOptions{})
	require.NoError(t, err)
	assert.True(t, rnd.Fulfilled())
}

func TestStream_ServerErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/randomness", r.URL.Path)
		flusher := sseHeaders(w)
		fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	err := NewClient(server.URL, nil, nil).Stream(context.Background(), StreamOptions{}, func(*Event) error {
		t.Fatal("no events expected")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe")
}
