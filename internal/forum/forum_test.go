package forum

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iamwavecut/forumwarden/internal/db"
)

func TestDecodeObjectDispatchesByType(t *testing.T) {
	t.Parallel()

	obj, err := DecodeObject(ObjectPost, []byte(`{"tid":10,"pid":20,"floor":3,"text":"hi","author":{"user_id":5,"user_name":"bob"}}`))
	if err != nil {
		t.Fatalf("decode post: %v", err)
	}
	if obj.Type != ObjectPost || obj.Post == nil || obj.Thread != nil || obj.Comment != nil {
		t.Fatalf("unexpected variant: %#v", obj)
	}
	if obj.ContentID() != 20 || obj.ThreadID() != 10 || obj.Author().UserName != "bob" {
		t.Fatalf("unexpected accessors: content=%d thread=%d author=%q", obj.ContentID(), obj.ThreadID(), obj.Author().UserName)
	}

	if _, err := DecodeObject("poll", []byte(`{}`)); !errors.Is(err, ErrUnknownObjectType) {
		t.Fatalf("expected ErrUnknownObjectType, got %v", err)
	}
	if _, err := DecodeObject(ObjectThread, []byte(`{"tid":"oops"`)); err == nil || errors.Is(err, ErrUnknownObjectType) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestPolicyClassify(t *testing.T) {
	t.Parallel()

	oneShot := OneShotPolicy()
	strict := ForceDeletePolicy([]int{CodeTooFrequent, CodeServerBusy}, []int{CodePermissionDenied})

	tests := []struct {
		name   string
		policy Policy
		err    error
		want   Class
	}{
		{"deadline is retriable", strict, context.DeadlineExceeded, ClassRetriable},
		{"wrapped deadline is retriable", strict, fmt.Errorf("call: %w", context.DeadlineExceeded), ClassRetriable},
		{"allow-listed code is retriable", strict, &APIError{Code: CodeTooFrequent}, ClassRetriable},
		{"permission denied is fatal", strict, &APIError{Code: CodePermissionDenied}, ClassFatal},
		{"code outside allow-list is fatal when strict", strict, &APIError{Code: 777}, ClassFatal},
		{"code outside allow-list is unknown when lenient", oneShot, &APIError{Code: 777}, ClassUnknown},
		{"plain error is unknown", strict, errors.New("connection reset"), ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.policy.Classify(tt.err); got != tt.want {
				t.Fatalf("unexpected class: got %s want %s", got, tt.want)
			}
		})
	}
}

func TestCallWithRetryStopsOnFatal(t *testing.T) {
	t.Parallel()

	calls := 0
	policy := OneShotPolicy().WithAttempts(5, 0)
	_, err := CallWithRetry(context.Background(), policy, func(context.Context) (bool, error) {
		calls++
		return false, &APIError{Code: CodePermissionDenied, Msg: "no rights"}
	})
	if calls != 1 {
		t.Fatalf("expected single call on fatal error, got %d", calls)
	}
	if ClassOf(err) != ClassFatal {
		t.Fatalf("expected fatal class, got %v", err)
	}
	if Reason(err) != "1989002 no rights" {
		t.Fatalf("unexpected reason: %q", Reason(err))
	}
}

func TestCallWithRetryRetriesTransient(t *testing.T) {
	t.Parallel()

	calls := 0
	policy := OneShotPolicy().WithAttempts(3, time.Millisecond)
	got, err := CallWithRetry(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &APIError{Code: CodeTooFrequent}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Fatalf("unexpected result: got=%d calls=%d", got, calls)
	}
}

func TestCallWithRetrySingleAttemptPolicy(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := CallWithRetry(context.Background(), OneShotPolicy(), func(context.Context) (bool, error) {
		calls++
		return false, &APIError{Code: CodeServerBusy}
	})
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
	var ce *ClassifiedError
	if !errors.As(err, &ce) || ce.Class != ClassRetriable || ce.Attempts != 1 {
		t.Fatalf("unexpected classified error: %#v", err)
	}
}

func TestHTTPClientMapsErrorEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/thread/delete":
			_, _ = w.Write([]byte(`{"error_code":0,"error_msg":""}`))
		case "/post/delete":
			_, _ = w.Write([]byte(`{"error_code":"220034","error_msg":"too frequent"}`))
		case "/user/block":
			if r.Form.Get("day") != "3" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/", "token", time.Second)
	ctx := context.Background()

	ok, err := client.DeleteThread(ctx, 1, 2)
	if err != nil || !ok {
		t.Fatalf("delete thread: ok=%v err=%v", ok, err)
	}

	_, err = client.DeletePost(ctx, 1, 2, 3)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != CodeTooFrequent {
		t.Fatalf("expected too frequent api error, got %v", err)
	}

	_, err = client.Ban(ctx, 1, Author{UserID: 5}, 3)
	if !errors.As(err, &apiErr) || apiErr.Code != CodeServerBusy {
		t.Fatalf("expected server busy api error, got %v", err)
	}
}

type poolTestStore struct {
	groups map[int64]*db.Group
}

func (s *poolTestStore) GetGroup(_ context.Context, id int64) (*db.Group, error) {
	return s.groups[id], nil
}

type nopClient struct{}

func (nopClient) DeleteThread(context.Context, int64, int64) (bool, error)      { return true, nil }
func (nopClient) DeletePost(context.Context, int64, int64, int64) (bool, error) { return true, nil }
func (nopClient) Ban(context.Context, int64, Author, int) (bool, error)         { return true, nil }

func TestPoolCreatesClientOncePerGroup(t *testing.T) {
	t.Parallel()

	var built atomic.Int32
	pool := NewPool(&poolTestStore{groups: map[int64]*db.Group{1: {ID: 1, ForumID: 10}}}, func(*db.Group) (Client, error) {
		built.Add(1)
		return nopClient{}, nil
	})

	ctx := context.Background()
	for range 3 {
		if _, err := pool.Get(ctx, 1); err != nil {
			t.Fatalf("get client: %v", err)
		}
	}
	if built.Load() != 1 {
		t.Fatalf("expected factory to run once, ran %d times", built.Load())
	}

	if _, err := pool.Get(ctx, 2); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestDeleteObjectReportsRejection(t *testing.T) {
	t.Parallel()

	obj := Object{Type: ObjectComment, Comment: &Comment{ThreadID: 1, PostID: 2}}
	err := DeleteObject(context.Background(), rejectingClient{}, 1, obj)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

type rejectingClient struct{ nopClient }

func (rejectingClient) DeletePost(context.Context, int64, int64, int64) (bool, error) {
	return false, nil
}
