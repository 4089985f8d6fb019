package job

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

// fakeStreams answers stream commands in memory through a client hook,
// so the client never dials.
type fakeStreams struct {
	mu sync.Mutex

	groupExists  bool
	groupErr     error
	messages     []redis.XMessage
	xaddFailures int

	calls []string
	acked []string
	added []map[string]string
}

func newFakeClient(t *testing.T, f *fakeStreams) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(f)
	t.Cleanup(func() { client.Close() })
	return client
}

func (f *fakeStreams) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("dial not expected")
	}
}

func (f *fakeStreams) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (f *fakeStreams) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.calls = append(f.calls, cmd.Name())

		switch c := cmd.(type) {
		case *redis.StatusCmd:
			if cmd.Name() == "xgroup" {
				if f.groupErr != nil {
					return f.groupErr
				}
				if f.groupExists {
					return errors.New("BUSYGROUP Consumer Group name already exists")
				}
				f.groupExists = true
			}
			c.SetVal("OK")
		case *redis.XStreamSliceCmd:
			if len(f.messages) == 0 {
				return redis.Nil
			}
			msg := f.messages[0]
			f.messages = f.messages[1:]
			c.SetVal([]redis.XStream{{Stream: "jobs", Messages: []redis.XMessage{msg}}})
		case *redis.IntCmd:
			f.acked = append(f.acked, fmt.Sprint(cmd.Args()[3]))
			c.SetVal(1)
		case *redis.StringCmd:
			if f.xaddFailures > 0 {
				f.xaddFailures--
				return errors.New("LOADING Redis is loading the dataset in memory")
			}
			args := cmd.Args()
			values := map[string]string{}
			for i := 3; i+1 < len(args); i += 2 {
				values[fmt.Sprint(args[i])] = fmt.Sprint(args[i+1])
			}
			f.added = append(f.added, values)
			c.SetVal("1-0")
		default:
			return fmt.Errorf("unexpected command %s", cmd.Name())
		}
		return nil
	}
}

func (f *fakeStreams) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func newRedisSource(t *testing.T, f *fakeStreams) *RedisSource {
	t.Helper()
	return NewRedisSource(newFakeClient(t, f), "jobs", "workers", "pod-1", 0, zaptest.NewLogger(t))
}

// --- RedisSource Tests ---

func TestRedisSource_ReceivesAndAcknowledges(t *testing.T) {
	f := &fakeStreams{messages: []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"data": `{"id":"r1","input":{"n":1}}`}},
	}}
	src := newRedisSource(t, f)

	j, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j == nil || j.ID != "r1" {
		t.Fatalf("expected job r1, got %+v", j)
	}
	if len(f.acked) != 1 || f.acked[0] != "1-0" {
		t.Errorf("expected message 1-0 acknowledged, got %v", f.acked)
	}

	j, err = src.Next(context.Background())
	if err != nil || j != nil {
		t.Errorf("expected no job on an empty stream, got %+v (%v)", j, err)
	}
	if n := f.count("xgroup"); n != 1 {
		t.Errorf("expected the consumer group to be created once, got %d", n)
	}
}

func TestRedisSource_ExistingGroup(t *testing.T) {
	f := &fakeStreams{
		groupExists: true,
		messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]interface{}{"data": `{"id":"r1"}`}},
		},
	}
	src := newRedisSource(t, f)

	j, err := src.Next(context.Background())
	if err != nil || j == nil || j.ID != "r1" {
		t.Fatalf("expected job r1 with an existing group, got %+v (%v)", j, err)
	}
}

func TestRedisSource_MalformedMessageIsAcknowledged(t *testing.T) {
	f := &fakeStreams{messages: []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"data": "not json"}},
		{ID: "2-0", Values: map[string]interface{}{"payload": "x"}},
	}}
	src := newRedisSource(t, f)

	for i := 0; i < 2; i++ {
		j, err := src.Next(context.Background())
		if err != nil || j != nil {
			t.Errorf("expected malformed message to be skipped, got %+v (%v)", j, err)
		}
	}
	if len(f.acked) != 2 {
		t.Errorf("expected both messages acknowledged, got %v", f.acked)
	}
}

func TestRedisSource_GroupCreateFailure(t *testing.T) {
	f := &fakeStreams{groupErr: errors.New("NOAUTH Authentication required")}
	src := newRedisSource(t, f)

	j, err := src.Next(context.Background())
	if err != nil || j != nil {
		t.Fatalf("expected no job, got %+v (%v)", j, err)
	}
	if n := f.count("xreadgroup"); n != 0 {
		t.Errorf("expected no read without a consumer group, got %d", n)
	}

	f.mu.Lock()
	f.groupErr = nil
	f.mu.Unlock()

	src.Next(context.Background())
	if n := f.count("xgroup"); n != 2 {
		t.Errorf("expected group creation to be retried, got %d attempts", n)
	}
	if n := f.count("xreadgroup"); n != 1 {
		t.Errorf("expected a read once the group exists, got %d", n)
	}
}

// --- RedisSubmitter Tests ---

func newRedisSubmitter(t *testing.T, f *fakeStreams) *RedisSubmitter {
	t.Helper()
	s := NewRedisSubmitter(newFakeClient(t, f), "results", "pod-1", zaptest.NewLogger(t))
	s.policy = fastPolicy
	return s
}

func TestRedisSubmitter_Publishes(t *testing.T) {
	f := &fakeStreams{}
	s := newRedisSubmitter(t, f)

	if err := s.Submit(context.Background(), "j1", Result{Output: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.added) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(f.added))
	}

	entry := f.added[0]
	if entry["job_id"] != "j1" || entry["worker_id"] != "pod-1" {
		t.Errorf("unexpected entry %v", entry)
	}
	if entry["data"] != `{"output":true}` {
		t.Errorf("unexpected data %s", entry["data"])
	}
}

func TestRedisSubmitter_RetriesTransientFailures(t *testing.T) {
	f := &fakeStreams{xaddFailures: 2}
	s := newRedisSubmitter(t, f)

	if err := s.Submit(context.Background(), "j1", Result{Output: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := f.count("xadd"); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestRedisSubmitter_GivesUpAfterThreeAttempts(t *testing.T) {
	f := &fakeStreams{xaddFailures: 10}
	s := newRedisSubmitter(t, f)

	err := s.Submit(context.Background(), "j1", Result{Error: "boom"})
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("expected ErrSubmitFailed, got %v", err)
	}
	if n := f.count("xadd"); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
	if len(f.added) != 0 {
		t.Errorf("expected nothing published, got %v", f.added)
	}
}
