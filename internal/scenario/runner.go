package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultAwaitTimeout = 5 * time.Second

// AwaitTimeoutError reports that no message arrived on a subject in time.
type AwaitTimeoutError struct {
	Subject string
}

func (e *AwaitTimeoutError) Error() string {
	return fmt.Sprintf("awaiting message on %q timed out", e.Subject)
}

// PayloadMismatchError reports a deep-equality failure between an expected
// and an observed JSON document.
type PayloadMismatchError struct {
	Subject  string // empty for assert_equal steps
	Expected any
	Actual   any
}

func (e *PayloadMismatchError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("payload on %q did not match expected: got %v, want %v", e.Subject, e.Actual, e.Expected)
	}
	return fmt.Sprintf("assertion failed: got %v, want %v", e.Actual, e.Expected)
}

// Runner executes scenarios against a live bus. The connection is dialed
// lazily on first need and reused for the rest of the run; subscriptions are
// created at most once per subject and always before the first publish on
// that subject, so an await can never race a publish.
type Runner struct {
	busURL       string
	observations string
	conn         *nats.Conn
	subs         map[string]*nats.Subscription
}

// NewRunner builds a runner that writes its observation log to logPath.
func NewRunner(busURL, logPath string) *Runner {
	return &Runner{
		busURL:       busURL,
		observations: logPath,
		subs:         make(map[string]*nats.Subscription),
	}
}

// Close drops the bus connection if one was established.
func (r *Runner) Close() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Run executes the scenario steps in order. The first failing step aborts
// the rest and its error is returned verbatim.
func (r *Runner) Run(sc Scenario) error {
	for i, step := range sc.Steps {
		if err := r.runStep(step); err != nil {
			return fmt.Errorf("scenario %s step %d: %w", sc.Name, i, err)
		}
	}
	return nil
}

func (r *Runner) runStep(step Step) error {
	switch {
	case step.Publish != nil:
		return r.publish(step.Publish)
	case step.Await != nil:
		return r.await(step.Await)
	case step.AssertEqual != nil:
		return r.assertEqual(step.AssertEqual)
	case step.InstallPack != nil:
		return r.record("install_pack_stub", map[string]any{"pack_id": step.InstallPack.PackID})
	case step.StartService != nil:
		return r.record("start_service_stub", map[string]any{"name": step.StartService.Name})
	case step.HTTPPost != nil:
		return r.record("http_post_stub", map[string]any{"url": step.HTTPPost.URL, "body": step.HTTPPost.Body})
	default:
		return errors.New("empty scenario step")
	}
}

func (r *Runner) publish(step *PublishStep) error {
	if _, err := r.subscription(step.Subject); err != nil {
		return err
	}
	payload, err := json.Marshal(step.Payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", step.Subject, err)
	}
	if err := r.conn.Publish(step.Subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", step.Subject, err)
	}
	if err := r.conn.Flush(); err != nil {
		return fmt.Errorf("flush after publish to %s: %w", step.Subject, err)
	}
	return r.record("nats_publish", map[string]any{"subject": step.Subject, "payload": step.Payload})
}

func (r *Runner) await(step *AwaitStep) error {
	sub, err := r.subscription(step.Subject)
	if err != nil {
		return err
	}
	timeout := defaultAwaitTimeout
	if step.TimeoutMS > 0 {
		timeout = time.Duration(step.TimeoutMS) * time.Millisecond
	}
	msg, err := sub.NextMsg(timeout)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return &AwaitTimeoutError{Subject: step.Subject}
		}
		return fmt.Errorf("await on %s: %w", step.Subject, err)
	}

	var payload any
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		payload = string(msg.Data)
	}
	if step.Expected != nil && !jsonEqual(step.Expected, payload) {
		return &PayloadMismatchError{Subject: step.Subject, Expected: step.Expected, Actual: payload}
	}
	return r.record("await_nats", map[string]any{"subject": step.Subject, "payload": payload})
}

func (r *Runner) assertEqual(step *AssertEqualStep) error {
	if !jsonEqual(step.Expected, step.Actual) {
		return &PayloadMismatchError{Expected: step.Expected, Actual: step.Actual}
	}
	return r.record("assert_json", map[string]any{"actual": step.Actual, "expected": step.Expected})
}

// subscription dials the bus on first use and returns the cached
// subscription for the subject, creating it if needed.
func (r *Runner) subscription(subject string) (*nats.Subscription, error) {
	if r.conn == nil {
		conn, err := nats.Connect(r.busURL)
		if err != nil {
			return nil, fmt.Errorf("connect to bus at %s: %w", r.busURL, err)
		}
		r.conn = conn
	}
	if sub, ok := r.subs[subject]; ok {
		return sub, nil
	}
	sub, err := r.conn.SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	if err := r.conn.Flush(); err != nil {
		return nil, fmt.Errorf("flush after subscribe to %s: %w", subject, err)
	}
	r.subs[subject] = sub
	return sub, nil
}

// record appends one observation line; this log is the runner's only side
// effect besides bus traffic.
func (r *Runner) record(step string, data map[string]any) error {
	file, err := os.OpenFile(r.observations, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open observation log %s: %w", r.observations, err)
	}
	defer file.Close()

	line, err := json.Marshal(map[string]any{"step": step, "data": data})
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write observation log %s: %w", r.observations, err)
	}
	return nil
}

// jsonEqual compares two documents after normalizing both through a JSON
// round-trip, so YAML-decoded fixtures (ints) and bus-decoded payloads
// (float64) compare by value rather than by Go type.
func jsonEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
