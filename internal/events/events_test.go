package events_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/case-service/internal/domain"
	"github.com/spec-kit/case-service/internal/events"
)

var _ = Describe("Codec", func() {
	It("round trips a flow event", func() {
		event := events.NewEvent(events.EventCaseUpdated, "case-1", events.Payload{
			PreviousStatus: domain.CaseStatusTriage,
			ReporterEmail:  "reporter@example.com",
			AssigneeEmail:  "assignee@example.com",
		})

		data, err := events.Encode(event)
		Expect(err).NotTo(HaveOccurred())

		decoded, err := events.Decode(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.ID).To(Equal(event.ID))
		Expect(decoded.Type).To(Equal(events.EventCaseUpdated))
		Expect(decoded.CaseID).To(Equal("case-1"))
		Expect(decoded.Timestamp.Equal(event.Timestamp)).To(BeTrue())
		Expect(decoded.Payload).To(Equal(event.Payload))
	})

	It("encodes equal events to identical bytes", func() {
		event := events.NewEvent(events.EventCaseCreated, "case-1", events.Payload{ConversationTarget: "#ops"})
		first, err := events.Encode(event)
		Expect(err).NotTo(HaveOccurred())
		second, err := events.Encode(event)
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(Equal(second))
	})

	It("rejects garbage", func() {
		_, err := events.Decode([]byte{0xff, 0x00})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ParseStreamMessage", func() {
	It("prefers the attempt recorded on the entry", func() {
		event := events.NewEvent(events.EventCaseDeleted, "case-9", events.Payload{})
		data, err := events.Encode(event)
		Expect(err).NotTo(HaveOccurred())

		parsed, err := events.ParseStreamMessage(redis.XMessage{
			ID: "1-0",
			Values: map[string]interface{}{
				"type":    string(event.Type),
				"case_id": event.CaseID,
				"attempt": "3",
				"payload": string(data),
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.Attempt).To(Equal(3))
		Expect(parsed.CaseID).To(Equal("case-9"))
	})

	It("fails without a payload", func() {
		_, err := events.ParseStreamMessage(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"type": "case_created"}})
		Expect(err).To(MatchError(ContainSubstring("missing payload")))
	})
})

var _ = Describe("InMemoryDispatcher", func() {
	var dispatcher *events.InMemoryDispatcher

	BeforeEach(func() {
		dispatcher = events.NewInMemoryDispatcher(context.Background(), 2, nil)
	})

	It("delivers events to every subscriber of the type", func() {
		var calls atomic.Int32
		handler := func(context.Context, events.Event) error {
			calls.Add(1)
			return nil
		}
		dispatcher.Subscribe(events.EventCaseCreated, handler)
		dispatcher.Subscribe(events.EventCaseCreated, handler)
		dispatcher.Subscribe(events.EventCaseDeleted, handler)

		Expect(dispatcher.Publish(context.Background(), events.NewEvent(events.EventCaseCreated, "case-1", events.Payload{}))).To(Succeed())
		dispatcher.Wait()
		Expect(calls.Load()).To(Equal(int32(2)))
	})

	It("keeps going when a handler fails", func() {
		var calls atomic.Int32
		dispatcher.Subscribe(events.EventCaseUpdated, func(context.Context, events.Event) error {
			return errors.New("boom")
		})
		dispatcher.Subscribe(events.EventCaseUpdated, func(context.Context, events.Event) error {
			calls.Add(1)
			return nil
		})

		Expect(dispatcher.Publish(context.Background(), events.NewEvent(events.EventCaseUpdated, "case-1", events.Payload{}))).To(Succeed())
		dispatcher.Wait()
		Expect(calls.Load()).To(Equal(int32(1)))
	})

	It("does not cancel handlers when the publishing context ends", func() {
		started := make(chan struct{})
		var handled atomic.Bool
		dispatcher.Subscribe(events.EventCaseCreated, func(ctx context.Context, _ events.Event) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			handled.Store(ctx.Err() == nil)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		Expect(dispatcher.Publish(ctx, events.NewEvent(events.EventCaseCreated, "case-1", events.Payload{}))).To(Succeed())
		<-started
		cancel()
		dispatcher.Wait()
		Expect(handled.Load()).To(BeTrue())
	})

	It("bounds concurrent handlers", func() {
		var (
			mu      sync.Mutex
			running int
			peak    int
		)
		dispatcher.Subscribe(events.EventCaseUpdated, func(context.Context, events.Event) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})

		for i := 0; i < 6; i++ {
			Expect(dispatcher.Publish(context.Background(), events.NewEvent(events.EventCaseUpdated, "case-1", events.Payload{}))).To(Succeed())
		}
		dispatcher.Wait()
		Expect(peak).To(BeNumerically("<=", 2))
	})

	It("rejects events after close", func() {
		dispatcher.Close()
		err := dispatcher.Publish(context.Background(), events.NewEvent(events.EventCaseCreated, "case-1", events.Payload{}))
		Expect(err).To(MatchError(events.ErrDispatcherClosed))
	})
})

var _ = Describe("RedisStreamDispatcher.Handle", func() {
	var dispatcher *events.RedisStreamDispatcher

	BeforeEach(func() {
		dispatcher = &events.RedisStreamDispatcher{}
	})

	It("fails an event nobody subscribes to", func() {
		err := dispatcher.Handle(context.Background(), events.NewEvent(events.EventCaseCreated, "case-1", events.Payload{}))
		Expect(err).To(MatchError(events.ErrNoHandlers))
		Expect(err).To(MatchError(ContainSubstring(string(events.EventCaseCreated))))
	})

	It("runs the subscribers of the event type", func() {
		var handled []string
		dispatcher.Subscribe(events.EventCaseCreated, func(_ context.Context, event events.Event) error {
			handled = append(handled, event.CaseID)
			return nil
		})

		Expect(dispatcher.Handle(context.Background(), events.NewEvent(events.EventCaseCreated, "case-1", events.Payload{}))).To(Succeed())
		Expect(handled).To(Equal([]string{"case-1"}))

		err := dispatcher.Handle(context.Background(), events.NewEvent(events.EventCaseDeleted, "case-1", events.Payload{}))
		Expect(err).To(MatchError(events.ErrNoHandlers))
	})

	It("returns handler errors for retry", func() {
		dispatcher.Subscribe(events.EventCaseUpdated, func(context.Context, events.Event) error {
			return errors.New("provider down")
		})

		err := dispatcher.Handle(context.Background(), events.NewEvent(events.EventCaseUpdated, "case-1", events.Payload{}))
		Expect(err).To(MatchError(ContainSubstring("provider down")))
	})
})
