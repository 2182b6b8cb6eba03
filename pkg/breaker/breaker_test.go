package breaker_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hybridcore/inference-core/pkg/breaker"
)

var _ = Describe("Breaker", func() {
	It("starts closed and allows execution", func() {
		b := breaker.New("anthropic", breaker.Config{FailureThreshold: 3, Cooldown: 5 * time.Second})

		Expect(b.State()).To(Equal(breaker.StateClosed))
		_, ok := b.CanExecute()
		Expect(ok).To(BeTrue())
	})

	It("stays closed and resets the failure count on success", func() {
		b := breaker.New("anthropic", breaker.Config{FailureThreshold: 3, Cooldown: 5 * time.Second})

		t1, _ := b.CanExecute()
		t1.RecordFailure()
		t2, _ := b.CanExecute()
		t2.RecordFailure()
		Expect(b.FailureCount()).To(Equal(uint32(2)))

		t3, _ := b.CanExecute()
		t3.RecordSuccess()
		Expect(b.FailureCount()).To(Equal(uint32(0)))
		Expect(b.State()).To(Equal(breaker.StateClosed))
	})

	It("opens after crossing the failure threshold", func() {
		b := breaker.New("anthropic", breaker.Config{FailureThreshold: 2, Cooldown: 5 * time.Second})

		t1, _ := b.CanExecute()
		t1.RecordFailure()
		t2, _ := b.CanExecute()
		t2.RecordFailure()

		Expect(b.State()).To(Equal(breaker.StateOpen))
		_, ok := b.CanExecute()
		Expect(ok).To(BeFalse())
	})

	It("transitions open to half_open only after the cooldown elapses", func() {
		b := breaker.New("anthropic", breaker.Config{FailureThreshold: 1, Cooldown: 5 * time.Second})

		t1, _ := b.CanExecute()
		t1.RecordFailure()
		Expect(b.State()).To(Equal(breaker.StateOpen))
		_, ok := b.CanExecute()
		Expect(ok).To(BeFalse())

		time.Sleep(5*time.Second + 100*time.Millisecond)

		_, ok = b.CanExecute()
		Expect(ok).To(BeTrue())
		Expect(b.State()).To(Equal(breaker.StateHalfOpen))
	})

	It("re-opens immediately on a half_open probe failure", func() {
		b := breaker.New("anthropic", breaker.Config{FailureThreshold: 1, Cooldown: 5 * time.Second})

		t1, _ := b.CanExecute()
		t1.RecordFailure()
		time.Sleep(5*time.Second + 100*time.Millisecond)
		t2, ok := b.CanExecute()
		Expect(ok).To(BeTrue())

		t2.RecordFailure()

		Expect(b.State()).To(Equal(breaker.StateOpen))
	})

	It("closes on a successful half_open probe", func() {
		b := breaker.New("anthropic", breaker.Config{FailureThreshold: 1, Cooldown: 5 * time.Second})

		t1, _ := b.CanExecute()
		t1.RecordFailure()
		time.Sleep(5*time.Second + 100*time.Millisecond)
		t2, ok := b.CanExecute()
		Expect(ok).To(BeTrue())

		t2.RecordSuccess()

		Expect(b.State()).To(Equal(breaker.StateClosed))
	})

	It("allows only one caller through per half_open cooldown window", func() {
		b := breaker.New("anthropic", breaker.Config{FailureThreshold: 1, Cooldown: 5 * time.Second})

		t1, _ := b.CanExecute()
		t1.RecordFailure()
		time.Sleep(5*time.Second + 100*time.Millisecond)

		_, first := b.CanExecute()
		_, second := b.CanExecute()

		Expect(first).To(BeTrue())
		Expect(second).To(BeFalse())
	})

	It("enforces a minimum cooldown of 5s and minimum threshold of 1", func() {
		b := breaker.New("local", breaker.Config{FailureThreshold: 0, Cooldown: time.Second})

		t1, _ := b.CanExecute()
		t1.RecordFailure()

		Expect(b.State()).To(Equal(breaker.StateOpen))
		_, ok := b.CanExecute()
		Expect(ok).To(BeFalse())

		// Past the requested 1s cooldown, the clamped 5s cooldown still holds.
		time.Sleep(1100 * time.Millisecond)
		_, ok = b.CanExecute()
		Expect(ok).To(BeFalse())
	})

	It("gives each concurrent caller its own token instead of a shared pending-done slot", func() {
		b := breaker.New("anthropic", breaker.Config{FailureThreshold: 5, Cooldown: 5 * time.Second})

		tokenA, okA := b.CanExecute()
		tokenB, okB := b.CanExecute()
		Expect(okA).To(BeTrue())
		Expect(okB).To(BeTrue())

		// Completing A must not silently complete or be shadowed by B: each
		// token tracks its own gobreaker done func independently.
		tokenA.RecordFailure()
		tokenB.RecordFailure()

		Expect(b.FailureCount()).To(Equal(uint32(2)))
	})
})
