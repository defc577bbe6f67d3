package dispatch

import "time"

// Observer receives drain and job outcomes, typically for metrics.
type Observer interface {
	DrainStarted()
	DrainFinished(res Result, err error)
	ClaimLost()
	JobFinished(outcome string, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) DrainStarted() {}
func (nopObserver) DrainFinished(Result, error) {}
func (nopObserver) ClaimLost() {}
func (nopObserver) JobFinished(string, time.Duration) {}
