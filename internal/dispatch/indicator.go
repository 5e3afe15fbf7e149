package dispatch

import "sync"

// Indicator tracks in-flight work for a busy spinner. Every Acquire must be
// paired with a call to the returned release, normally via defer.
type Indicator struct {
	mu       sync.Mutex
	active   int
	onChange func(busy bool)
}

// NewIndicator creates an indicator. onChange, if not nil, is called with
// the new state whenever it flips between idle and busy.
func NewIndicator(onChange func(busy bool)) *Indicator {
	return &Indicator{onChange: onChange}
}

// Acquire marks one unit of work as started and returns its release func.
// Calling release more than once has no further effect.
func (i *Indicator) Acquire() (release func()) {
	i.mu.Lock()
	i.active++
	flipped := i.active == 1
	i.mu.Unlock()
	if flipped && i.onChange != nil {
		i.onChange(true)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			i.active--
			flipped := i.active == 0
			i.mu.Unlock()
			if flipped && i.onChange != nil {
				i.onChange(false)
			}
		})
	}
}

// Busy reports whether any work is in flight.
func (i *Indicator) Busy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active > 0
}

// InFlight returns the number of unreleased acquisitions.
func (i *Indicator) InFlight() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}
