package meters

import "errors"

var (
	// ErrInvalidCounter marks counter input that failed validation.
	ErrInvalidCounter = errors.New("invalid counter")
	// ErrDuplicateCounter is returned when the counter number is taken.
	ErrDuplicateCounter = errors.New("counter number already exists")
	// ErrCounterNotFound is returned by writes that target a missing counter.
	ErrCounterNotFound = errors.New("counter not found")

	ErrInvalidReading = errors.New("invalid reading")
	// ErrReadingRegression rejects a value below the counter's latest reading.
	ErrReadingRegression = errors.New("reading is lower than the latest value")
	// ErrReadingBackdated rejects a date before the counter's latest reading.
	ErrReadingBackdated = errors.New("reading is older than the latest reading")
)
