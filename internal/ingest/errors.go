package ingest

import "fmt"

// AcquisitionError reports a raw price file that could not be fetched,
// extracted or read. Other files are still processed.
type AcquisitionError struct {
	File string
	Err  error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.File, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// WeatherFetchError reports a failed or malformed weather provider response.
// It is fatal for the zone being fetched, not for the run.
type WeatherFetchError struct {
	Location string
	Status   int // HTTP status, 0 if no response was received
	Err      error
}

func (e *WeatherFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch weather for %s: status %d: %v", e.Location, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch weather for %s: %v", e.Location, e.Err)
}

func (e *WeatherFetchError) Unwrap() error { return e.Err }
