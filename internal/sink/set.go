package sink

import "errors"

// Output file suffixes for a session prefix.
const (
	SuffixRaw         = "_xml.csv"
	SuffixCalibration = "_calibration.csv"
	SuffixRecords     = "_record.csv"
)

// Paths names the three session output files.
type Paths struct {
	Raw         string
	Calibration string
	Records     string
}

func PathsFor(prefix string) Paths {
	return Paths{
		Raw:         prefix + SuffixRaw,
		Calibration: prefix + SuffixCalibration,
		Records:     prefix + SuffixRecords,
	}
}

// Set groups the three logical output streams of a session.
type Set struct {
	Raw         Sink
	Calibration Sink
	Records     Sink
}

// OpenFiles opens the three output files for prefix. On failure any file
// already opened is closed.
func OpenFiles(prefix string) (Set, error) {
	paths := PathsFor(prefix)
	raw, err := OpenFile(paths.Raw)
	if err != nil {
		return Set{}, err
	}
	cal, err := OpenFile(paths.Calibration)
	if err != nil {
		_ = raw.Close()
		return Set{}, err
	}
	rec, err := OpenFile(paths.Records)
	if err != nil {
		_ = raw.Close()
		_ = cal.Close()
		return Set{}, err
	}
	return Set{Raw: raw, Calibration: cal, Records: rec}, nil
}

// NewMemorySet returns a Set backed by three Memory sinks.
func NewMemorySet() (Set, *Memory, *Memory, *Memory) {
	raw, cal, rec := NewMemory(), NewMemory(), NewMemory()
	return Set{Raw: raw, Calibration: cal, Records: rec}, raw, cal, rec
}

func (s Set) Validate() error {
	if s.Raw == nil || s.Calibration == nil || s.Records == nil {
		return errors.New("sink: set requires raw, calibration and records sinks")
	}
	return nil
}

// Close closes all three sinks and joins their errors.
func (s Set) Close() error {
	var errs []error
	for _, sk := range []Sink{s.Raw, s.Calibration, s.Records} {
		if sk == nil {
			continue
		}
		if err := sk.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
