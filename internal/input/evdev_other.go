//go:build !linux

package input

// DefaultInputDir is unused outside Linux.
const DefaultInputDir = ""

// EvdevSource reports ErrUnsupportedPlatform.
type EvdevSource struct {
	Dir string
}

// NewSource returns a source that cannot list or open devices.
func NewSource(dir string) *EvdevSource {
	return &EvdevSource{Dir: dir}
}

func (s *EvdevSource) List() ([]string, error) {
	return nil, ErrUnsupportedPlatform
}

func (s *EvdevSource) Open(path string) (Device, error) {
	return nil, ErrUnsupportedPlatform
}
