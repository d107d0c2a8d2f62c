//go:build !linux

package platform

import "runtime"

// noopPlatform is used where core affinity and rlimits of other processes are
// unavailable (macOS, Windows). Jobs then run unpinned and unlimited.
type noopPlatform struct{}

func Default() Platform {
	return noopPlatform{}
}

func (noopPlatform) Supported() bool {
	return false
}

func (noopPlatform) CoreIDs() ([]int, error) {
	ids := make([]int, runtime.NumCPU())
	for i := range ids {
		ids[i] = i
	}
	return ids, nil
}

func (noopPlatform) PinSelf(int) error                   { return nil }
func (noopPlatform) SetNice(int, int) error              { return nil }
func (noopPlatform) SetLimits(int, uint64, uint64) error { return nil }
