package fat

import (
	"strings"

	"github.com/rstms/fatfs"
)

// FreeCountPolicy decides at mount time whether the free cluster count
// stored in the FS information sector is used as is or recounted from
// the allocation table.
type FreeCountPolicy int

const (
	// RescanUnknown recounts only when the stored count is unknown.
	RescanUnknown FreeCountPolicy = iota
	// TrustFreeCount uses the stored count even after an unclean
	// shutdown. An unknown count is recounted on first use.
	TrustFreeCount
	// RescanUnclean also recounts when the volume was not cleanly
	// unmounted.
	RescanUnclean
	AlwaysRescan
)

var policyNames = map[FreeCountPolicy]string{
	RescanUnknown:  "rescan-unknown",
	TrustFreeCount: "trust",
	RescanUnclean:  "rescan-unclean",
	AlwaysRescan:   "always-rescan",
}

func (p FreeCountPolicy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return "invalid"
}

func ParseFreeCountPolicy(name string) (FreeCountPolicy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return RescanUnknown, nil
	}
	for policy, policyName := range policyNames {
		if name == policyName {
			return policy, nil
		}
	}
	return RescanUnknown, Fatalf("%w: free count policy %q", fatfs.ErrInvalidOperation, name)
}

// MountOptions configures Mount. The zero value mounts read-write with
// the RescanUnknown policy.
type MountOptions struct {
	ReadOnly  bool
	FreeCount FreeCountPolicy
}
