// Package health exposes cortex state as liveness and readiness probes.
package health

import (
	"fmt"
	"strings"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/cortex/pkg/cortex"
)

// NewHandler returns a handler serving /live and /ready. Liveness fails once this
// process has leaked a kernel resource; readiness fails while System-V IPC is
// unavailable or any of keys has no usable segment.
func NewHandler(keys ...cortex.Key) healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("cortex-leaks", LeakCheck())
	h.AddReadinessCheck("sysv-ipc", IPCCheck())
	for _, k := range keys {
		h.AddReadinessCheck(fmt.Sprintf("segment-%d", k), SegmentCheck(k))
	}
	return h
}

// LeakCheck fails while cortex.LeakedResources is not empty.
func LeakCheck() healthcheck.Check {
	return func() error {
		leaks := cortex.LeakedResources()
		if len(leaks) == 0 {
			return nil
		}
		parts := make([]string, 0, len(leaks))
		for _, r := range leaks {
			parts = append(parts, fmt.Sprintf("%s key:%d id:%d", r.Kind, r.Key, r.ID))
		}
		return fmt.Errorf("%d leaked kernel resources: %s", len(leaks), strings.Join(parts, ", "))
	}
}

// IPCCheck fails on platforms without System-V IPC.
func IPCCheck() healthcheck.Check {
	return func() error {
		if !cortex.Supported() {
			return fmt.Errorf("system-v ipc is not supported on this platform")
		}
		return nil
	}
}

// SegmentCheck fails if the segment for key is missing or orphaned.
func SegmentCheck(key cortex.Key) healthcheck.Check {
	return func() error {
		info, err := cortex.InspectSegment(key)
		if err != nil {
			return err
		}
		if info.Orphaned() {
			return fmt.Errorf("segment key:%d id:%d is orphaned, creator pid %d exited", key, info.ID, info.CreatorPID)
		}
		return nil
	}
}
