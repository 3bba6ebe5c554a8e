// Package cortex provides typed handles over System-V shared memory segments.
//
// A Handle[T] maps one value of type T into a segment named by a Key. Any process that
// knows the key and agrees on T can attach to it. Every access runs under a Locker; the
// built-in one is a System-V semaphore created under the same key.
//
// The process that creates a segment owns it and removes it on Close. Attached handles
// only detach. ForceOwnership takes over an existing key and removes it on Close even if
// other processes still use it.
//
// Example usage:
//
//	owner, err := cortex.NewBuilder(42.0).Key(123).WithDefaultLock()
//	if err != nil {
//	  return err
//	}
//	defer owner.Close()
//
//	peer, err := cortex.Attach[float64](123)
//	// ...
//	v, err := peer.Read()
//
// Every error is an *Error. Clean errors left the kernel as it was; Dirty errors left a
// segment or semaphore set allocated that must be removed by hand, see RemoveSegment,
// RemoveSemaphore and LeakedResources.
//
// T must be plain data: fixed-size values without pointers, slices, strings, maps,
// channels, funcs or interfaces.
package cortex
