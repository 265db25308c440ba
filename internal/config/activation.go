package config

import (
	"fmt"
	"net"
	"runtime"

	"github.com/coreos/go-systemd/v22/activation"
)

// ListenerFD obtains the raw file descriptor for the named, already-bound
// listening socket handed to this process by its init supervisor
// (spec.md §6: "the daemon does NOT bind; it assumes the fd is inherited
// and already bound"). The net.Listener wrapper activation.
// ListenersWithNames constructs is used only to reach the fd.
//
// unixListener.File() returns a dup of the underlying descriptor wrapped
// in an *os.File; per its documented contract that descriptor is valid
// only until the *os.File is closed OR garbage collected, since an
// unclosed *os.File carries a finalizer that closes it for you. Letting f
// go out of scope here without disarming that finalizer would leave the
// reactor's listening fd subject to being silently closed by a later GC
// cycle, violating spec.md §5's "listening fd is owned by the reactor for
// the process lifetime." SetFinalizer(f, nil) hands sole ownership of the
// descriptor to the caller.
func ListenerFD(name string) (int, error) {
	listeners, err := activation.ListenersWithNames()
	if err != nil {
		return -1, fmt.Errorf("config: socket activation: %w", err)
	}

	ls, ok := listeners[name]
	if !ok || len(ls) == 0 {
		return -1, fmt.Errorf("config: no listener named %q supplied by init supervisor", name)
	}

	unixListener, ok := ls[0].(*net.UnixListener)
	if !ok {
		return -1, fmt.Errorf("config: listener %q is not a UNIX-domain stream socket", name)
	}

	f, err := unixListener.File()
	if err != nil {
		return -1, fmt.Errorf("config: extracting descriptor from listener %q: %w", name, err)
	}
	runtime.SetFinalizer(f, nil)

	return int(f.Fd()), nil
}
