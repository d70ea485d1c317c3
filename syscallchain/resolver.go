package syscallchain

// RawResolver names the raw link for one fd's family of calls
// (POSIX read/write/readv/writev vs Win32 ReadFile/WriteFile/WSARecv/
// WSASend). This is interface-only: unlike the source project's dynamic
// symbol interposition (overriding libc's read/write globally via
// dlsym/LD_PRELOAD so unmodified callers get coroutine-aware behavior
// for free), Go has no supported equivalent -- there is no portable way
// to intercept calls a linked package makes to the os/net packages
// short of replacing those packages' implementations outright. Callers
// that want the chain's suspension behavior select a Raw explicitly
// through this resolver instead of having it injected transparently.
type RawResolver interface {
	// Resolve returns the Raw implementation registered for fd, or ok
	// false if fd is not known to this resolver (e.g. it was never
	// opened through a tracked facade).
	Resolve(fd int) (Raw, bool)
}

// staticResolver is the simplest RawResolver: every fd shares one Raw,
// appropriate for a process that only ever talks to one kind of
// descriptor (e.g. all-TCP-socket workloads).
type staticResolver struct{ raw Raw }

// NewStaticResolver returns a RawResolver that resolves every fd to raw.
func NewStaticResolver(raw Raw) RawResolver { return staticResolver{raw: raw} }

func (r staticResolver) Resolve(int) (Raw, bool) { return r.raw, true }

// mapResolver dispatches by fd, for processes mixing descriptor kinds
// (e.g. regular files needing a different SetNonblock than sockets).
type mapResolver map[int]Raw

// NewMapResolver returns a RawResolver backed by an explicit fd->Raw
// table, populated via Register.
func NewMapResolver() interface {
	RawResolver
	Register(fd int, raw Raw)
	Unregister(fd int)
} {
	return make(mapResolver)
}

func (m mapResolver) Resolve(fd int) (Raw, bool) {
	raw, ok := m[fd]
	return raw, ok
}

func (m mapResolver) Register(fd int, raw Raw) { m[fd] = raw }

func (m mapResolver) Unregister(fd int) { delete(m, fd) }
