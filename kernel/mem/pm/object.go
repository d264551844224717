package pm

import (
	"nexke/kernel"
	"nexke/kernel/list"
	"nexke/kernel/mem"
	"nexke/kernel/sync"
	"unsafe"
)

// Backend dispatches the pageable operations for an Object's kind of memory.
// PageIn must fill page with the contents for offset and return false on
// failure; PageOut must write the resident page at offset back to its
// backing store (or discard it, for anonymous memory) and return false on
// failure. Init/Destroy bracket the object's lifetime.
type Backend interface {
	PageIn(obj *Object, offset uint64, page *Page) bool
	PageOut(obj *Object, offset uint64) bool
	Init(obj *Object) bool
	Destroy(obj *Object) bool
}

// BackendKind enumerates the built-in memory object backends.
type BackendKind int

const (
	// BackendAnon is demand-paged, zero-fill-on-demand anonymous memory.
	BackendAnon BackendKind = iota
	// BackendKernel backs the kernel's own virtual memory object: every
	// page is zero-fill and, per the Object.Pageable invariant, never
	// evicted.
	BackendKernel
)

// Perm is a backend-independent permission mask; MUL translates it into
// architecture page-table flags.
type Perm uint32

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

// InheritPolicy controls how a mapping is treated across an address-space
// fork (reserved for the future user-mode extension; no-op on the kernel
// object).
type InheritPolicy int

const (
	InheritShare InheritPolicy = iota
	InheritCopy
	InheritNone
)

// Object represents a pageable extent of logical pages, e.g. the backing
// store for one address-space entry or the kernel's own virtual memory.
type Object struct {
	Count    uint64
	Resident uint64
	RefCount int

	Backend BackendKind
	Ops     Backend

	Perm    Perm
	Inherit InheritPolicy

	// Pageable is false for the kernel-backing object: its pages are
	// zero-fill and are never selected for eviction.
	Pageable bool

	Pages list.List[Page]

	Lock sync.Spinlock
}

// NewObject creates a memory object of count logical pages backed by ops.
func NewObject(count uint64, kind BackendKind, ops Backend, perm Perm) *Object {
	obj := &Object{
		Count:    count,
		Backend:  kind,
		Ops:      ops,
		Perm:     perm,
		Pageable: kind != BackendKernel,
	}
	if ops != nil {
		ops.Init(obj)
	}
	return obj
}

// Ref increments the object's reference count.
func (o *Object) Ref() {
	o.Lock.Acquire()
	o.RefCount++
	o.Lock.Release()
}

// Deref decrements the object's reference count, destroying the object via
// its backend when it reaches zero.
func (o *Object) Deref() {
	o.Lock.Acquire()
	o.RefCount--
	destroy := o.RefCount <= 0
	o.Lock.Release()

	if destroy && o.Ops != nil {
		o.Ops.Destroy(o)
	}
}

// Protect applies a new permission mask to the object; existing mappings are
// re-protected by the caller (KVM/MUL), not by Object itself.
func (o *Object) Protect(perm Perm) {
	o.Lock.Acquire()
	o.Perm = perm
	o.Lock.Release()
}

// --- page hash: keyed by (object, offset) -------------------------------

type hashBucket struct {
	lock sync.Spinlock
	list list.List[Page]
}

var (
	buckets     []hashBucket
	errDupPage  = &kernel.Error{Module: "pm", Message: "page already belongs to an object"}
	errNoBucket = &kernel.Error{Module: "pm", Message: "page hash not initialized"}
)

// ErrPageAlreadyOwned is returned by AddPage when the page is already linked
// into an object.
var ErrPageAlreadyOwned = errDupPage

func objectBase(obj *Object) uint64 {
	return uint64(uintptr(unsafe.Pointer(obj)))
}

func bucketFor(obj *Object, offset uint64) *hashBucket {
	if len(buckets) == 0 {
		return nil
	}
	key := (objectBase(obj) + offset) / uint64(mem.PageSize)
	return &buckets[key&uint64(len(buckets)-1)]
}

// AddPage inserts page into obj's page list and the (obj, offset) hash. page
// must not already belong to an object. Caller must hold obj.Lock and
// page.Lock.
func AddPage(obj *Object, offset uint64, page *Page) *kernel.Error {
	if page.Flags.Has(PageInObject) {
		return errDupPage
	}
	b := bucketFor(obj, offset)
	if b == nil {
		return errNoBucket
	}

	page.Obj = obj
	page.Offset = offset
	page.Flags = (page.Flags &^ stateMask) | PageInObject

	page.objLink.Init(page)
	obj.Pages.PushBack(&page.objLink)
	obj.Resident++

	b.lock.Acquire()
	page.hashLink.Init(page)
	b.list.PushBack(&page.hashLink)
	b.lock.Release()

	return nil
}

// LookupPage returns the resident page at (obj, offset), or nil. Caller
// should hold obj.Lock.
func LookupPage(obj *Object, offset uint64) *Page {
	b := bucketFor(obj, offset)
	if b == nil {
		return nil
	}

	b.lock.Acquire()
	defer b.lock.Release()

	var found *Page
	b.list.Do(func(p *Page) {
		if found == nil && p.Obj == obj && p.Offset == offset {
			found = p
		}
	})
	return found
}

// RemovePage unlinks page from its object's page list and the page hash,
// leaving it in the PageAllocated state. Caller must hold page.Lock.
func RemovePage(page *Page) {
	if page.Obj == nil {
		return
	}

	b := bucketFor(page.Obj, page.Offset)
	if b != nil {
		b.lock.Acquire()
		b.list.Remove(&page.hashLink)
		b.lock.Release()
	}

	obj := page.Obj
	obj.Pages.Remove(&page.objLink)
	if obj.Resident > 0 {
		obj.Resident--
	}

	page.Obj = nil
	page.Offset = 0
	page.Flags = page.Flags&^PageInObject | PageAllocated
}
