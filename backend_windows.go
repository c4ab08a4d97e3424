//go:build windows
// +build windows

package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/go-logr/logr"
	"golang.org/x/sys/windows"

	"github.com/watchcore/notify/internal"
)

// windowsBackend watches via ReadDirectoryChangesW over an I/O completion
// port, one handle per watched directory (ReadDirectoryChangesW has no
// per-file mode, so watching a single file means watching its parent and
// filtering by name, via the "names" map below).
type windowsBackend struct {
	buf *RingBuffer
	log logr.Logger

	port  windows.Handle
	input chan *winInput
	quit  chan chan<- error

	mu       sync.Mutex
	watches  winWatchMap
	isClosed bool
}

func newWindowsBackend(buf *RingBuffer, log logr.Logger) (backend, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, os.NewSyscallError("CreateIoCompletionPort", err)
	}
	w := &windowsBackend{
		buf:     buf,
		log:     log,
		port:    port,
		watches: make(winWatchMap),
		input:   make(chan *winInput, 1),
		quit:    make(chan chan<- error, 1),
	}
	go w.readEvents()
	return w, nil
}

func (w *windowsBackend) sendEvent(name string, mask uint64) {
	if mask == 0 {
		return
	}
	ev := w.newEvent(name, uint32(mask))
	select {
	case ch := <-w.quit:
		w.quit <- ch
	default:
		w.buf.Push(ev)
	}
}

func (w *windowsBackend) Close() error {
	w.mu.Lock()
	if w.isClosed {
		w.mu.Unlock()
		return nil
	}
	w.isClosed = true
	w.mu.Unlock()

	ch := make(chan error)
	w.quit <- ch
	if err := w.wakeupReader(); err != nil {
		return err
	}
	err := <-ch
	w.buf.Close()
	return err
}

// Add starts watching path non-recursively; recursive.go's wrapper is not
// used here since ReadDirectoryChangesW supports a native recursive flag
// (bWatchSubtree) — recursivePath's "/..." suffix maps directly onto it.
func (w *windowsBackend) Add(name string) error { return w.AddWith(name) }

func (w *windowsBackend) AddWith(name string, opts ...addOpt) error {
	w.mu.Lock()
	if w.isClosed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.mu.Unlock()

	with := getOptions(opts...)
	if with.noFollow || with.bufsize != 0 {
		return xErrUnsupported
	}

	path, _ := recursivePath(name)
	in := &winInput{
		op:    winOpAdd,
		path:  filepath.Clean(path),
		flags: uint32(sysFlagsFromMask(with.mask)),
		reply: make(chan error),
	}
	w.input <- in
	if err := w.wakeupReader(); err != nil {
		return err
	}
	return <-in.reply
}

// sysFlagsFromMask translates an EventKindMask into the sysFS* bits this
// backend filters we.mask against when deciding whether to emit an event
// (see sendEvent and its callers below).
func sysFlagsFromMask(mask EventKindMask) uint64 {
	var flags uint64
	if mask&MaskCreate != 0 {
		flags |= sysFSCREATE
	}
	if mask&MaskModifyData != 0 {
		flags |= sysFSMODIFY
	}
	if mask&MaskModifyMetadata != 0 {
		flags |= sysFSATTRIB
	}
	if mask&MaskModifyName != 0 {
		flags |= sysFSMOVE | sysFSMOVEDFROM | sysFSMOVEDTO | sysFSMOVESELF
	}
	if mask&MaskRemove != 0 {
		flags |= sysFSDELETE | sysFSDELETESELF
	}
	// sysFSIGNORED must always be deliverable regardless of mask: it's how
	// Remove/Close report a watch tearing down, not a user-facing event.
	flags |= sysFSIGNORED
	return flags
}

func (w *windowsBackend) Remove(name string) error {
	path, _ := recursivePath(name)
	in := &winInput{op: winOpRemove, path: filepath.Clean(path), reply: make(chan error)}
	w.input <- in
	if err := w.wakeupReader(); err != nil {
		return err
	}
	return <-in.reply
}

func (w *windowsBackend) WatchList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	entries := make([]string, 0, len(w.watches))
	for _, entry := range w.watches {
		for _, we := range entry {
			entries = append(entries, we.path)
		}
	}
	return entries
}

func (w *windowsBackend) xSupports(mask EventKindMask) bool {
	return mask&MaskAccess == 0
}

const (
	sysFSATTRIB     = 0x4
	sysFSCREATE     = 0x100
	sysFSDELETE     = 0x200
	sysFSDELETESELF = 0x400
	sysFSMODIFY     = 0x2
	sysFSMOVE       = 0xc0
	sysFSMOVEDFROM  = 0x40
	sysFSMOVEDTO    = 0x80
	sysFSMOVESELF   = 0x800
	sysFSIGNORED    = 0x8000
)

func (w *windowsBackend) newEvent(name string, mask uint32) Event {
	var kind EventKind
	switch {
	case mask&sysFSCREATE == sysFSCREATE:
		kind = Create(CreateAny)
	case mask&sysFSMOVEDTO == sysFSMOVEDTO:
		kind = Modify(ModifyName(RenameTo))
	case mask&(sysFSDELETE|sysFSDELETESELF) != 0:
		kind = Remove(RemoveAny)
	case mask&sysFSMODIFY == sysFSMODIFY:
		kind = Modify(ModifyData(DataContent))
	case mask&(sysFSMOVE|sysFSMOVESELF|sysFSMOVEDFROM) != 0:
		kind = Modify(ModifyName(RenameFrom))
	case mask&sysFSATTRIB == sysFSATTRIB:
		kind = Modify(ModifyMetadata(MetadataAny))
	default:
		kind = Any
	}
	return Event{Kind: kind, Paths: []string{name}}
}

const (
	winOpAdd = iota
	winOpRemove
)

const winProvisional uint64 = 1 << 62

type winInput struct {
	op    int
	path  string
	flags uint32
	reply chan error
}

type winInode struct {
	handle windows.Handle
	volume uint32
	index  uint64
}

type winWatch struct {
	ov     windows.Overlapped
	ino    *winInode
	path   string
	mask   uint64
	names  map[string]uint64
	rename string
	buf    [65536]byte
}

type (
	winIndexMap map[uint64]*winWatch
	winWatchMap map[uint32]winIndexMap
)

func (w *windowsBackend) wakeupReader() error {
	if err := windows.PostQueuedCompletionStatus(w.port, 0, 0, nil); err != nil {
		return os.NewSyscallError("PostQueuedCompletionStatus", err)
	}
	return nil
}

func (w *windowsBackend) getDir(pathname string) (string, error) {
	attr, err := windows.GetFileAttributes(windows.StringToUTF16Ptr(pathname))
	if err != nil {
		return "", os.NewSyscallError("GetFileAttributes", err)
	}
	if attr&windows.FILE_ATTRIBUTE_DIRECTORY != 0 {
		return pathname, nil
	}
	dir, _ := filepath.Split(pathname)
	return filepath.Clean(dir), nil
}

func (w *windowsBackend) getIno(path string) (*winInode, error) {
	h, err := windows.CreateFile(windows.StringToUTF16Ptr(path),
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED, 0)
	if err != nil {
		return nil, os.NewSyscallError("CreateFile", err)
	}
	var fi windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &fi); err != nil {
		windows.CloseHandle(h)
		return nil, os.NewSyscallError("GetFileInformationByHandle", err)
	}
	return &winInode{
		handle: h,
		volume: fi.VolumeSerialNumber,
		index:  uint64(fi.FileIndexHigh)<<32 | uint64(fi.FileIndexLow),
	}, nil
}

func (m winWatchMap) get(ino *winInode) *winWatch {
	if i := m[ino.volume]; i != nil {
		return i[ino.index]
	}
	return nil
}

func (m winWatchMap) set(ino *winInode, watch *winWatch) {
	i := m[ino.volume]
	if i == nil {
		i = make(winIndexMap)
		m[ino.volume] = i
	}
	i[ino.index] = watch
}

func (w *windowsBackend) addWatch(pathname string, flags uint64) error {
	dir, err := w.getDir(pathname)
	if err != nil {
		return err
	}
	ino, err := w.getIno(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	we := w.watches.get(ino)
	w.mu.Unlock()
	if we == nil {
		if _, err := windows.CreateIoCompletionPort(ino.handle, w.port, 0, 0); err != nil {
			windows.CloseHandle(ino.handle)
			return os.NewSyscallError("CreateIoCompletionPort", err)
		}
		we = &winWatch{ino: ino, path: dir, names: make(map[string]uint64)}
		w.mu.Lock()
		w.watches.set(ino, we)
		w.mu.Unlock()
		flags |= winProvisional
	} else {
		windows.CloseHandle(ino.handle)
	}
	if pathname == dir {
		we.mask |= flags
	} else {
		we.names[filepath.Base(pathname)] |= flags
	}

	if err := w.startRead(we); err != nil {
		return err
	}
	if pathname == dir {
		we.mask &^= winProvisional
	} else {
		we.names[filepath.Base(pathname)] &^= winProvisional
	}
	return nil
}

func (w *windowsBackend) remWatch(pathname string) error {
	dir, err := w.getDir(pathname)
	if err != nil {
		return err
	}
	ino, err := w.getIno(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	we := w.watches.get(ino)
	w.mu.Unlock()

	if err := windows.CloseHandle(ino.handle); err != nil {
		w.buf.Push(Event{Kind: Other("error"), Attrs: Attrs{"error": err.Error()}})
	}
	if we == nil {
		return fmt.Errorf("%w: %s", ErrNonExistentWatch, pathname)
	}
	if pathname == dir {
		w.sendEvent(we.path, we.mask&sysFSIGNORED)
		we.mask = 0
	} else {
		name := filepath.Base(pathname)
		w.sendEvent(filepath.Join(we.path, name), we.names[name]&sysFSIGNORED)
		delete(we.names, name)
	}
	return w.startRead(we)
}

func (w *windowsBackend) deleteWatch(we *winWatch) {
	for name, mask := range we.names {
		if mask&winProvisional == 0 {
			w.sendEvent(filepath.Join(we.path, name), mask&sysFSIGNORED)
		}
		delete(we.names, name)
	}
	if we.mask != 0 {
		if we.mask&winProvisional == 0 {
			w.sendEvent(we.path, we.mask&sysFSIGNORED)
		}
		we.mask = 0
	}
}

func (w *windowsBackend) startRead(we *winWatch) error {
	if err := windows.CancelIo(we.ino.handle); err != nil {
		w.buf.Push(Event{Kind: Other("error"), Attrs: Attrs{"error": err.Error()}})
		w.deleteWatch(we)
	}
	mask := w.toWindowsFlags(we.mask)
	for _, m := range we.names {
		mask |= w.toWindowsFlags(m)
	}
	if mask == 0 {
		if err := windows.CloseHandle(we.ino.handle); err != nil {
			w.buf.Push(Event{Kind: Other("error"), Attrs: Attrs{"error": err.Error()}})
		}
		w.mu.Lock()
		delete(w.watches[we.ino.volume], we.ino.index)
		w.mu.Unlock()
		return nil
	}

	rdErr := windows.ReadDirectoryChanges(we.ino.handle, &we.buf[0],
		uint32(unsafe.Sizeof(we.buf)), false, mask, nil, &we.ov, 0)
	if rdErr != nil {
		err := os.NewSyscallError("ReadDirectoryChanges", rdErr)
		if rdErr == windows.ERROR_ACCESS_DENIED && we.mask&winProvisional == 0 {
			w.sendEvent(we.path, we.mask&sysFSDELETESELF)
			err = nil
		}
		w.deleteWatch(we)
		w.startRead(we)
		return err
	}
	return nil
}

func (w *windowsBackend) readEvents() {
	var (
		n   uint32
		key uintptr
		ov  *windows.Overlapped
	)
	runtime.LockOSThread()

	for {
		qErr := windows.GetQueuedCompletionStatus(w.port, &n, &key, &ov, windows.INFINITE)

		we := (*winWatch)(unsafe.Pointer(ov))
		if we == nil {
			select {
			case ch := <-w.quit:
				w.mu.Lock()
				var indexes []winIndexMap
				for _, index := range w.watches {
					indexes = append(indexes, index)
				}
				w.mu.Unlock()
				for _, index := range indexes {
					for _, ww := range index {
						w.deleteWatch(ww)
						w.startRead(ww)
					}
				}
				err := windows.CloseHandle(w.port)
				if err != nil {
					err = os.NewSyscallError("CloseHandle", err)
				}
				ch <- err
				return
			case in := <-w.input:
				switch in.op {
				case winOpAdd:
					in.reply <- w.addWatch(in.path, uint64(in.flags))
				case winOpRemove:
					in.reply <- w.remWatch(in.path)
				}
			default:
			}
			continue
		}

		switch qErr {
		case windows.ERROR_MORE_DATA:
			n = uint32(unsafe.Sizeof(we.buf))
		case windows.ERROR_ACCESS_DENIED:
			w.sendEvent(we.path, we.mask&sysFSDELETESELF)
			w.deleteWatch(we)
			w.startRead(we)
			continue
		case windows.ERROR_OPERATION_ABORTED:
			continue
		default:
			if qErr != nil {
				w.buf.Push(Event{Kind: Other("error"), Attrs: Attrs{"error": qErr.Error()}})
				continue
			}
		}

		var offset uint32
		for {
			if n == 0 {
				w.buf.Push(Event{Kind: Other("error"), Attrs: Attrs{"error": "short read in readEvents()"}})
				break
			}

			raw := (*windows.FileNotifyInformation)(unsafe.Pointer(&we.buf[offset]))
			size := int(raw.FileNameLength / 2)
			var nameBuf []uint16
			sh := (*reflect.SliceHeader)(unsafe.Pointer(&nameBuf))
			sh.Data = uintptr(unsafe.Pointer(&raw.FileName))
			sh.Len = size
			sh.Cap = size
			name := windows.UTF16ToString(nameBuf)
			fullname := filepath.Join(we.path, name)

			w.log.V(2).Info("raw event", "name", fullname, "action", raw.Action)
			if w.log.V(2).Enabled() {
				internal.Debug(fullname, uint32(raw.Action))
			}

			var mask uint64
			switch raw.Action {
			case windows.FILE_ACTION_REMOVED:
				mask = sysFSDELETESELF
			case windows.FILE_ACTION_MODIFIED:
				mask = sysFSMODIFY
			case windows.FILE_ACTION_RENAMED_OLD_NAME:
				we.rename = name
			case windows.FILE_ACTION_RENAMED_NEW_NAME:
				old := filepath.Join(we.path, we.rename)
				w.mu.Lock()
				for _, wmap := range w.watches {
					for _, ww := range wmap {
						if strings.HasPrefix(ww.path, old) {
							ww.path = filepath.Join(fullname, strings.TrimPrefix(ww.path, old))
						}
					}
				}
				w.mu.Unlock()
				if we.names[we.rename] != 0 {
					we.names[name] |= we.names[we.rename]
					delete(we.names, we.rename)
					mask = sysFSMOVESELF
				}
			}

			sendNameEvent := func() { w.sendEvent(fullname, we.names[name]&mask) }
			if raw.Action != windows.FILE_ACTION_RENAMED_NEW_NAME {
				sendNameEvent()
			}
			if raw.Action == windows.FILE_ACTION_REMOVED {
				w.sendEvent(fullname, we.names[name]&sysFSIGNORED)
				delete(we.names, name)
			}

			w.sendEvent(fullname, we.mask&w.toNotifyFlags(raw.Action))
			if raw.Action == windows.FILE_ACTION_RENAMED_NEW_NAME {
				fullname = filepath.Join(we.path, we.rename)
				sendNameEvent()
			}

			if raw.NextEntryOffset == 0 {
				break
			}
			offset += raw.NextEntryOffset
			if offset >= n {
				w.buf.Push(Event{Kind: Other("overflow"), Attrs: Attrs{"flag": FlagRescan}})
				break
			}
		}

		if err := w.startRead(we); err != nil {
			w.buf.Push(Event{Kind: Other("error"), Attrs: Attrs{"error": err.Error()}})
		}
	}
}

func (w *windowsBackend) toWindowsFlags(mask uint64) uint32 {
	var m uint32
	if mask&sysFSMODIFY != 0 {
		m |= windows.FILE_NOTIFY_CHANGE_LAST_WRITE
	}
	if mask&sysFSATTRIB != 0 {
		m |= windows.FILE_NOTIFY_CHANGE_ATTRIBUTES
	}
	if mask&(sysFSMOVE|sysFSCREATE|sysFSDELETE) != 0 {
		m |= windows.FILE_NOTIFY_CHANGE_FILE_NAME | windows.FILE_NOTIFY_CHANGE_DIR_NAME
	}
	return m
}

func (w *windowsBackend) toNotifyFlags(action uint32) uint64 {
	switch action {
	case windows.FILE_ACTION_ADDED:
		return sysFSCREATE
	case windows.FILE_ACTION_REMOVED:
		return sysFSDELETE
	case windows.FILE_ACTION_MODIFIED:
		return sysFSMODIFY
	case windows.FILE_ACTION_RENAMED_OLD_NAME:
		return sysFSMOVEDFROM
	case windows.FILE_ACTION_RENAMED_NEW_NAME:
		return sysFSMOVEDTO
	}
	return 0
}
