package notify

// EventKindMask selects which coarse classes of events a watch should
// deliver. It is applied at the kernel level where the backend supports it
// (inotify translates it to IN_* bits and kqueue to NOTE_* bits when
// registering a watch) and as a post-translation filter elsewhere
// (FSEvents, polling).
//
// The zero value is the empty mask (nothing passes); use MaskAll for the
// default "everything" behavior.
type EventKindMask uint16

const (
	MaskAccess EventKindMask = 1 << iota
	MaskCreate
	MaskModifyData
	MaskModifyMetadata
	MaskModifyName
	MaskRemove
	MaskOther
)

// MaskAll delivers every event class; it is the default mask.
const MaskAll = MaskAccess | MaskCreate | MaskModifyData | MaskModifyMetadata | MaskModifyName | MaskRemove | MaskOther

// MaskCore delivers Create, Remove, and all Modify variants but excludes
// Access events, which are by far the highest-volume and least commonly
// needed class.
const MaskCore = MaskCreate | MaskModifyData | MaskModifyMetadata | MaskModifyName | MaskRemove

// Allows reports whether mask permits delivery of an event of kind k.
func (mask EventKindMask) Allows(k EventKind) bool {
	switch k.class {
	case classAny:
		// Any is the forward-compatibility fallback for kinds a backend
		// can't classify; never filter it away.
		return true
	case classOther:
		return mask&MaskOther != 0
	case classAccess:
		return mask&MaskAccess != 0
	case classCreate:
		return mask&MaskCreate != 0
	case classRemove:
		return mask&MaskRemove != 0
	case classModify:
		switch k.modify.v {
		case modifyMetadata:
			return mask&MaskModifyMetadata != 0
		case modifyName:
			return mask&MaskModifyName != 0
		default:
			return mask&MaskModifyData != 0
		}
	default:
		return true
	}
}
