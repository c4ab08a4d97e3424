// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package notify provides a platform-independent interface for filesystem
// change notifications.
//
// Client programs register paths of interest (files or directory trees) and
// receive a stream of [Event] values describing creations, removals,
// modifications, renames, accesses, and metadata changes occurring beneath
// those paths. The radically different native mechanisms on each platform —
// Linux inotify, macOS FSEvents, BSD kqueue, Windows ReadDirectoryChangesW,
// and a portable polling fallback — are hidden behind one event model; see
// [EventKind].
package notify

import (
	"fmt"
	"strings"
)

// Event represents a single, normalized filesystem notification.
//
// Events are value-typed. An Event is not == comparable in the Go sense,
// since Paths is a slice and Attrs a map; its Kind is.
type Event struct {
	// Kind classifies what happened; see [EventKind].
	Kind EventKind

	// Paths holds one or more absolute paths associated with the event.
	// Most events carry exactly one path; rename events that have been
	// stitched together (see the debounce package) carry two: the "from"
	// path followed by the "to" path.
	Paths []string

	// Attrs holds backend- and situation-specific detail that doesn't fit
	// the closed EventKind taxonomy. Callers should treat missing keys as
	// "not applicable", not as an error.
	Attrs Attrs
}

// Attrs is an open, string-keyed bag of optional event attributes.
//
// Recognized keys:
//
//	"tracker"  int64 string correlating two related events, such as the
//	           from/to halves of a rename. Two events with the same
//	           non-empty tracker value and complementary Modify(Name(...))
//	           kinds describe one logical rename.
//	"info"     short backend-specific free text, e.g. "unmount".
//	"flag"     one of the Flag* constants below.
//	"source"   the name of the backend that produced the event; see
//	           [Watcher.Kind].
type Attrs map[string]string

// Recognized values for the Attrs["flag"] key.
const (
	FlagRescan   = "rescan"   // Consumer should re-walk the watched roots.
	FlagOngoing  = "ongoing"  // Part of a still-accumulating debounced burst.
	FlagNotice   = "notice"   // Informational; not an error.
)

// Tracker returns the event's "tracker" attribute, and whether it was set.
func (e Event) Tracker() (string, bool) {
	if e.Attrs == nil {
		return "", false
	}
	v, ok := e.Attrs["tracker"]
	return v, ok
}

// Flag returns the event's "flag" attribute, and whether it was set.
func (e Event) Flag() (string, bool) {
	if e.Attrs == nil {
		return "", false
	}
	v, ok := e.Attrs["flag"]
	return v, ok
}

// HasPath reports whether p is one of e's paths.
func (e Event) HasPath(p string) bool {
	for _, pp := range e.Paths {
		if pp == p {
			return true
		}
	}
	return false
}

// String returns a human-readable representation of the event, e.g.
// `"/tmp/x": CREATE(FILE)` or `["/tmp/a" "/tmp/b"]: MODIFY(NAME:BOTH)`.
func (e Event) String() string {
	var paths string
	if len(e.Paths) == 1 {
		paths = fmt.Sprintf("%q", e.Paths[0])
	} else {
		paths = fmt.Sprintf("%q", e.Paths)
	}
	if len(e.Attrs) == 0 {
		return fmt.Sprintf("%s: %s", paths, e.Kind)
	}
	attrs := make([]string, 0, len(e.Attrs))
	for k, v := range e.Attrs {
		attrs = append(attrs, k+"="+v)
	}
	return fmt.Sprintf("%s: %s (%s)", paths, e.Kind, strings.Join(attrs, ", "))
}

// EventKind classifies an Event. It is a closed sum type modeled as a struct
// of small enums rather than a flat bitmask, because the taxonomy is
// hierarchical: a Modify event is always further qualified by what changed
// (data, metadata, or name).
//
// The zero EventKind is Any: "something happened, we don't know what". Every
// backend translation is total — an unrecognized native flag maps to Any (or
// to the closest Kind's Other variant), never to a panic. This lets new
// native flags show up in future kernels without breaking existing clients.
type EventKind struct {
	class   eventClass
	access  AccessKind
	create  CreateKind
	modify  ModifyKind
	remove  RemoveKind
	other   string // descriptive tag, set iff class == classOther
}

type eventClass uint8

const (
	classAny eventClass = iota
	classAccess
	classCreate
	classModify
	classRemove
	classOther
)

// Any is the fallback "something happened" classification.
var Any = EventKind{class: classAny}

// Other returns an Other-classified EventKind carrying a short descriptive
// tag, e.g. Other("unmount"). The backend that emits it must document the
// tag alongside the call site.
func Other(tag string) EventKind { return EventKind{class: classOther, other: tag} }

// Create returns a Create-classified EventKind.
func Create(k CreateKind) EventKind { return EventKind{class: classCreate, create: k} }

// Remove returns a Remove-classified EventKind.
func Remove(k RemoveKind) EventKind { return EventKind{class: classRemove, remove: k} }

// Modify returns a Modify-classified EventKind.
func Modify(k ModifyKind) EventKind { return EventKind{class: classModify, modify: k} }

// Access returns an Access-classified EventKind.
func Access(k AccessKind) EventKind { return EventKind{class: classAccess, access: k} }

// IsAny reports whether k is the bare Any fallback.
func (k EventKind) IsAny() bool { return k.class == classAny }

// IsCreate, IsRemove, IsModify, IsAccess, IsOther report the event's class
// and, for IsOther, its descriptive tag.
func (k EventKind) IsCreate() (CreateKind, bool) { return k.create, k.class == classCreate }
func (k EventKind) IsRemove() (RemoveKind, bool) { return k.remove, k.class == classRemove }
func (k EventKind) IsModify() (ModifyKind, bool) { return k.modify, k.class == classModify }
func (k EventKind) IsAccess() (AccessKind, bool) { return k.access, k.class == classAccess }
func (k EventKind) IsOther() (string, bool)      { return k.other, k.class == classOther }

func (k EventKind) String() string {
	switch k.class {
	case classAny:
		return "ANY"
	case classOther:
		return "OTHER(" + k.other + ")"
	case classAccess:
		return "ACCESS(" + k.access.String() + ")"
	case classCreate:
		return "CREATE(" + k.create.String() + ")"
	case classModify:
		return "MODIFY(" + k.modify.String() + ")"
	case classRemove:
		return "REMOVE(" + k.remove.String() + ")"
	default:
		return "ANY"
	}
}
