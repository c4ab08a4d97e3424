package notify

// AccessKind further qualifies an Access event.
type AccessKind struct {
	v    accessKindValue
	mode AccessMode
}

type accessKindValue uint8

const (
	accessAny accessKindValue = iota
	accessRead
	accessOpen
	accessClose
	accessOther
)

var (
	// AccessAny means a backend can only tell that some access occurred.
	AccessAny = AccessKind{v: accessAny}
	// AccessRead means the content was read.
	AccessRead = AccessKind{v: accessRead}
	// AccessOther carries a backend-specific access variant.
	AccessOther = AccessKind{v: accessOther}
)

// AccessOpen returns an AccessKind for an open of the given mode.
func AccessOpen(m AccessMode) AccessKind { return AccessKind{v: accessOpen, mode: m} }

// AccessClose returns an AccessKind for a close of the given mode.
func AccessClose(m AccessMode) AccessKind { return AccessKind{v: accessClose, mode: m} }

// AccessMode qualifies AccessOpen/AccessClose.
type AccessMode struct{ v accessModeValue }

type accessModeValue uint8

const (
	modeAny accessModeValue = iota
	modeRead
	modeWrite
	modeExecute
	modeOther
)

var (
	ModeAny     = AccessMode{modeAny}
	ModeRead    = AccessMode{modeRead}
	ModeWrite   = AccessMode{modeWrite}
	ModeExecute = AccessMode{modeExecute}
	ModeOther   = AccessMode{modeOther}
)

func (m AccessMode) String() string {
	switch m.v {
	case modeRead:
		return "READ"
	case modeWrite:
		return "WRITE"
	case modeExecute:
		return "EXECUTE"
	case modeOther:
		return "OTHER"
	default:
		return "ANY"
	}
}

func (k AccessKind) String() string {
	switch k.v {
	case accessRead:
		return "READ"
	case accessOpen:
		return "OPEN:" + k.mode.String()
	case accessClose:
		return "CLOSE:" + k.mode.String()
	case accessOther:
		return "OTHER"
	default:
		return "ANY"
	}
}

// CreateKind further qualifies a Create event.
type CreateKind struct{ v createKindValue }

type createKindValue uint8

const (
	createAny createKindValue = iota
	createFile
	createFolder
	createOther
)

var (
	CreateAny    = CreateKind{createAny}
	CreateFile   = CreateKind{createFile}
	CreateFolder = CreateKind{createFolder}
	CreateOther  = CreateKind{createOther}
)

func (k CreateKind) String() string {
	switch k.v {
	case createFile:
		return "FILE"
	case createFolder:
		return "FOLDER"
	case createOther:
		return "OTHER"
	default:
		return "ANY"
	}
}

// RemoveKind further qualifies a Remove event. Its variants mirror CreateKind.
type RemoveKind struct{ v createKindValue }

var (
	RemoveAny    = RemoveKind{createAny}
	RemoveFile   = RemoveKind{createFile}
	RemoveFolder = RemoveKind{createFolder}
	RemoveOther  = RemoveKind{createOther}
)

func (k RemoveKind) String() string { return CreateKind(k).String() }

// ModifyKind further qualifies a Modify event.
type ModifyKind struct {
	v      modifyKindValue
	data   DataChange
	meta   MetadataKind
	rename RenameMode
	other  string
}

type modifyKindValue uint8

const (
	modifyAny modifyKindValue = iota
	modifyData
	modifyMetadata
	modifyName
	modifyOther
)

// ModifyAny means a backend can only tell that the path was modified somehow.
var ModifyAny = ModifyKind{v: modifyAny}

// ModifyData returns a ModifyKind describing a change to file content/size.
func ModifyData(d DataChange) ModifyKind { return ModifyKind{v: modifyData, data: d} }

// ModifyMetadata returns a ModifyKind describing a metadata-only change.
func ModifyMetadata(m MetadataKind) ModifyKind { return ModifyKind{v: modifyMetadata, meta: m} }

// ModifyName returns a ModifyKind describing a rename/move.
func ModifyName(r RenameMode) ModifyKind { return ModifyKind{v: modifyName, rename: r} }

// ModifyOther returns a ModifyKind carrying a backend-specific tag.
func ModifyOther(tag string) ModifyKind { return ModifyKind{v: modifyOther, other: tag} }

func (k ModifyKind) String() string {
	switch k.v {
	case modifyData:
		return "DATA:" + k.data.String()
	case modifyMetadata:
		return "METADATA:" + k.meta.String()
	case modifyName:
		return "NAME:" + k.rename.String()
	case modifyOther:
		return "OTHER(" + k.other + ")"
	default:
		return "ANY"
	}
}

// IsName reports whether k is a ModifyName kind, returning its RenameMode.
func (k ModifyKind) IsName() (RenameMode, bool) { return k.rename, k.v == modifyName }

// IsData reports whether k is a ModifyData kind, returning its DataChange.
func (k ModifyKind) IsData() (DataChange, bool) { return k.data, k.v == modifyData }

// IsMetadata reports whether k is a ModifyMetadata kind.
func (k ModifyKind) IsMetadata() (MetadataKind, bool) { return k.meta, k.v == modifyMetadata }

// DataChange further qualifies ModifyData.
type DataChange struct{ v dataChangeValue }

type dataChangeValue uint8

const (
	dataAny dataChangeValue = iota
	dataSize
	dataContent
	dataOther
)

var (
	DataAny     = DataChange{dataAny}
	DataSize    = DataChange{dataSize}
	DataContent = DataChange{dataContent}
	DataOther   = DataChange{dataOther}
)

func (d DataChange) String() string {
	switch d.v {
	case dataSize:
		return "SIZE"
	case dataContent:
		return "CONTENT"
	case dataOther:
		return "OTHER"
	default:
		return "ANY"
	}
}

// MetadataKind further qualifies ModifyMetadata.
type MetadataKind struct{ v metadataKindValue }

type metadataKindValue uint8

const (
	metaAny metadataKindValue = iota
	metaAccessTime
	metaWriteTime
	metaPermissions
	metaOwnership
	metaExtended
	metaOther
)

var (
	MetadataAny         = MetadataKind{metaAny}
	MetadataAccessTime  = MetadataKind{metaAccessTime}
	MetadataWriteTime   = MetadataKind{metaWriteTime}
	MetadataPermissions = MetadataKind{metaPermissions}
	MetadataOwnership   = MetadataKind{metaOwnership}
	MetadataExtended    = MetadataKind{metaExtended}
	MetadataOther       = MetadataKind{metaOther}
)

func (m MetadataKind) String() string {
	switch m.v {
	case metaAccessTime:
		return "ACCESS_TIME"
	case metaWriteTime:
		return "WRITE_TIME"
	case metaPermissions:
		return "PERMISSIONS"
	case metaOwnership:
		return "OWNERSHIP"
	case metaExtended:
		return "EXTENDED"
	case metaOther:
		return "OTHER"
	default:
		return "ANY"
	}
}

// RenameMode further qualifies ModifyName: which half of a rename pair this
// event represents, if known.
type RenameMode struct{ v renameModeValue }

type renameModeValue uint8

const (
	renameAny renameModeValue = iota
	renameTo
	renameFrom
	renameBoth
	renameOther
)

var (
	RenameAny   = RenameMode{renameAny}
	RenameTo    = RenameMode{renameTo}
	RenameFrom  = RenameMode{renameFrom}
	RenameBoth  = RenameMode{renameBoth}
	RenameOther = RenameMode{renameOther}
)

func (r RenameMode) String() string {
	switch r.v {
	case renameTo:
		return "TO"
	case renameFrom:
		return "FROM"
	case renameBoth:
		return "BOTH"
	case renameOther:
		return "OTHER"
	default:
		return "ANY"
	}
}
