package store

import "time"

// Extraction domain types

type File struct {
	ID          int64
	Path        string
	Dir         string
	Package     string
	ImportPath  string
	Hash        string
	LastIndexed time.Time
}

type Import struct {
	ID     int64
	FileID int64
	Path   string
	Alias  string // empty for the default package name
}

// Declaration kinds.
const (
	KindStruct    = "struct"
	KindInterface = "interface"
	KindOther     = "other"
)

type Declaration struct {
	ID         int64
	FileID     int64
	Name       string
	Kind       string
	TypeParams []TypeParam
	Fields     []Field
	Shape      *Shape // interface elements when Kind is KindInterface
	Directives []Directive
	Line       int
	Col        int
}

type TypeParam struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint"`
	Inline     *Shape `json:"inline,omitempty"` // set when the constraint is an interface literal
}

type Field struct {
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"`
	Embedded bool   `json:"embedded,omitempty"`
}

// Shape is the method set and embedded elements of an interface.
type Shape struct {
	Methods []Operation `json:"methods,omitempty"`
	Embeds  []string    `json:"embeds,omitempty"`
}

type Operation struct {
	Name    string   `json:"name"`
	Params  []Param  `json:"params,omitempty"`
	Results []string `json:"results,omitempty"`
}

type Param struct {
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"`
	Variadic bool   `json:"variadic,omitempty"`
}

// Directive is a raw //capwire: comment attached to a declaration.
type Directive struct {
	ID     int64
	DeclID int64
	Text   string
	Line   int
}

// Method is a hand-written method declaration.
type Method struct {
	ID              int64
	FileID          int64
	Receiver        string
	PointerReceiver bool
	Operation
	Line int
}

// FileFacts is everything extracted from one source file.
type FileFacts struct {
	File         File
	Imports      []Import
	Declarations []Declaration
	Methods      []Method
}

// Resolution domain types

type DelegationEntry struct {
	ID            int64
	Package       string
	Context       string
	Key           string
	Provider      string
	Source        string // "direct" or "bundle:<name>"
	Instantiation string
}

type GetterBinding struct {
	ID       int64
	Package  string
	Context  string
	Value    string
	Type     string
	Accessor string
	Kind     string // "method", "directive" or "field"
}

type SlotBinding struct {
	ID      int64
	Package string
	Context string
	Slot    string
	Type    string
	Origin  string
}

type Diagnostic struct {
	ID         int64
	Code       string
	Context    string
	Subject    string
	Message    string
	Candidates []string
	Hints      []string
	File       string
	Line       int
	Col        int
}

// Resolution is the full set of rows written by one resolve pass.
type Resolution struct {
	Entries     []DelegationEntry
	Getters     []GetterBinding
	Slots       []SlotBinding
	Diagnostics []Diagnostic
}
