package capwire

import (
	"github.com/jward/capwire/internal/diag"
	"github.com/jward/capwire/internal/resolve"
	"github.com/jward/capwire/internal/store"
)

// Version is the capwire release. It is compared against
// check.required_version and stamped into the index.
const Version = "0.3.0"

// Public type aliases for internal types used in the Engine and
// QueryBuilder API. These are Go type aliases (=), so no conversion is
// needed.

type Store = store.Store
type File = store.File
type DelegationEntry = store.DelegationEntry
type GetterBinding = store.GetterBinding
type SlotBinding = store.SlotBinding
type Diagnostic = store.Diagnostic

type Result = resolve.Result
type ContextResult = resolve.ContextResult

// Build-time diagnostics. Each is returned inside a DiagnosticList and can
// be matched with errors.As.

type UnresolvedCapabilityError = diag.UnresolvedCapabilityError
type AmbiguousProviderError = diag.AmbiguousProviderError
type MissingAccessorError = diag.MissingAccessorError
type TypeSlotConflictError = diag.TypeSlotConflictError
type UnsatisfiedRequirementError = diag.UnsatisfiedRequirementError
type CyclicDependencyError = diag.CyclicDependencyError
type UndeclaredError = diag.UndeclaredError
type DuplicateDeclarationError = diag.DuplicateDeclarationError
type ProviderMismatchError = diag.ProviderMismatchError
type InvalidDirectiveError = diag.InvalidDirectiveError

type DiagnosticList = diag.List
type Report = diag.Report
