package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/timewave-computer/causality-sub006/internal/compiler"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
	"github.com/timewave-computer/causality-sub006/internal/teg"
)

// LoadMode controls how errors are handled during declaration loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// GraphDecl is one compiled effect graph declaration.
type GraphDecl struct {
	Name  string
	Graph *teg.Graph
}

// LoadResult contains the results of loading declarations from a directory.
type LoadResult struct {
	Relationships []*compiler.RelationshipDecl
	Graphs        []GraphDecl
	Seeds         []*compiler.SeedDecl
	Rules         []relationship.Rule
	CUEValue      cue.Value // The raw CUE value for additional processing
	FileCount     int       // Number of CUE files found
}

// Empty reports whether nothing was declared. Rules alone do not count.
func (r *LoadResult) Empty() bool {
	return len(r.Relationships) == 0 && len(r.Graphs) == 0 && len(r.Seeds) == 0
}

// LoadError represents an error that occurred during declaration loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDeclarations loads and compiles the CUE declarations in dir: the
// relationship, graph, state and rule sections.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadDeclarations(dir string, mode LoadMode) (*LoadResult, []error) {
	// Verify directory exists
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("declarations directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing declarations directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	// Find CUE files
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	// Load CUE instances
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	// Build value from instance
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}
	var errs []error
	stop := loadSection(value, "relationship", mode, compiler.CompileRelationship, &result.Relationships, &errs) ||
		loadSection(value, "graph", mode, compileGraphDecl, &result.Graphs, &errs) ||
		loadSection(value, "state", mode, compiler.CompileSeed, &result.Seeds, &errs) ||
		loadSection(value, "rule", mode, compiler.CompileRule, &result.Rules, &errs)
	if stop {
		return result, errs
	}

	if result.Empty() && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no relationships, graphs or states found in declarations"})
	}
	return result, errs
}

func compileGraphDecl(v cue.Value) (GraphDecl, error) {
	g, err := compiler.CompileGraph(v)
	if err != nil {
		return GraphDecl{}, err
	}
	return GraphDecl{Name: g.Metadata["name"], Graph: g}, nil
}

// loadSection compiles every field of section into out. It returns true
// when loading should stop.
func loadSection[T any](v cue.Value, section string, mode LoadMode, compile func(cue.Value) (T, error), out *[]T, errs *[]error) bool {
	sv := v.LookupPath(cue.ParsePath(section))
	if !sv.Exists() {
		return false
	}
	iter, err := sv.Fields()
	if err != nil {
		*errs = append(*errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating %s: %v", section, err)})
		return mode == LoadModeFailFast
	}
	for iter.Next() {
		decl, err := compile(iter.Value())
		if err != nil {
			*errs = append(*errs, convertCompileError(err, section+"."+iter.Label()))
			if mode == LoadModeFailFast {
				return true
			}
			continue
		}
		*out = append(*out, decl)
	}
	return false
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Relationship declaration errors
	ErrCodeRelKind     = "E101" // Unknown relationship kind
	ErrCodeEndpoint    = "E102" // Missing or empty source/target
	ErrCodeSync        = "E103" // Invalid sync block
	ErrCodeInvalidType = "E104" // Invalid field type (e.g., float)
	ErrCodeScript      = "E105" // Derived script does not compile
	ErrCodeMetadata    = "E106" // Non-string metadata
	ErrCodeRule        = "E107" // Invalid CEL validation rule

	// Graph declaration errors
	ErrCodeEffects       = "E110" // Invalid or missing effects
	ErrCodeContinuations = "E111" // Invalid continuation
	ErrCodeConstraints   = "E112" // Invalid temporal constraint
	ErrCodeGraphResource = "E113" // Invalid graph resource

	// Validation findings
	ErrCodeInvalid = "E120" // Relationship failed validation
	ErrCodeCycle   = "E121" // Dependency cycle in an effect graph
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	head, _, _ := strings.Cut(field, ".")
	switch head {
	case "kind":
		return ErrCodeRelKind
	case "source", "target", "domain", "resource":
		return ErrCodeEndpoint
	case "sync":
		return ErrCodeSync
	case "data", "params", "state":
		return ErrCodeInvalidType
	case "script":
		return ErrCodeScript
	case "metadata":
		return ErrCodeMetadata
	case "expr", "message", "level":
		return ErrCodeRule
	case "effects", "access", "after":
		return ErrCodeEffects
	case "continuations":
		return ErrCodeContinuations
	case "constraints":
		return ErrCodeConstraints
	case "resources":
		return ErrCodeGraphResource
	default:
		return ErrCodeGeneric
	}
}
