package manifest

import (
	"fmt"

	"cuelang.org/go/cue/cuecontext"
)

// manifestSchema constrains a decoded manifest beyond what TOML
// decoding can express. Validation runs before any value is used, so
// a malformed manifest is rejected up front rather than surfacing as
// a confusing engine error mid-run.
const manifestSchema = `
run: {
	entry?:   string & =~"^[A-Za-z_][A-Za-z0-9_]*(::[A-Za-z_][A-Za-z0-9_]*)*$"
	sysroot?: string & !=""
	seed?:    int & >=0
}
`

// validateDocument checks a raw decoded manifest against the schema.
// It operates on the untyped TOML document rather than the Manifest
// struct so that a field explicitly set to an empty string stays
// distinguishable from one left unset.
func validateDocument(doc map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(manifestSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}
	val := ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return schema.Unify(val).Validate()
}
