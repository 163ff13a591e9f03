package proof

import (
	"fmt"
	"strings"
)

// ChainBreakError is the raised form of a failed validation: the break
// kind derived from the error text plus the full result for callers that
// want the individual messages.
type ChainBreakError struct {
	Kind   string
	Result ValidationResult
}

func (e *ChainBreakError) Error() string {
	return fmt.Sprintf("proof chain broken (%s): %s", e.Kind, strings.Join(e.Result.Errors, "; "))
}

func raise(result ValidationResult) error {
	if result.Passed {
		return nil
	}
	return &ChainBreakError{Kind: ClassifyBreak(result), Result: result}
}

// MustValidateLineage is ValidateLineage for callers that treat a broken
// lineage as fatal.
func MustValidateLineage(candidate *Record, existing []*Record) error {
	return raise(ValidateLineage(candidate, existing))
}

// MustValidateChain is ValidateChain for callers that treat a broken
// chain as fatal.
func MustValidateChain(proofs []*Record) error {
	return raise(ValidateChain(proofs))
}

// MustValidateNoMutation is ValidateNoMutation for callers that treat a
// mutated proof as fatal.
func MustValidateNoMutation(r *Record, originalContentHash string) error {
	return raise(ValidateNoMutation(r, originalContentHash))
}
