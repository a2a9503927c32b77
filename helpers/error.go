package helpers

import (
	"strings"

	"github.com/juju/errors"
)

// FoldErrors flattens a collection of optional errors into one. Nils
// are skipped; a single error passes through unchanged.
func FoldErrors(errs []error) error {
	folded := errs[:0:0]
	for _, e := range errs {
		if e != nil {
			folded = append(folded, e)
		}
	}
	switch len(folded) {
	case 0:
		return nil
	case 1:
		return folded[0]
	}
	ss := make([]string, len(folded))
	for i, e := range folded {
		ss[i] = e.Error()
	}
	return errors.Errorf("%s", strings.Join(ss, "\n"))
}
