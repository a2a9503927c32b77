package helpers

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))

	single := errors.NotValidf("only one")
	assert.Equal(t, single, FoldErrors([]error{nil, single, nil}))

	// a percent sign in a message must survive folding verbatim
	folded := FoldErrors([]error{
		errors.Errorf("first"),
		errors.Errorf("load at 100%%"),
	})
	require.Error(t, folded)
	assert.Equal(t, "first\nload at 100%", folded.Error())
}
