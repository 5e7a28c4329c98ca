package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetArgs(args)
	require.NoError(t, RootCmd.Execute())
	return out.String()
}

func TestVersion(t *testing.T) {
	assert.Regexp(t, `^tiny-rpc v\d+\.\d+\.\d+\n$`, run(t, "version"))
}

func TestMethods(t *testing.T) {
	assert.Equal(t, "add(a, b)\necho(*args, **kwargs)\nfail(msg)\nsub(a, b)\nupper(s)\n", run(t, "methods"))
}
