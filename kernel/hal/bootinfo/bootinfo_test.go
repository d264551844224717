package bootinfo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgsKeyValue(t *testing.T) {
	a := ParseArgs("root=/dev/sda1 quiet loglevel=3")

	v, ok := a.Lookup("root")
	require.True(t, ok)
	require.Equal(t, "/dev/sda1", v)

	v, ok = a.Lookup("loglevel")
	require.True(t, ok)
	require.Equal(t, "3", v)

	require.True(t, a.Has("quiet"))
	v, ok = a.Lookup("quiet")
	require.True(t, ok)
	require.Empty(t, v)
}

func TestParseArgsMissingKey(t *testing.T) {
	a := ParseArgs("quiet")
	_, ok := a.Lookup("root")
	require.False(t, ok)
}

func TestParseArgsEmpty(t *testing.T) {
	a := ParseArgs("")
	require.False(t, a.Has("anything"))
}

func TestParseArgsNoQuoting(t *testing.T) {
	// A value is terminated by the next space unconditionally; there is no
	// quoting mechanism to embed one.
	a := ParseArgs(`label="my disk" next=1`)
	v, _ := a.Lookup("label")
	require.Equal(t, `"my`, v)
	v, ok := a.Lookup("next")
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestArchComponentsAccumulate(t *testing.T) {
	var arch ArchComponents
	arch.PltAddCpu(CPUDescriptor{APICID: 0, BootCPU: true, Enabled: true})
	arch.PltAddIntCtrl(IntCtrlDescriptor{ID: 0, GSIBase: 0})
	arch.PltAddInterrupt(IntOverride{SourceIRQ: 0, GSI: 2})

	require.Len(t, arch.CPUs, 1)
	require.Len(t, arch.IntCtrls, 1)
	require.Len(t, arch.Overrides, 1)
	require.Equal(t, 2, arch.Overrides[0].GSI)
}
