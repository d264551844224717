package inttab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func resetState() {
	table = [MaxInts]*Interrupt{}
	chains = map[int]*Chain{}
	curIPL = IPLLow
	intCount, trapCount, spuriousInts = 0, 0, 0
	controller = nil
	preemptDisableFn, preemptEnableFn, preemptRequestFn = nil, nil, nil
}

func fakeController() *HwIntCtrl {
	next := CPUBaseHwInt
	return &HwIntCtrl{
		BeginInterrupt:   func(int) bool { return false },
		EndInterrupt:     func(int) {},
		EnableInterrupt:  func(int) {},
		DisableInterrupt: func(int) {},
		SetIpl:           func(int) {},
		ConnectInterrupt: func(rec *HwIntRecord) (int, bool) {
			v := next
			next++
			return v, true
		},
		DisconnectInterrupt: func(int) {},
	}
}

func TestInstallExecRejectsHwVector(t *testing.T) {
	resetState()
	err := InstallExec(CPUBaseHwInt, func(*Context) bool { return true })
	require.ErrorIs(t, err, errBadVector)
}

func TestInstallExecDoubleInstall(t *testing.T) {
	resetState()
	require.NoError(t, InstallExec(1, func(*Context) bool { return true }))
	require.ErrorIs(t, InstallExec(1, func(*Context) bool { return true }), errAlreadyInUse)
}

func TestTrapDispatchBadTrapOnEmptyVector(t *testing.T) {
	resetState()
	require.PanicsWithValue(t, errBadTrap, func() {
		TrapDispatch(&Context{Vector: 5})
	})
}

func TestTrapDispatchException(t *testing.T) {
	resetState()
	called := false
	require.NoError(t, InstallExec(1, func(*Context) bool {
		called = true
		return true
	}))
	TrapDispatch(&Context{Vector: 1})
	require.True(t, called)
}

func TestTrapDispatchExceptionUnhandledIsBadTrap(t *testing.T) {
	resetState()
	require.NoError(t, InstallExec(1, func(*Context) bool { return false }))
	require.PanicsWithValue(t, errBadTrap, func() {
		TrapDispatch(&Context{Vector: 1})
	})
}

func TestConnectInterruptSingle(t *testing.T) {
	resetState()
	SetController(fakeController())

	rec := &HwIntRecord{GSI: 10, Mode: ModeLevel, Polarity: PolarityLow, Handler: func() bool { return true }}
	v := ConnectInterrupt(rec)
	require.GreaterOrEqual(t, v, CPUBaseHwInt)
	require.Equal(t, v, rec.Vector)
	require.Zero(t, rec.Flags&Chained)
	require.Equal(t, 1, chains[10].Length)
}

func TestConnectInterruptChainsCompatible(t *testing.T) {
	resetState()
	SetController(fakeController())

	rec1 := &HwIntRecord{GSI: 10, Mode: ModeLevel, Polarity: PolarityLow, Handler: func() bool { return false }}
	rec2 := &HwIntRecord{GSI: 10, Mode: ModeLevel, Polarity: PolarityLow, Handler: func() bool { return true }}

	v1 := ConnectInterrupt(rec1)
	v2 := ConnectInterrupt(rec2)
	require.Equal(t, v1, v2)
	require.Equal(t, 2, chains[10].Length)
	require.NotZero(t, rec1.Flags&Chained)
	require.NotZero(t, rec2.Flags&Chained)
}

func TestConnectInterruptRejectsNonChainable(t *testing.T) {
	resetState()
	SetController(fakeController())

	rec1 := &HwIntRecord{GSI: 10, Mode: ModeLevel, Polarity: PolarityLow, Handler: func() bool { return true }}
	rec2 := &HwIntRecord{GSI: 10, Mode: ModeLevel, Polarity: PolarityLow, Flags: NonChainable, Handler: func() bool { return true }}

	require.GreaterOrEqual(t, ConnectInterrupt(rec1), 0)
	require.Equal(t, -1, ConnectInterrupt(rec2))
	require.Equal(t, 1, chains[10].Length)
}

func TestConnectInterruptRejectsEdgeSharing(t *testing.T) {
	resetState()
	SetController(fakeController())

	rec1 := &HwIntRecord{GSI: 10, Mode: ModeEdge, Polarity: PolarityHigh, Handler: func() bool { return true }}
	rec2 := &HwIntRecord{GSI: 10, Mode: ModeEdge, Polarity: PolarityHigh, Handler: func() bool { return true }}

	require.GreaterOrEqual(t, ConnectInterrupt(rec1), 0)
	require.Equal(t, -1, ConnectInterrupt(rec2))
}

func TestDisconnectInterruptFreesVectorOnEmptyChain(t *testing.T) {
	resetState()
	disconnected := false
	ctrl := fakeController()
	ctrl.DisconnectInterrupt = func(int) { disconnected = true }
	SetController(ctrl)

	rec := &HwIntRecord{GSI: 10, Mode: ModeLevel, Polarity: PolarityLow, Handler: func() bool { return true }}
	ConnectInterrupt(rec)
	DisconnectInterrupt(rec)

	require.True(t, disconnected)
	_, stillThere := chains[10]
	require.False(t, stillThere)
}

func TestTrapDispatchHwIntWalksChain(t *testing.T) {
	resetState()
	SetController(fakeController())

	// ConnectInterrupt pushes to the chain head, so rec2 (connected second)
	// is walked before rec1; rec2 reports "not mine" so the walk continues
	// to rec1, which claims it and stops the chain there.
	var calls []int
	rec1 := &HwIntRecord{GSI: 10, Mode: ModeLevel, Polarity: PolarityLow, IPL: 5, Handler: func() bool {
		calls = append(calls, 1)
		return true
	}}
	rec2 := &HwIntRecord{GSI: 10, Mode: ModeLevel, Polarity: PolarityLow, IPL: 5, Handler: func() bool {
		calls = append(calls, 2)
		return false
	}}
	v := ConnectInterrupt(rec1)
	ConnectInterrupt(rec2)

	entry := &Interrupt{Vector: v, Type: TypeHwInt, Chain: chains[10]}
	table[v] = entry

	TrapDispatch(&Context{Vector: v})
	require.Equal(t, []int{2, 1}, calls)
	require.Equal(t, IPLLow, CurIPL())
}

func TestRaiseLowerIplRoundTrip(t *testing.T) {
	resetState()
	old := RaiseIpl(5)
	require.Equal(t, IPLLow, old)
	require.Equal(t, 5, CurIPL())
	LowerIpl(old)
	require.Equal(t, IPLLow, CurIPL())
}

func TestRaiseIplRejectsLowering(t *testing.T) {
	resetState()
	RaiseIpl(5)
	require.Panics(t, func() { RaiseIpl(3) })
}

func TestPreemptionHooksInvokedAroundHwDispatch(t *testing.T) {
	resetState()
	SetController(fakeController())

	var seq []string
	SetPreemptionHooks(
		func() { seq = append(seq, "disable") },
		func() { seq = append(seq, "enable") },
		func() { seq = append(seq, "request") },
	)

	rec := &HwIntRecord{GSI: 10, Mode: ModeLevel, Polarity: PolarityLow, Handler: func() bool {
		seq = append(seq, "handle")
		return true
	}}
	v := ConnectInterrupt(rec)
	table[v] = &Interrupt{Vector: v, Type: TypeHwInt, Chain: chains[10]}

	TrapDispatch(&Context{Vector: v})
	require.Equal(t, []string{"disable", "handle", "request", "enable"}, seq)
}
