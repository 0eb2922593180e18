package segmentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scalarParams(values ...float32) []Parameter {
	return []Parameter{{Name: "w", Shape: []int{len(values)}, Data: values}}
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	params := scalarParams(1, -1)
	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0.1
	opt := NewAdam(cfg, params)

	require.NoError(t, opt.Step(params, [][]float32{{0.5, -2}}))
	assert.InDelta(t, 0.9, params[0].Data[0], 1e-5)
	assert.InDelta(t, -0.9, params[0].Data[1], 1e-5)
}

func TestSGDMomentum(t *testing.T) {
	params := scalarParams(1)
	opt := NewSGD(SGDConfig{LearningRate: 0.1, Momentum: 0.9}, params)

	require.NoError(t, opt.Step(params, [][]float32{{1}}))
	assert.InDelta(t, 0.9, params[0].Data[0], 1e-6)
	// Velocity is now 0.9*1 + 1.
	require.NoError(t, opt.Step(params, [][]float32{{1}}))
	assert.InDelta(t, 0.71, params[0].Data[0], 1e-6)
}

func TestSetLR(t *testing.T) {
	params := scalarParams(1)
	for _, opt := range []Optimizer{
		NewAdam(DefaultAdamConfig(), params),
		NewSGD(SGDConfig{LearningRate: 0.1}, params),
	} {
		opt.SetLR(0.25)
		assert.Equal(t, 0.25, opt.LR())
		assert.Equal(t, 0.25, opt.State().Parameters["lr"])
	}
}

func TestStepRejectsMismatchedGradients(t *testing.T) {
	params := scalarParams(1, 2)
	opt := NewAdam(DefaultAdamConfig(), params)
	assert.Error(t, opt.Step(params, [][]float32{{1}}))
	assert.Error(t, opt.Step(params, nil))
}

func TestAdamStateRoundTrip(t *testing.T) {
	params := scalarParams(1, 2)
	opt := NewAdam(DefaultAdamConfig(), params)
	require.NoError(t, opt.Step(params, [][]float32{{0.1, 0.2}}))
	require.NoError(t, opt.Step(params, [][]float32{{0.3, -0.2}}))
	state := opt.State()
	assert.Equal(t, int64(2), state.Step)

	// A restored optimizer takes the same next step as the original.
	restoredParams := scalarParams(params[0].Data[0], params[0].Data[1])
	restored := NewAdam(DefaultAdamConfig(), restoredParams)
	require.NoError(t, restored.LoadState(state))

	grad := [][]float32{{-0.5, 0.5}}
	require.NoError(t, opt.Step(params, grad))
	require.NoError(t, restored.Step(restoredParams, grad))
	assert.Equal(t, params[0].Data, restoredParams[0].Data)
}

func TestSGDStateRoundTrip(t *testing.T) {
	params := scalarParams(1)
	opt := NewSGD(SGDConfig{LearningRate: 0.1, Momentum: 0.5, WeightDecay: 0.01}, params)
	require.NoError(t, opt.Step(params, [][]float32{{1}}))

	restored := NewSGD(SGDConfig{}, scalarParams(0))
	require.NoError(t, restored.LoadState(opt.State()))
	assert.Equal(t, opt.State(), restored.State())
}

func TestLoadStateRejectsWrongType(t *testing.T) {
	params := scalarParams(1)
	adam := NewAdam(DefaultAdamConfig(), params)
	sgd := NewSGD(SGDConfig{LearningRate: 0.1}, params)

	assert.Error(t, adam.LoadState(sgd.State()))
	assert.Error(t, sgd.LoadState(adam.State()))
}

func TestLoadStateRejectsMissingBuffer(t *testing.T) {
	params := scalarParams(1)
	state := NewAdam(DefaultAdamConfig(), params).State()
	state.StateData = state.StateData[:1]

	assert.Error(t, NewAdam(DefaultAdamConfig(), params).LoadState(state))
}
