package segmentation

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tsawler/segtrain/checkpoints"
	"github.com/tsawler/segtrain/training"
)

// Optimizer applies gradients to model parameters.
type Optimizer interface {
	training.Optimizer
	// Step updates params in place. grads is laid out like params.
	Step(params []Parameter, grads [][]float32) error
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Adam implements Adam with L2 weight decay added to the gradient.
type Adam struct {
	cfg   AdamConfig
	specs []Parameter
	m     [][]float32
	v     [][]float32
	step  int64
}

// NewAdam creates an Adam optimizer for params.
func NewAdam(cfg AdamConfig, params []Parameter) *Adam {
	return &Adam{
		cfg:   cfg,
		specs: params,
		m:     zerosLike(params),
		v:     zerosLike(params),
	}
}

func zerosLike(params []Parameter) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		out[i] = make([]float32, len(p.Data))
	}
	return out
}

func (a *Adam) LR() float64      { return a.cfg.LearningRate }
func (a *Adam) SetLR(lr float64) { a.cfg.LearningRate = lr }

// Step performs a single optimization step
func (a *Adam) Step(params []Parameter, grads [][]float32) error {
	if err := checkGrads(a.specs, params, grads); err != nil {
		return err
	}
	a.step++
	bc1 := 1 - math.Pow(a.cfg.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.cfg.Beta2, float64(a.step))
	stepSize := a.cfg.LearningRate / bc1

	for i, p := range params {
		m, v, g := a.m[i], a.v[i], grads[i]
		for j := range p.Data {
			grad := float64(g[j]) + a.cfg.WeightDecay*float64(p.Data[j])
			m[j] = float32(a.cfg.Beta1*float64(m[j]) + (1-a.cfg.Beta1)*grad)
			v[j] = float32(a.cfg.Beta2*float64(v[j]) + (1-a.cfg.Beta2)*grad*grad)
			denom := math.Sqrt(float64(v[j])/bc2) + a.cfg.Epsilon
			p.Data[j] -= float32(stepSize * float64(m[j]) / denom)
		}
	}
	return nil
}

// State exports hyperparameters, step count and moment buffers.
func (a *Adam) State() checkpoints.OptimizerState {
	state := checkpoints.OptimizerState{
		Type: "adam",
		Parameters: map[string]float64{
			"lr":           a.cfg.LearningRate,
			"beta1":        a.cfg.Beta1,
			"beta2":        a.cfg.Beta2,
			"eps":          a.cfg.Epsilon,
			"weight_decay": a.cfg.WeightDecay,
		},
		Step: a.step,
	}
	for i, p := range a.specs {
		state.StateData = append(state.StateData,
			checkpoints.OptimizerTensor{Name: p.Name, Shape: p.Shape, Data: append([]float32(nil), a.m[i]...), StateType: "m"},
			checkpoints.OptimizerTensor{Name: p.Name, Shape: p.Shape, Data: append([]float32(nil), a.v[i]...), StateType: "v"},
		)
	}
	return state
}

// LoadState restores a state exported by State.
func (a *Adam) LoadState(state checkpoints.OptimizerState) error {
	if state.Type != "adam" {
		return errors.Errorf("cannot load %q optimizer state into adam", state.Type)
	}
	m, err := restoreBuffers(a.specs, state.StateData, "m")
	if err != nil {
		return err
	}
	v, err := restoreBuffers(a.specs, state.StateData, "v")
	if err != nil {
		return err
	}
	a.m, a.v, a.step = m, v, state.Step
	setIfPresent(state.Parameters, "lr", &a.cfg.LearningRate)
	setIfPresent(state.Parameters, "beta1", &a.cfg.Beta1)
	setIfPresent(state.Parameters, "beta2", &a.cfg.Beta2)
	setIfPresent(state.Parameters, "eps", &a.cfg.Epsilon)
	setIfPresent(state.Parameters, "weight_decay", &a.cfg.WeightDecay)
	return nil
}

// SGDConfig holds configuration for SGD.
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
}

// SGD implements stochastic gradient descent with momentum.
type SGD struct {
	cfg        SGDConfig
	specs      []Parameter
	velocities [][]float32
	step       int64
}

// NewSGD creates an SGD optimizer for params.
func NewSGD(cfg SGDConfig, params []Parameter) *SGD {
	return &SGD{cfg: cfg, specs: params, velocities: zerosLike(params)}
}

func (s *SGD) LR() float64      { return s.cfg.LearningRate }
func (s *SGD) SetLR(lr float64) { s.cfg.LearningRate = lr }

// Step performs a single optimization step
func (s *SGD) Step(params []Parameter, grads [][]float32) error {
	if err := checkGrads(s.specs, params, grads); err != nil {
		return err
	}
	s.step++
	for i, p := range params {
		vel, g := s.velocities[i], grads[i]
		for j := range p.Data {
			grad := float64(g[j]) + s.cfg.WeightDecay*float64(p.Data[j])
			if s.cfg.Momentum > 0 {
				vel[j] = float32(s.cfg.Momentum*float64(vel[j]) + grad)
				grad = float64(vel[j])
			}
			p.Data[j] -= float32(s.cfg.LearningRate * grad)
		}
	}
	return nil
}

// State exports hyperparameters, step count and velocities.
func (s *SGD) State() checkpoints.OptimizerState {
	state := checkpoints.OptimizerState{
		Type: "sgd",
		Parameters: map[string]float64{
			"lr":           s.cfg.LearningRate,
			"momentum":     s.cfg.Momentum,
			"weight_decay": s.cfg.WeightDecay,
		},
		Step: s.step,
	}
	for i, p := range s.specs {
		state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
			Name: p.Name, Shape: p.Shape, Data: append([]float32(nil), s.velocities[i]...), StateType: "velocity",
		})
	}
	return state
}

// LoadState restores a state exported by State.
func (s *SGD) LoadState(state checkpoints.OptimizerState) error {
	if state.Type != "sgd" {
		return errors.Errorf("cannot load %q optimizer state into sgd", state.Type)
	}
	vel, err := restoreBuffers(s.specs, state.StateData, "velocity")
	if err != nil {
		return err
	}
	s.velocities, s.step = vel, state.Step
	setIfPresent(state.Parameters, "lr", &s.cfg.LearningRate)
	setIfPresent(state.Parameters, "momentum", &s.cfg.Momentum)
	setIfPresent(state.Parameters, "weight_decay", &s.cfg.WeightDecay)
	return nil
}

func checkGrads(specs, params []Parameter, grads [][]float32) error {
	if len(params) != len(specs) || len(grads) != len(specs) {
		return errors.Errorf("expected %d parameters and gradients, got %d and %d",
			len(specs), len(params), len(grads))
	}
	for i, p := range params {
		if len(p.Data) != len(specs[i].Data) || len(grads[i]) != len(p.Data) {
			return errors.Errorf("gradient size mismatch for %s", p.Name)
		}
	}
	return nil
}

func restoreBuffers(specs []Parameter, data []checkpoints.OptimizerTensor, stateType string) ([][]float32, error) {
	byName := make(map[string]checkpoints.OptimizerTensor)
	for _, t := range data {
		if t.StateType == stateType {
			byName[t.Name] = t
		}
	}
	out := make([][]float32, len(specs))
	for i, p := range specs {
		t, ok := byName[p.Name]
		if !ok {
			return nil, errors.Errorf("optimizer state has no %q buffer for %s", stateType, p.Name)
		}
		if len(t.Data) != len(p.Data) {
			return nil, errors.Errorf("optimizer %q buffer for %s has %d values, expected %d",
				stateType, p.Name, len(t.Data), len(p.Data))
		}
		out[i] = append([]float32(nil), t.Data...)
	}
	return out, nil
}

func setIfPresent(params map[string]float64, key string, dst *float64) {
	if v, ok := params[key]; ok {
		*dst = v
	}
}
