package checkpoints

import (
	"encoding/json"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tsawler/segtrain/metrics"
)

func encodeJSON(checkpoint *Checkpoint) ([]byte, error) {
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal checkpoint")
	}
	return append(data, '\n'), nil
}

func decodeJSON(data []byte) (*Checkpoint, error) {
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	return &checkpoint, nil
}

// encodeProto stores the checkpoint as a binary google.protobuf.Struct. The
// struct mirrors the JSON document field for field, so both formats share one
// schema and one SchemaVersion.
func encodeProto(checkpoint *Checkpoint) ([]byte, error) {
	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal checkpoint")
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, "failed to flatten checkpoint")
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build checkpoint struct")
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal checkpoint proto")
	}
	return data, nil
}

func decodeProto(data []byte) (*Checkpoint, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal checkpoint proto")
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, errors.Wrap(err, "failed to re-encode checkpoint proto")
	}
	return decodeJSON(raw)
}

// The JSON forms below carry every float through metrics.Float or
// metrics.Float32 so diverged weights and NaN losses still encode.

type weightTensorJSON struct {
	Name  string            `json:"name"`
	Shape []int             `json:"shape"`
	Data  []metrics.Float32 `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (w WeightTensor) MarshalJSON() ([]byte, error) {
	return json.Marshal(weightTensorJSON{
		Name:  w.Name,
		Shape: w.Shape,
		Data:  metrics.ConvertFloats[metrics.Float32](w.Data),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *WeightTensor) UnmarshalJSON(data []byte) error {
	var raw weightTensorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*w = WeightTensor{Name: raw.Name, Shape: raw.Shape, Data: metrics.ConvertFloats[float32](raw.Data)}
	return nil
}

type optimizerTensorJSON struct {
	Name      string            `json:"name"`
	Shape     []int             `json:"shape"`
	Data      []metrics.Float32 `json:"data"`
	StateType string            `json:"state_type"`
}

// MarshalJSON implements json.Marshaler.
func (t OptimizerTensor) MarshalJSON() ([]byte, error) {
	return json.Marshal(optimizerTensorJSON{
		Name:      t.Name,
		Shape:     t.Shape,
		Data:      metrics.ConvertFloats[metrics.Float32](t.Data),
		StateType: t.StateType,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *OptimizerTensor) UnmarshalJSON(data []byte) error {
	var raw optimizerTensorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = OptimizerTensor{
		Name:      raw.Name,
		Shape:     raw.Shape,
		Data:      metrics.ConvertFloats[float32](raw.Data),
		StateType: raw.StateType,
	}
	return nil
}

type optimizerStateJSON struct {
	Type       string                   `json:"type"`
	Parameters map[string]metrics.Float `json:"parameters"`
	Step       int64                    `json:"step"`
	StateData  []OptimizerTensor        `json:"state_data"`
}

// MarshalJSON implements json.Marshaler.
func (s OptimizerState) MarshalJSON() ([]byte, error) {
	var params map[string]metrics.Float
	if s.Parameters != nil {
		params = make(map[string]metrics.Float, len(s.Parameters))
		for k, v := range s.Parameters {
			params[k] = metrics.Float(v)
		}
	}
	return json.Marshal(optimizerStateJSON{
		Type:       s.Type,
		Parameters: params,
		Step:       s.Step,
		StateData:  s.StateData,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *OptimizerState) UnmarshalJSON(data []byte) error {
	var raw optimizerStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var params map[string]float64
	if raw.Parameters != nil {
		params = make(map[string]float64, len(raw.Parameters))
		for k, v := range raw.Parameters {
			params[k] = float64(v)
		}
	}
	*s = OptimizerState{Type: raw.Type, Parameters: params, Step: raw.Step, StateData: raw.StateData}
	return nil
}

type trainingStateJSON struct {
	LearningRate metrics.Float     `json:"learning_rate"`
	Best         metrics.BestScore `json:"best"`
}

// MarshalJSON implements json.Marshaler.
func (s TrainingState) MarshalJSON() ([]byte, error) {
	return json.Marshal(trainingStateJSON{LearningRate: metrics.Float(s.LearningRate), Best: s.Best})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *TrainingState) UnmarshalJSON(data []byte) error {
	var raw trainingStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = TrainingState{LearningRate: float64(raw.LearningRate), Best: raw.Best}
	return nil
}
